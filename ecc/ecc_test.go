package ecc

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestPointFromScalarAndVerify(t *testing.T) {
	scalar, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000001")
	scalar = scalar[len(scalar)-32:]
	var be Default
	pub, err := be.PointFromScalar(scalar)
	if err != nil {
		t.Fatal(err)
	}
	if !be.IsPoint(pub) {
		t.Fatal("derived point should be valid")
	}
	if !be.IsPrivate(scalar) {
		t.Fatal("scalar should be a valid private key")
	}
	msg := HashSHA256([]byte("hello"))
	sig, err := be.Sign(msg[:], scalar)
	if err != nil {
		t.Fatal(err)
	}
	if !be.Verify(msg[:], pub, sig) {
		t.Fatal("signature should verify")
	}
}

func TestSchnorrSignVerify(t *testing.T) {
	scalar, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000002")
	var be Default
	pub, err := be.PointFromScalar(scalar)
	if err != nil {
		t.Fatal(err)
	}
	xOnly := pub[1:]
	msg := HashSHA256([]byte("taproot"))
	sig, err := be.SchnorrSign(msg[:], scalar)
	if err != nil {
		t.Fatal(err)
	}
	if !be.SchnorrVerify(msg[:], xOnly, sig) {
		t.Fatal("schnorr signature should verify")
	}
}

func TestIsPointRejectsGarbage(t *testing.T) {
	var be Default
	if be.IsPoint(bytes.Repeat([]byte{0xff}, 33)) {
		t.Fatal("expected invalid point to be rejected")
	}
}

func TestXOnlyPointAddTweak(t *testing.T) {
	scalar, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000003")
	var be Default
	pub, err := be.PointFromScalar(scalar)
	if err != nil {
		t.Fatal(err)
	}
	tweak := make([]byte, 32)
	tweak[31] = 1
	out, parity, err := be.XOnlyPointAddTweak(pub[1:], tweak)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 32 {
		t.Fatalf("got %d-byte output key, want 32", len(out))
	}
	if parity != 0 && parity != 1 {
		t.Fatalf("got parity %d, want 0 or 1", parity)
	}
}
