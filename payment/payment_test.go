package payment

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
)

const testPubKey = "02c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5"

func TestP2PKH(t *testing.T) {
	pub, _ := hex.DecodeString(testPubKey)
	p, err := P2PKH(pub, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.ScriptPubKey) != 25 {
		t.Fatalf("got %d-byte script, want 25", len(p.ScriptPubKey))
	}
	if p.Address == "" {
		t.Fatal("expected an address")
	}
}

func TestP2WPKHRejectsUncompressed(t *testing.T) {
	uncompressed := make([]byte, 65)
	if _, err := P2WPKH(uncompressed, &chaincfg.MainNetParams); err == nil {
		t.Fatal("expected an error for an uncompressed key")
	}
}

func TestP2SHWrapsP2WPKH(t *testing.T) {
	pub, _ := hex.DecodeString(testPubKey)
	inner, err := P2WPKH(pub, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	outer, err := P2SH(inner.ScriptPubKey, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	if len(outer.ScriptPubKey) != 23 {
		t.Fatalf("got %d-byte script, want 23", len(outer.ScriptPubKey))
	}
}

func TestDecodeAddressRoundTrips(t *testing.T) {
	pub, _ := hex.DecodeString(testPubKey)
	built, err := P2WPKH(pub, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeAddress(built.Address, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(decoded.ScriptPubKey) != hex.EncodeToString(built.ScriptPubKey) {
		t.Fatalf("got %x, want %x", decoded.ScriptPubKey, built.ScriptPubKey)
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("not-an-address", &chaincfg.MainNetParams); err == nil {
		t.Fatal("expected an error")
	}
}
