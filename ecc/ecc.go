// Package ecc declares the elliptic-curve backend interface the engine
// depends on (§6) and a default secp256k1 implementation. The interface
// exists so the factory (package descriptors) can be built against any
// conforming backend; arithmetic itself is treated as an external
// collaborator and is never reimplemented here.
package ecc

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// ErrInvalidPoint is returned when a byte string is not a valid
// secp256k1 curve point in the encoding the caller claimed.
var ErrInvalidPoint = errors.New("ecc: invalid point")

// Backend is the capability set required of an elliptic-curve
// collaborator (§6): point validation, scalar-to-point, compression,
// x-only tweak addition (for taproot output-key tweaking), and
// sign/verify over secp256k1 with Schnorr available for taproot.
type Backend interface {
	// IsPoint reports whether b is a valid compressed (33-byte),
	// uncompressed (65-byte), or x-only (32-byte) curve point.
	IsPoint(b []byte) bool
	// IsPrivate reports whether b is a valid 32-byte private scalar.
	IsPrivate(b []byte) bool
	// PointFromScalar returns the compressed public point for a private
	// scalar.
	PointFromScalar(scalar []byte) ([]byte, error)
	// PointCompress normalizes any valid point encoding to 33-byte
	// compressed form.
	PointCompress(point []byte) ([]byte, error)
	// XOnlyPointAddTweak adds tweak*G to the x-only point internalKey,
	// returning the resulting x-only point and the parity bit of its
	// full point (0 or 1), as BIP341 output-key tweaking requires.
	XOnlyPointAddTweak(internalKey, tweak []byte) (outputKey []byte, parity int, err error)
	// Sign produces an ECDSA signature over msgHash (already hashed)
	// using the 32-byte private scalar.
	Sign(msgHash, privScalar []byte) ([]byte, error)
	// Verify checks an ECDSA signature against a compressed or
	// uncompressed pubkey.
	Verify(msgHash, pubKey, sig []byte) bool
	// SchnorrSign produces a BIP340 Schnorr signature using the 32-byte
	// private scalar.
	SchnorrSign(msgHash, privScalar []byte) ([]byte, error)
	// SchnorrVerify checks a BIP340 Schnorr signature against a 32-byte
	// x-only pubkey.
	SchnorrVerify(msgHash, xOnlyPubKey, sig []byte) bool
}

// Default is the secp256k1 backend built on btcec/v2, the same curve
// library the rest of this engine uses for key parsing.
type Default struct{}

var _ Backend = Default{}

func (Default) IsPoint(b []byte) bool {
	_, err := btcec.ParsePubKey(normalizeForParse(b))
	return err == nil
}

func (Default) IsPrivate(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	var scalar btcec.ModNScalar
	overflow := scalar.SetByteSlice(b)
	return !overflow && !scalar.IsZero()
}

func (Default) PointFromScalar(scalar []byte) ([]byte, error) {
	priv, _ := btcec.PrivKeyFromBytes(scalar)
	if priv == nil {
		return nil, fmt.Errorf("%w: invalid scalar", ErrInvalidPoint)
	}
	return priv.PubKey().SerializeCompressed(), nil
}

func (Default) PointCompress(point []byte) ([]byte, error) {
	pub, err := btcec.ParsePubKey(normalizeForParse(point))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	return pub.SerializeCompressed(), nil
}

func (Default) XOnlyPointAddTweak(internalKey, tweak []byte) ([]byte, int, error) {
	if len(internalKey) != 32 {
		return nil, 0, fmt.Errorf("%w: internal key must be x-only", ErrInvalidPoint)
	}
	if len(tweak) != 32 {
		return nil, 0, fmt.Errorf("ecc: tweak must be 32 bytes")
	}
	pub, err := schnorr.ParsePubKey(internalKey)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	curve := btcec.S256()
	px := new(big.Int).SetBytes(pub.SerializeUncompressed()[1:33])
	py := new(big.Int).SetBytes(pub.SerializeUncompressed()[33:])
	tx, ty := curve.ScalarBaseMult(tweak)
	sumX, sumY := curve.Add(px, py, tx, ty)
	compressed := make([]byte, 33)
	if sumY.Bit(0) == 0 {
		compressed[0] = 0x02
	} else {
		compressed[0] = 0x03
	}
	sumX.FillBytes(compressed[1:])
	parity := int(sumY.Bit(0))
	return compressed[1:], parity, nil
}

func (Default) Sign(msgHash, privScalar []byte) ([]byte, error) {
	priv, _ := btcec.PrivKeyFromBytes(privScalar)
	if priv == nil {
		return nil, fmt.Errorf("%w: invalid private scalar", ErrInvalidPoint)
	}
	sig := ecdsa.Sign(priv, msgHash)
	return sig.Serialize(), nil
}

func (Default) Verify(msgHash, pubKey, sig []byte) bool {
	pub, err := btcec.ParsePubKey(normalizeForParse(pubKey))
	if err != nil {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(msgHash, pub)
}

func (Default) SchnorrSign(msgHash, privScalar []byte) ([]byte, error) {
	priv, _ := btcec.PrivKeyFromBytes(privScalar)
	if priv == nil {
		return nil, fmt.Errorf("%w: invalid private scalar", ErrInvalidPoint)
	}
	sig, err := schnorr.Sign(priv, msgHash)
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

func (Default) SchnorrVerify(msgHash, xOnlyPubKey, sig []byte) bool {
	pub, err := schnorr.ParsePubKey(xOnlyPubKey)
	if err != nil {
		return false
	}
	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(msgHash, pub)
}

func normalizeForParse(b []byte) []byte {
	if len(b) == 32 {
		return append([]byte{0x02}, b...)
	}
	return b
}

// HashSHA256 is a convenience wrapper used by callers that need to hash
// a sighash preimage before calling Sign/Verify.
func HashSHA256(b []byte) [32]byte {
	return sha256.Sum256(b)
}
