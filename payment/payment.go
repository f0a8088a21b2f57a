// Package payment builds the scriptPubKey/address pairs (and, for the
// wrapped shells, the nested redeem payment) that a descriptor's outer
// shell resolves to — the payment/address collaborator of §6, grounded
// on the teacher's address derivation (address/address.go), generalized
// from "derive an address at an index" to "build every standard payment
// form the descriptor grammar can produce."
package payment

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Payment is a locking script together with its address (when one
// exists) and, for a wrapped shell such as sh(wpkh(...)), the inner
// payment it wraps.
type Payment struct {
	ScriptPubKey []byte
	Address      string
	Redeem       *Payment
}

// ErrUnknownPayment is returned when a scriptPubKey does not match any
// of the standard payment forms this package recognizes.
var ErrUnknownPayment = errors.New("payment: not a recognized payment form")

// P2PK builds a pay-to-pubkey payment. pubkey may be 33 (compressed) or
// 65 (uncompressed) bytes.
func P2PK(pubkey []byte, network *chaincfg.Params) (*Payment, error) {
	pk, err := btcec.ParsePubKey(pubkey)
	if err != nil {
		return nil, fmt.Errorf("payment: invalid pubkey: %w", err)
	}
	script, err := txscript.NewScriptBuilder().
		AddData(pk.SerializeCompressed()).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, err
	}
	return &Payment{ScriptPubKey: script}, nil
}

// P2PKH builds a pay-to-pubkey-hash payment.
func P2PKH(pubkey []byte, network *chaincfg.Params) (*Payment, error) {
	hash := btcutil.Hash160(pubkey)
	addr, err := btcutil.NewAddressPubKeyHash(hash, network)
	if err != nil {
		return nil, fmt.Errorf("payment: %w", err)
	}
	return fromAddress(addr)
}

// P2WPKH builds a native segwit v0 pay-to-witness-pubkey-hash payment.
// pubkey must already be 33-byte compressed (callers enforce this via
// keyexpr.ContextSegwitV0, which rejects uncompressed keys at parse
// time).
func P2WPKH(pubkey []byte, network *chaincfg.Params) (*Payment, error) {
	if len(pubkey) != 33 {
		return nil, fmt.Errorf("payment: wpkh requires a compressed key, got %d bytes", len(pubkey))
	}
	hash := btcutil.Hash160(pubkey)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, network)
	if err != nil {
		return nil, fmt.Errorf("payment: %w", err)
	}
	return fromAddress(addr)
}

// P2SH wraps an arbitrary redeem script in a pay-to-script-hash payment.
func P2SH(redeemScript []byte, network *chaincfg.Params) (*Payment, error) {
	addr, err := btcutil.NewAddressScriptHash(redeemScript, network)
	if err != nil {
		return nil, fmt.Errorf("payment: %w", err)
	}
	return fromAddress(addr)
}

// P2WSH wraps an arbitrary witness script in a native segwit v0
// pay-to-witness-script-hash payment.
func P2WSH(witnessScript []byte, network *chaincfg.Params) (*Payment, error) {
	hash := sha256.Sum256(witnessScript)
	addr, err := btcutil.NewAddressWitnessScriptHash(hash[:], network)
	if err != nil {
		return nil, fmt.Errorf("payment: %w", err)
	}
	return fromAddress(addr)
}

// P2TR builds a taproot key-path-only payment from an x-only internal
// key (32 bytes), for callers that derive taproot outputs directly. The
// addr() decode trial does not use it: DecodeAddress matches taproot
// addresses by their decoded btcutil type.
func P2TR(xOnlyPubKey []byte, network *chaincfg.Params) (*Payment, error) {
	pub, err := schnorr.ParsePubKey(xOnlyPubKey)
	if err != nil {
		return nil, fmt.Errorf("payment: invalid x-only pubkey: %w", err)
	}
	outputKey := txscript.ComputeTaprootKeyNoScript(pub)
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), network)
	if err != nil {
		return nil, fmt.Errorf("payment: %w", err)
	}
	return fromAddress(addr)
}

func fromAddress(addr btcutil.Address) (*Payment, error) {
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("payment: %w", err)
	}
	return &Payment{ScriptPubKey: script, Address: addr.String()}, nil
}

// DecodeAddress decodes addr under network and reports the resulting
// payment. It trial-parses, in order, p2pkh, p2sh, p2wpkh, p2wsh, and
// p2tr, keeping the last successful parse — the dispatch order §4.5/§9
// specifies for addr(...), since the payment forms are mutually
// exclusive and the ordering only matters for diagnostics, never for
// correctness.
func DecodeAddress(addr string, network *chaincfg.Params) (*Payment, error) {
	a, err := btcutil.DecodeAddress(addr, network)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownPayment, addr, err)
	}
	var last *Payment
	var lastErr error
	for _, try := range []func() (*Payment, error){
		func() (*Payment, error) { return fromTypedAddress[*btcutil.AddressPubKeyHash](a) },
		func() (*Payment, error) { return fromTypedAddress[*btcutil.AddressScriptHash](a) },
		func() (*Payment, error) { return fromTypedAddress[*btcutil.AddressWitnessPubKeyHash](a) },
		func() (*Payment, error) { return fromTypedAddress[*btcutil.AddressWitnessScriptHash](a) },
		func() (*Payment, error) { return fromTypedAddress[*btcutil.AddressTaproot](a) },
	} {
		p, err := try()
		if err == nil {
			last = p
			lastErr = nil
			continue
		}
		if lastErr == nil && last == nil {
			lastErr = err
		}
	}
	if last == nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownPayment, addr, lastErr)
	}
	return last, nil
}

func fromTypedAddress[T btcutil.Address](a btcutil.Address) (*Payment, error) {
	typed, ok := a.(T)
	if !ok {
		return nil, ErrUnknownPayment
	}
	return fromAddress(typed)
}
