package output

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcdesc/descriptors/keyexpr"
	"github.com/btcdesc/descriptors/miniscript"
)

// fakeEngine is a canned Compiler+Satisfier, enough to exercise Output
// without a real miniscript compiler/satisfier.
type fakeEngine struct {
	script []byte
	sat    *miniscript.Satisfaction
	err    error
}

func (f fakeEngine) Compile(string, *keyexpr.ExpansionMap) ([]byte, error) {
	return f.script, f.err
}

func (f fakeEngine) Satisfy(string, *keyexpr.ExpansionMap, []miniscript.Signature, []miniscript.Preimage, *miniscript.TimeConstraints) (*miniscript.Satisfaction, error) {
	return f.sat, f.err
}

const testKey = "02c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5"

func TestNewPKH(t *testing.T) {
	o, err := New(Config{
		Descriptor: "pkh(" + testKey + ")",
		Network:    &chaincfg.MainNetParams,
	}, fakeEngine{})
	if err != nil {
		t.Fatal(err)
	}
	if len(o.GetScriptPubKey()) != 25 {
		t.Fatalf("unexpected scriptPubKey length %d", len(o.GetScriptPubKey()))
	}
	if segwit, known := o.IsSegwit(); !known || segwit {
		t.Fatalf("pkh must be known non-segwit, got known=%v segwit=%v", known, segwit)
	}
	if _, ok := o.GetSequence(); ok {
		t.Fatal("non-miniscript output should have no defined sequence")
	}
	if _, ok := o.GetWitnessScript(); ok {
		t.Fatal("pkh has no witness script")
	}
}

func TestNewRangedWithoutIndexFails(t *testing.T) {
	const expr = "wpkh([d34db33f/84'/0'/0']xpub6ERApfZwUNrhLCkDtcHTcxd75RbzS1ed54G1LkBUHQVHQKqhMkhgbmJbZRkrgZw4koxb5JaHWkY4ALHY2grBGRjaDMzQLcgJvLJuZZvRcEL/0/*)"
	_, err := New(Config{Descriptor: expr, Network: &chaincfg.MainNetParams}, fakeEngine{})
	if err == nil {
		t.Fatal("expected an error: ranged descriptor with no index has no payment")
	}
}

func TestUpdatePsbtAsInputAndOutput(t *testing.T) {
	o, err := New(Config{
		Descriptor: "pkh(" + testKey + ")",
		Network:    &chaincfg.MainNetParams,
	}, fakeEngine{})
	if err != nil {
		t.Fatal(err)
	}
	tx := wire.NewMsgTx(2)
	p, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatal(err)
	}
	finalizer, warning, err := o.UpdatePsbtAsInput(UpdateAsInputRequest{
		Packet: p,
		TxID:   "0101010101010101010101010101010101010101010101010101010101010101",
		Vout:   0,
		Value:  100000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if warning == "" {
		t.Fatal("expected a warning when txHex is omitted")
	}
	o.UpdatePsbtAsOutput(p, 99000)
	if len(p.UnsignedTx.TxOut) != 1 {
		t.Fatalf("got %d outputs, want 1", len(p.UnsignedTx.TxOut))
	}
	if err := finalizer(p, false, nil); err == nil {
		t.Fatal("expected ErrMissingSignatures: no partialSig recorded")
	}
}

// inconsistentEngine simulates a buggy satisfier whose chosen spending
// path differs between the fake-signature pass and the real pass,
// returning a different nSequence each time it is called.
type inconsistentEngine struct {
	script []byte
	calls  *int
}

func (e inconsistentEngine) Compile(string, *keyexpr.ExpansionMap) ([]byte, error) {
	return e.script, nil
}

func (e inconsistentEngine) Satisfy(string, *keyexpr.ExpansionMap, []miniscript.Signature, []miniscript.Preimage, *miniscript.TimeConstraints) (*miniscript.Satisfaction, error) {
	*e.calls++
	if *e.calls == 1 {
		return &miniscript.Satisfaction{TimeConstraints: miniscript.TimeConstraints{Sequence: 144}}, nil
	}
	return &miniscript.Satisfaction{
		Witness:         [][]byte{{0x01}},
		TimeConstraints: miniscript.TimeConstraints{Sequence: 1},
	}, nil
}

func TestGetScriptSatisfactionRejectsShiftedTemporalConstraints(t *testing.T) {
	const expr = "wsh(and_v(v:pk(" + testKey + "),older(144)))"
	calls := 0
	o, err := New(Config{Descriptor: expr, Network: &chaincfg.MainNetParams}, inconsistentEngine{
		script: make([]byte, 10),
		calls:  &calls,
	})
	if err != nil {
		t.Fatal(err)
	}
	if seq, ok := o.GetSequence(); !ok || seq != 144 {
		t.Fatalf("got sequence %d ok=%v, want 144 (fake-signature pass memoized)", seq, ok)
	}
	_, err = o.GetScriptSatisfaction(nil)
	if err == nil {
		t.Fatal("expected rejection: satisfier returned a different sequence on the real pass")
	}
}

func TestDescriptorRoundTrips(t *testing.T) {
	o, err := New(Config{
		Descriptor: "pkh(" + testKey + ")",
		Network:    &chaincfg.MainNetParams,
	}, fakeEngine{})
	if err != nil {
		t.Fatal(err)
	}
	compact := o.DescriptorCompact()
	if compact != "pkh("+testKey+")" {
		t.Fatalf("got %q, want the checksum-free canonical expression", compact)
	}
	full, err := o.Descriptor()
	if err != nil {
		t.Fatal(err)
	}
	o2, err := New(Config{
		Descriptor:       full,
		ChecksumRequired: true,
		Network:          &chaincfg.MainNetParams,
	}, fakeEngine{})
	if err != nil {
		t.Fatalf("re-expanding Descriptor() output failed: %v", err)
	}
	if o2.DescriptorCompact() != compact {
		t.Fatalf("round trip mismatch: got %q, want %q", o2.DescriptorCompact(), compact)
	}
}
