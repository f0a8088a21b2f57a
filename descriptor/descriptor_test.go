package descriptor

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/btcdesc/descriptors/checksum"
	"github.com/btcdesc/descriptors/keyexpr"
)

// fakeCompiler returns a canned script regardless of input, enough to
// exercise the size/opcode enforcement paths without a real miniscript
// compiler.
type fakeCompiler struct {
	script []byte
	err    error
}

func (f fakeCompiler) Compile(string, *keyexpr.ExpansionMap) ([]byte, error) {
	return f.script, f.err
}

const testKey = "02c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5"

func TestExpandPKH(t *testing.T) {
	sum, ok := checksum.Compute("pkh(" + testKey + ")")
	if !ok {
		t.Fatal("expected checksum computation to succeed")
	}
	e, err := Expand(Request{
		Descriptor:       "pkh(" + testKey + ")#" + sum,
		ChecksumRequired: true,
		Network:          &chaincfg.MainNetParams,
	}, fakeCompiler{})
	if err != nil {
		t.Fatal(err)
	}
	if e.IsSegwit {
		t.Fatal("pkh should not be segwit")
	}
	if !e.HasPayment {
		t.Fatal("expected a payment")
	}
	script := e.Payment.ScriptPubKey
	if len(script) != 25 || script[0] != 0x76 || script[1] != 0xa9 || script[23] != 0x88 || script[24] != 0xac {
		t.Fatalf("got %x, want a standard p2pkh script", script)
	}
}

func TestExpandWPKHRanged(t *testing.T) {
	const expr = "wpkh([d34db33f/84'/0'/0']xpub6ERApfZwUNrhLCkDtcHTcxd75RbzS1ed54G1LkBUHQVHQKqhMkhgbmJbZRkrgZw4koxb5JaHWkY4ALHY2grBGRjaDMzQLcgJvLJuZZvRcEL/0/*)"
	e0, err := Expand(Request{Descriptor: expr, HasIndex: true, Index: 0, Network: &chaincfg.MainNetParams}, fakeCompiler{})
	if err != nil {
		t.Fatal(err)
	}
	if !e0.IsSegwit || !e0.HasPayment || len(e0.Payment.ScriptPubKey) != 22 {
		t.Fatalf("unexpected expansion: %+v", e0)
	}
	e1, err := Expand(Request{Descriptor: expr, HasIndex: true, Index: 1, Network: &chaincfg.MainNetParams}, fakeCompiler{})
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(e0.Payment.ScriptPubKey) == hex.EncodeToString(e1.Payment.ScriptPubKey) {
		t.Fatal("index 0 and 1 must produce different scriptPubKeys")
	}
	shapeOnly, err := Expand(Request{Descriptor: expr, Network: &chaincfg.MainNetParams}, fakeCompiler{})
	if err != nil {
		t.Fatal(err)
	}
	if shapeOnly.HasPayment {
		t.Fatal("ranged descriptor without an index must have no payment")
	}
}

func TestExpandSHWPKH(t *testing.T) {
	const expr = "sh(wpkh(" + testKey + "))"
	e, err := Expand(Request{Descriptor: expr, Network: &chaincfg.MainNetParams}, fakeCompiler{})
	if err != nil {
		t.Fatal(err)
	}
	if !e.IsSegwit {
		t.Fatal("sh(wpkh()) is segwit")
	}
	if !e.HasRedeemScript || len(e.RedeemScript) != 22 {
		t.Fatalf("expected a 22-byte redeem script, got %+v", e)
	}
	if len(e.Payment.ScriptPubKey) != 23 {
		t.Fatalf("got %d-byte scriptPubKey, want 23", len(e.Payment.ScriptPubKey))
	}
}

func TestExpandWSHMiniscript(t *testing.T) {
	const expr = "wsh(and_v(v:pk(" + testKey + "),older(144)))"
	canned := make([]byte, 10)
	e, err := Expand(Request{Descriptor: expr, Network: &chaincfg.MainNetParams}, fakeCompiler{script: canned})
	if err != nil {
		t.Fatal(err)
	}
	if !e.HasMiniscript || !e.HasWitnessScript {
		t.Fatal("expected miniscript fields to be set")
	}
	if e.ExpandedMiniscript != "and_v(v:pk(@0),older(144))" {
		t.Fatalf("got %q", e.ExpandedMiniscript)
	}
}

func TestExpandWSHScriptTooLarge(t *testing.T) {
	const expr = "wsh(and_v(v:pk(" + testKey + "),older(144)))"
	canned := make([]byte, maxP2WSHScript+1)
	_, err := Expand(Request{Descriptor: expr, Network: &chaincfg.MainNetParams}, fakeCompiler{script: canned})
	if err == nil {
		t.Fatal("expected ErrScriptTooLarge")
	}
}

func TestExpandSHMSRequiresWhitelistOrFlag(t *testing.T) {
	const expr = "sh(and_v(v:pk(" + testKey + "),older(144)))"
	if _, err := Expand(Request{Descriptor: expr, Network: &chaincfg.MainNetParams}, fakeCompiler{script: []byte{0x51}}); err == nil {
		t.Fatal("expected rejection: and_v is not a whitelisted head token")
	}
	e, err := Expand(Request{Descriptor: expr, Network: &chaincfg.MainNetParams, AllowMiniscriptInP2SH: true}, fakeCompiler{script: []byte{0x51}})
	if err != nil {
		t.Fatal(err)
	}
	if !e.HasRedeemScript || e.HasWitnessScript {
		t.Fatalf("sh(MS) should set redeemScript only: %+v", e)
	}
}

func TestExpandBadChecksum(t *testing.T) {
	_, err := Expand(Request{Descriptor: "pkh(" + testKey + ")#00000000", Network: &chaincfg.MainNetParams}, fakeCompiler{})
	if err == nil {
		t.Fatal("expected ErrBadChecksum")
	}
}

func TestExpandAddr(t *testing.T) {
	const addr = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	e, err := Expand(Request{Descriptor: "addr(" + addr + ")", Network: &chaincfg.MainNetParams}, fakeCompiler{})
	if err != nil {
		t.Fatal(err)
	}
	if e.SegwitKnown {
		t.Fatal("addr() leaves isSegwit undefined")
	}
	if !e.HasPayment || e.Payment.Address != addr {
		t.Fatalf("unexpected payment: %+v", e.Payment)
	}
}

func TestExpandMultipathRange(t *testing.T) {
	const expr = "wpkh([d34db33f/84'/0'/0']xpub6ERApfZwUNrhLCkDtcHTcxd75RbzS1ed54G1LkBUHQVHQKqhMkhgbmJbZRkrgZw4koxb5JaHWkY4ALHY2grBGRjaDMzQLcgJvLJuZZvRcEL/<0;1>/0)"
	shapeOnly, err := Expand(Request{Descriptor: expr, Network: &chaincfg.MainNetParams}, fakeCompiler{})
	if err != nil {
		t.Fatal(err)
	}
	if shapeOnly.HasPayment {
		t.Fatal("a <a;b> range with no index must be shape-only, like a * wildcard")
	}
	receive, err := Expand(Request{Descriptor: expr, HasIndex: true, Index: 0, Network: &chaincfg.MainNetParams}, fakeCompiler{})
	if err != nil {
		t.Fatal(err)
	}
	change, err := Expand(Request{Descriptor: expr, HasIndex: true, Index: 1, Network: &chaincfg.MainNetParams}, fakeCompiler{})
	if err != nil {
		t.Fatal(err)
	}
	if !receive.HasPayment || !change.HasPayment {
		t.Fatal("expected both branches to produce a payment")
	}
	if hex.EncodeToString(receive.Payment.ScriptPubKey) == hex.EncodeToString(change.Payment.ScriptPubKey) {
		t.Fatal("receive (index 0) and change (index 1) branches must produce different scriptPubKeys")
	}
}
