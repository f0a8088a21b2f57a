package psbtglue

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

func newEmptyPacket(t *testing.T) *psbt.Packet {
	t.Helper()
	tx := wire.NewMsgTx(2)
	p, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestAppendInputRejectsInvalidTxID(t *testing.T) {
	p := newEmptyPacket(t)
	script := []byte{0x00, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	index, warning, err := AppendInput(AppendInputRequest{
		Packet:       p,
		TxID:         "not-a-valid-txid",
		Vout:         0,
		Value:        100000,
		ScriptPubKey: script,
		Sequence:     wire.MaxTxInSequenceNum,
	})
	if err == nil {
		t.Fatal("expected an error: txid is not valid 32-byte hex")
	}
	_ = index
	_ = warning
}

func TestAppendInputAndOutputRoundTrip(t *testing.T) {
	p := newEmptyPacket(t)
	script := make([]byte, 22)
	script[0], script[1] = 0x00, 0x14
	const txid = "0101010101010101010101010101010101010101010101010101010101010101"
	index, warning, err := AppendInput(AppendInputRequest{
		Packet:       p,
		TxID:         txid,
		Vout:         1,
		Value:        50000,
		ScriptPubKey: script,
		Sequence:     wire.MaxTxInSequenceNum,
	})
	if err != nil {
		t.Fatal(err)
	}
	if index != 0 {
		t.Fatalf("got index %d, want 0", index)
	}
	if warning == "" {
		t.Fatal("expected a warning when txHex is omitted")
	}
	AppendOutput(p, script, 49000)
	if len(p.UnsignedTx.TxOut) != 1 {
		t.Fatalf("got %d outputs, want 1", len(p.UnsignedTx.TxOut))
	}
	got, err := ObservedScriptPubKey(p, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(script) {
		t.Fatalf("got %d-byte script, want %d", len(got), len(script))
	}
	if err := AssertInput(p, 0, script, wire.MaxTxInSequenceNum, false, 0, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := AssertInput(p, 0, []byte{0x01}, wire.MaxTxInSequenceNum, false, 0, nil, nil); err == nil {
		t.Fatal("expected a scriptPubKey mismatch")
	}
}
