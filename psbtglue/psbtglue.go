// Package psbtglue wraps the real BIP174 PSBT data model
// (github.com/btcsuite/btcd/btcutil/psbt) with the narrow operations an
// Output needs (§6): appending this output's UTXO as an input or this
// payment as an output, reading/asserting the fields a finalizer cares
// about, and installing finalized scriptSig/witness bytes produced by
// an external miniscript satisfier. It does not reimplement BIP174 —
// the PSBT collaborator is the real package, used directly.
package psbtglue

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrInputShapeMismatch is raised when the PSBT input's observed
	// scriptPubKey, sequence, locktime, redeemScript, or witnessScript
	// does not match what this Output expects (§4.7).
	ErrInputShapeMismatch = errors.New("psbtglue: PSBT input does not match this output's shape")
	// ErrMissingUtxo is raised when neither witnessUtxo nor
	// nonWitnessUtxo is present on the input being asserted.
	ErrMissingUtxo = errors.New("psbtglue: PSBT input has no witnessUtxo or nonWitnessUtxo")
)

// AppendInputRequest is the input to AppendInput.
type AppendInputRequest struct {
	Packet *psbt.Packet
	// TxID and Vout identify the outpoint being spent.
	TxID string
	Vout uint32
	// Value is the spent output's amount in satoshis, required when
	// TxHex is not supplied (witness UTXO path).
	Value int64
	// TxHex is the full previous transaction, enabling a non-witness
	// UTXO entry; when absent a witness UTXO entry is used instead and
	// a warning is returned (not an error).
	TxHex string
	// ScriptPubKey is this output's locking script, stored as the
	// input's witness UTXO when TxHex is not supplied.
	ScriptPubKey  []byte
	RedeemScript  []byte
	WitnessScript []byte
	Sequence      uint32
}

// AppendInput appends req's outpoint as a new input on the packet and
// populates the UTXO/redeem/witness-script fields this Output's shape
// requires, returning the assigned input index and a non-fatal warning
// string (empty if none) for the caller to surface.
func AppendInput(req AppendInputRequest) (index int, warning string, err error) {
	txid, err := chainhash.NewHashFromStr(req.TxID)
	if err != nil {
		return 0, "", fmt.Errorf("psbtglue: invalid txid %q: %w", req.TxID, err)
	}
	outpoint := wire.NewOutPoint(txid, req.Vout)
	txIn := wire.NewTxIn(outpoint, nil, nil)
	txIn.Sequence = req.Sequence

	p := req.Packet
	index = len(p.UnsignedTx.TxIn)
	p.UnsignedTx.TxIn = append(p.UnsignedTx.TxIn, txIn)
	p.Inputs = append(p.Inputs, psbt.PInput{})

	if req.TxHex != "" {
		raw, err := decodeTxHex(req.TxHex)
		if err != nil {
			return 0, "", fmt.Errorf("psbtglue: invalid txHex: %w", err)
		}
		p.Inputs[index].NonWitnessUtxo = raw
	} else {
		p.Inputs[index].WitnessUtxo = &wire.TxOut{
			Value:    req.Value,
			PkScript: req.ScriptPubKey,
		}
		warning = "txHex omitted: using witness UTXO only, no non-witness UTXO recorded"
	}
	if len(req.RedeemScript) > 0 {
		p.Inputs[index].RedeemScript = req.RedeemScript
	}
	if len(req.WitnessScript) > 0 {
		p.Inputs[index].WitnessScript = req.WitnessScript
	}
	return index, warning, nil
}

// AppendOutput appends a new output paying value satoshis to
// scriptPubKey.
func AppendOutput(p *psbt.Packet, scriptPubKey []byte, value int64) {
	p.UnsignedTx.TxOut = append(p.UnsignedTx.TxOut, wire.NewTxOut(value, scriptPubKey))
	p.Outputs = append(p.Outputs, psbt.POutput{})
}

// PartialSigs returns the raw {pubkey, signature} pairs recorded for
// the input at index.
func PartialSigs(p *psbt.Packet, index int) []*psbt.PartialSig {
	return p.Inputs[index].PartialSigs
}

// ObservedScriptPubKey returns the scriptPubKey of the UTXO an input
// references, decoding the referenced transaction's selected output
// when only a non-witness UTXO is present.
func ObservedScriptPubKey(p *psbt.Packet, index int) ([]byte, error) {
	in := p.Inputs[index]
	if in.WitnessUtxo != nil {
		return in.WitnessUtxo.PkScript, nil
	}
	if in.NonWitnessUtxo != nil {
		vout := p.UnsignedTx.TxIn[index].PreviousOutPoint.Index
		if int(vout) >= len(in.NonWitnessUtxo.TxOut) {
			return nil, fmt.Errorf("psbtglue: vout %d out of range", vout)
		}
		return in.NonWitnessUtxo.TxOut[vout].PkScript, nil
	}
	return nil, ErrMissingUtxo
}

// AssertInput implements §4.7's PSBT input assertion: the observed
// scriptPubKey, sequence, locktime, witnessScript, and redeemScript
// must all match what this Output's shape produced. wantSequence is the
// nSequence value the Output's temporal constraints imply (§4.7); when
// hasLockTime is true, the PSBT's own nLockTime must equal
// wantLockTime.
func AssertInput(p *psbt.Packet, index int, wantScriptPubKey []byte, wantSequence uint32, hasLockTime bool, wantLockTime uint32, wantWitnessScript, wantRedeemScript []byte) error {
	observed, err := ObservedScriptPubKey(p, index)
	if err != nil {
		return err
	}
	if !bytes.Equal(observed, wantScriptPubKey) {
		return fmt.Errorf("%w: scriptPubKey", ErrInputShapeMismatch)
	}
	if p.UnsignedTx.TxIn[index].Sequence != wantSequence {
		return fmt.Errorf("%w: sequence", ErrInputShapeMismatch)
	}
	if hasLockTime && p.UnsignedTx.LockTime != wantLockTime {
		return fmt.Errorf("%w: locktime", ErrInputShapeMismatch)
	}
	in := p.Inputs[index]
	if !bytes.Equal(in.WitnessScript, wantWitnessScript) {
		return fmt.Errorf("%w: witnessScript", ErrInputShapeMismatch)
	}
	if !bytes.Equal(in.RedeemScript, wantRedeemScript) {
		return fmt.Errorf("%w: redeemScript", ErrInputShapeMismatch)
	}
	return nil
}

// FinalizeDefault delegates to the PSBT package's standard finalizer,
// for shapes with no miniscript satisfier to consult.
func FinalizeDefault(p *psbt.Packet, index int) error {
	return psbt.Finalize(p, index)
}

// FinalizeWithScripts installs a satisfier-produced scriptSig/witness
// directly, the custom "final scripts" callback path (§4.6) used when
// the shape embeds a miniscript. It mirrors what psbt.Finalize does
// internally: set the final fields and clear every field BIP174
// requires cleared once an input is finalized.
func FinalizeWithScripts(p *psbt.Packet, index int, scriptSig []byte, witness [][]byte) error {
	in := &p.Inputs[index]
	if len(scriptSig) > 0 {
		in.FinalScriptSig = scriptSig
	}
	if len(witness) > 0 {
		var buf bytes.Buffer
		if err := wire.WriteVarInt(&buf, 0, uint64(len(witness))); err != nil {
			return err
		}
		for _, w := range witness {
			if err := wire.WriteVarBytes(&buf, 0, w); err != nil {
				return err
			}
		}
		in.FinalScriptWitness = buf.Bytes()
	}
	in.PartialSigs = nil
	in.SighashType = 0
	in.RedeemScript = nil
	in.WitnessScript = nil
	in.Bip32Derivation = nil
	return nil
}

func decodeTxHex(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}
