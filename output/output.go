// Package output implements the Output object (§4.6): an immutable
// binding of a parsed descriptor to a concrete instance — network,
// index, preimages, signer identities — exposing script/address
// getters, temporal-constraint derivation, satisfaction assembly, and
// PSBT input population/finalization. It is the orchestration layer
// above package descriptor and package psbtglue.
package output

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcdesc/descriptors/checksum"
	"github.com/btcdesc/descriptors/descriptor"
	"github.com/btcdesc/descriptors/ecc"
	"github.com/btcdesc/descriptors/keyexpr"
	"github.com/btcdesc/descriptors/miniscript"
	"github.com/btcdesc/descriptors/payment"
	"github.com/btcdesc/descriptors/psbtglue"
)

var (
	ErrSatisfactionUnavailable = errors.New("output: satisfier returned no witness")
	ErrUnknownSegwit           = errors.New("output: segwit-ness is undefined for an addr() output")
	ErrMissingSignatures       = errors.New("output: PSBT input has no partialSig")
	ErrInvalidSignatures       = errors.New("output: PSBT signature validation failed")
)

// Config is the input to New (§4.6).
type Config struct {
	Descriptor            string
	HasIndex              bool
	Index                 uint32
	ChecksumRequired      bool
	AllowMiniscriptInP2SH bool
	Network               *chaincfg.Params
	Preimages             []miniscript.Preimage
	SignersPubKeys        [][]byte
	HasSignersPubKeys     bool
}

// Output binds a parsed descriptor to a concrete instance. It is
// immutable once constructed; every derived value is a pure function
// of the fields captured here.
type Output struct {
	network        *chaincfg.Params
	expansion      *descriptor.Expansion
	signersPubKeys [][]byte
	preimages      []miniscript.Preimage
	engine         miniscript.Engine

	temporalComputed bool
	temporal         miniscript.TimeConstraints
}

// New constructs an Output by running the descriptor expander (§4.5)
// and binding it to a concrete instance. engine is the miniscript
// collaborator (§6); it is only consulted for miniscript shapes.
func New(cfg Config, engine miniscript.Engine) (*Output, error) {
	network := cfg.Network
	if network == nil {
		network = &chaincfg.MainNetParams
	}
	exp, err := descriptor.Expand(descriptor.Request{
		Descriptor:            cfg.Descriptor,
		HasIndex:              cfg.HasIndex,
		Index:                 cfg.Index,
		ChecksumRequired:      cfg.ChecksumRequired,
		Network:               network,
		AllowMiniscriptInP2SH: cfg.AllowMiniscriptInP2SH,
	}, engine)
	if err != nil {
		return nil, err
	}
	if !exp.HasPayment {
		return nil, fmt.Errorf("%w: ranged descriptor with no index, or unparseable shape", descriptor.ErrMissingIndex)
	}

	signers := cfg.SignersPubKeys
	if !cfg.HasSignersPubKeys {
		if exp.ExpansionMap != nil {
			signers, err = exp.ExpansionMap.SignersPubKeys()
			if err != nil {
				return nil, err
			}
		} else {
			signers = [][]byte{exp.Payment.ScriptPubKey}
		}
	}

	return &Output{
		network:        network,
		expansion:      exp,
		signersPubKeys: signers,
		preimages:      cfg.Preimages,
		engine:         engine,
	}, nil
}

func (o *Output) GetPayment() *payment.Payment { return o.expansion.Payment }

func (o *Output) GetAddress() (string, error) {
	if o.expansion.Payment.Address == "" {
		return "", fmt.Errorf("output: payment has no address")
	}
	return o.expansion.Payment.Address, nil
}

func (o *Output) GetScriptPubKey() []byte { return o.expansion.Payment.ScriptPubKey }

func (o *Output) GetWitnessScript() ([]byte, bool) {
	return o.expansion.WitnessScript, o.expansion.HasWitnessScript
}

func (o *Output) GetRedeemScript() ([]byte, bool) {
	return o.expansion.RedeemScript, o.expansion.HasRedeemScript
}

func (o *Output) GetNetwork() *chaincfg.Params { return o.network }

// IsSegwit reports whether the shape is segwit; known is false for an
// addr()-only instance, where segwit-ness is undefined.
func (o *Output) IsSegwit() (isSegwit bool, known bool) {
	return o.expansion.IsSegwit, o.expansion.SegwitKnown
}

// GetSequence and GetLockTime return the temporal constraints computed
// by the fake-signature algorithm below; both are undefined (ok=false)
// for a non-miniscript descriptor.
func (o *Output) GetSequence() (sequence uint32, ok bool) {
	if !o.expansion.HasMiniscript {
		return 0, false
	}
	if err := o.ensureTemporal(); err != nil {
		return 0, false
	}
	return o.temporal.Sequence, true
}

func (o *Output) GetLockTime() (lockTime uint32, ok bool) {
	if !o.expansion.HasMiniscript {
		return 0, false
	}
	if err := o.ensureTemporal(); err != nil {
		return 0, false
	}
	return o.temporal.LockTime, true
}

// ensureTemporal computes and memoizes the temporal constraints by
// satisfying the miniscript with 64-zero-byte fake signatures for
// every signer pubkey (§4.6's temporal-constraints algorithm): the
// resulting nLockTime/nSequence are design-level invariants of the
// chosen spending path and must not move once real signatures replace
// the fakes.
func (o *Output) ensureTemporal() error {
	if o.temporalComputed {
		return nil
	}
	fake := make([]miniscript.Signature, len(o.signersPubKeys))
	for i, pk := range o.signersPubKeys {
		fake[i] = miniscript.Signature{PubKey: pk, Signature: make([]byte, 64)}
	}
	sat, err := o.engine.Satisfy(o.expansion.ExpandedMiniscript, o.expansion.ExpansionMap, fake, o.preimages, nil)
	if err != nil {
		return err
	}
	o.temporal = sat.TimeConstraints
	o.temporalComputed = true
	return nil
}

// GetScriptSatisfaction assembles the unlocking witness for the given
// real signatures, reverifying that the temporal constraints are
// unchanged from the fake-signature computation (§4.6, §8 property 6).
func (o *Output) GetScriptSatisfaction(signatures []miniscript.Signature) (*miniscript.Satisfaction, error) {
	if !o.expansion.HasMiniscript {
		return nil, fmt.Errorf("output: not a miniscript descriptor")
	}
	if err := o.ensureTemporal(); err != nil {
		return nil, err
	}
	sat, err := o.engine.Satisfy(o.expansion.ExpandedMiniscript, o.expansion.ExpansionMap, signatures, o.preimages, &o.temporal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSatisfactionUnavailable, err)
	}
	if len(sat.Witness) == 0 && len(sat.ScriptSig) == 0 {
		return nil, ErrSatisfactionUnavailable
	}
	if sat.LockTime != o.temporal.LockTime || sat.Sequence != o.temporal.Sequence {
		return nil, fmt.Errorf("output: satisfier shifted temporal constraints between fake and real signatures")
	}
	return sat, nil
}

// UpdateAsInputRequest is the input to UpdatePsbtAsInput.
type UpdateAsInputRequest struct {
	Packet *psbt.Packet
	TxID   string
	Vout   uint32
	TxHex  string
	Value  int64
}

// Finalizer is the closure UpdatePsbtAsInput returns; invoking it
// finalizes the input at the index assigned at append time.
type Finalizer func(p *psbt.Packet, validate bool, backend ecc.Backend) error

// UpdatePsbtAsInput appends this output's UTXO as a new PSBT input and
// returns a finalizer closure bound to the assigned index, plus a
// non-fatal warning (empty if none) when txHex was omitted.
func (o *Output) UpdatePsbtAsInput(req UpdateAsInputRequest) (Finalizer, string, error) {
	if _, known := o.IsSegwit(); !known {
		return nil, "", ErrUnknownSegwit
	}
	witnessScript, _ := o.GetWitnessScript()
	redeemScript, _ := o.GetRedeemScript()
	sequence, ok := o.GetSequence()
	if !ok {
		if lt, ok := o.GetLockTime(); ok && lt != 0 {
			sequence = 0xfffffffe
		} else {
			sequence = wire.MaxTxInSequenceNum
		}
	}
	index, warning, err := psbtglue.AppendInput(psbtglue.AppendInputRequest{
		Packet:        req.Packet,
		TxID:          req.TxID,
		Vout:          req.Vout,
		Value:         req.Value,
		TxHex:         req.TxHex,
		ScriptPubKey:  o.GetScriptPubKey(),
		RedeemScript:  redeemScript,
		WitnessScript: witnessScript,
		Sequence:      sequence,
	})
	if err != nil {
		return nil, "", err
	}
	finalizer := func(p *psbt.Packet, validate bool, backend ecc.Backend) error {
		return o.FinalizePsbtInput(p, index, validate, backend)
	}
	return finalizer, warning, nil
}

// UpdatePsbtAsOutput appends this payment as a new PSBT output paying
// value satoshis.
func (o *Output) UpdatePsbtAsOutput(p *psbt.Packet, value int64) {
	psbtglue.AppendOutput(p, o.GetScriptPubKey(), value)
}

// FinalizePsbtInput implements §4.6's finalization: optional signature
// validation, §4.7's input-shape assertion, then either the PSBT
// package's default finalizer or a satisfier-computed final script.
func (o *Output) FinalizePsbtInput(p *psbt.Packet, index int, validate bool, backend ecc.Backend) error {
	sigs := psbtglue.PartialSigs(p, index)
	if len(sigs) == 0 {
		return ErrMissingSignatures
	}
	if validate {
		if err := o.validateSignatures(p, index, backend); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignatures, err)
		}
	}

	witnessScript, hasWitness := o.GetWitnessScript()
	redeemScript, hasRedeem := o.GetRedeemScript()
	var ws, rs []byte
	if hasWitness {
		ws = witnessScript
	}
	if hasRedeem {
		rs = redeemScript
	}
	sequence, hasSequence := o.GetSequence()
	if !hasSequence {
		if lt, ok := o.GetLockTime(); ok && lt != 0 {
			sequence = 0xfffffffe
		} else {
			sequence = wire.MaxTxInSequenceNum
		}
	}
	lockTime, hasLockTime := o.GetLockTime()
	if err := psbtglue.AssertInput(p, index, o.GetScriptPubKey(), sequence, hasLockTime, lockTime, ws, rs); err != nil {
		return err
	}

	if !o.expansion.HasMiniscript {
		return psbtglue.FinalizeDefault(p, index)
	}

	signatures := make([]miniscript.Signature, len(sigs))
	for i, s := range sigs {
		signatures[i] = miniscript.Signature{PubKey: s.PubKey, Signature: s.Signature}
	}
	sat, err := o.GetScriptSatisfaction(signatures)
	if err != nil {
		return err
	}
	return psbtglue.FinalizeWithScripts(p, index, sat.ScriptSig, sat.Witness)
}

// validateSignatures verifies every partialSig on the input at index
// against the relevant sighash for this output's shape, using backend.
func (o *Output) validateSignatures(p *psbt.Packet, index int, backend ecc.Backend) error {
	sigs := psbtglue.PartialSigs(p, index)
	script, err := psbtglue.ObservedScriptPubKey(p, index)
	if err != nil {
		return err
	}
	value, err := inputValue(p, index)
	if err != nil {
		return err
	}
	segwit, known := o.IsSegwit()
	prevOuts := txscript.NewCannedPrevOutputFetcher(script, value)
	sigHashes := txscript.NewTxSigHashes(p.UnsignedTx, prevOuts)

	witnessScript, hasWitnessScript := o.GetWitnessScript()
	redeemScript, hasRedeemScript := o.GetRedeemScript()
	signScript := script
	switch {
	case hasWitnessScript:
		// wsh(MS)/sh(wsh(MS)): the witness script itself is the BIP143
		// scriptCode.
		signScript = witnessScript
	case hasRedeemScript && known && segwit:
		// sh(wpkh(K)): redeemScript is the inner P2WPKH witness program
		// (OP_0 <20-byte-hash>), but BIP143 requires the scriptCode to
		// be the P2PKH form of that hash, not the program itself.
		sc, err := p2pkhScriptCodeFromWitnessProgram(redeemScript)
		if err != nil {
			return err
		}
		signScript = sc
	case hasRedeemScript:
		// Legacy sh(MS): the redeemScript is the real scriptCode.
		signScript = redeemScript
	case known && segwit:
		// Bare wpkh(K): the scriptPubKey itself is the P2WPKH witness
		// program; same BIP143 P2PKH-form substitution as sh(wpkh(K)).
		sc, err := p2pkhScriptCodeFromWitnessProgram(script)
		if err != nil {
			return err
		}
		signScript = sc
	}

	for _, sig := range sigs {
		if len(sig.Signature) == 0 {
			return fmt.Errorf("empty signature for pubkey %x", sig.PubKey)
		}
		hashType := txscript.SigHashType(sig.Signature[len(sig.Signature)-1])
		der := sig.Signature[:len(sig.Signature)-1]
		var sigHash []byte
		if known && segwit {
			h, err := txscript.CalcWitnessSigHash(signScript, sigHashes, hashType, p.UnsignedTx, index, value)
			if err != nil {
				return err
			}
			sigHash = h
		} else {
			h, err := txscript.CalcSignatureHash(signScript, hashType, p.UnsignedTx, index)
			if err != nil {
				return err
			}
			sigHash = h
		}
		if !backend.Verify(sigHash, sig.PubKey, der) {
			return fmt.Errorf("signature verification failed for pubkey %x", sig.PubKey)
		}
	}
	return nil
}

// p2pkhScriptCodeFromWitnessProgram rebuilds the BIP143 scriptCode for a
// v0 key-hash spend from its witness program (OP_0 <20-byte-hash>): the
// P2PKH form "OP_DUP OP_HASH160 <hash> OP_EQUALVERIFY OP_CHECKSIG", not
// the program itself.
func p2pkhScriptCodeFromWitnessProgram(witnessProgram []byte) ([]byte, error) {
	if len(witnessProgram) != 22 || witnessProgram[0] != txscript.OP_0 || witnessProgram[1] != 0x14 {
		return nil, fmt.Errorf("output: not a v0 key-hash witness program: %x", witnessProgram)
	}
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(witnessProgram[2:]).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

func inputValue(p *psbt.Packet, index int) (int64, error) {
	in := p.Inputs[index]
	if in.WitnessUtxo != nil {
		return in.WitnessUtxo.Value, nil
	}
	if in.NonWitnessUtxo != nil {
		vout := p.UnsignedTx.TxIn[index].PreviousOutPoint.Index
		if int(vout) >= len(in.NonWitnessUtxo.TxOut) {
			return 0, fmt.Errorf("output: vout %d out of range", vout)
		}
		return in.NonWitnessUtxo.TxOut[vout].Value, nil
	}
	return 0, fmt.Errorf("output: no UTXO recorded for input %d", index)
}

// ExpandResult is what Expand() returns (§4.6): the optional expansion
// fields, with explicit presence flags per the optional-field design
// note.
type ExpandResult struct {
	HasExpandedExpression bool
	ExpandedExpression    string
	HasMiniscript         bool
	Miniscript            string
	ExpandedMiniscript    string
	ExpansionMap          *keyexpr.ExpansionMap
}

// Descriptor re-encodes this instance's shape back into descriptor
// text, with a freshly computed checksum appended (§C: adapted from the
// teacher's (*bip380.Descriptor).Encode). Since CanonicalExpression is
// already the checksum-stripped, index-substituted body this instance
// was built from, encoding is just re-attaching the checksum — the
// fixed point §8 property 3 requires. Only "*" wildcards are
// substituted: a "<a;b>" range stays in the text as written.
func (o *Output) Descriptor() (string, error) {
	sum, ok := checksum.Compute(o.expansion.CanonicalExpression)
	if !ok {
		return "", fmt.Errorf("output: canonical expression contains a character outside the checksum alphabet: %q", o.expansion.CanonicalExpression)
	}
	return o.expansion.CanonicalExpression + "#" + sum, nil
}

// DescriptorCompact is like Descriptor but omits the checksum (§C:
// adapted from the teacher's (*bip380.Descriptor).EncodeCompact).
func (o *Output) DescriptorCompact() string {
	return o.expansion.CanonicalExpression
}

// Expand returns the descriptor-shape fields of this instance's
// expansion.
func (o *Output) Expand() ExpandResult {
	return ExpandResult{
		HasExpandedExpression: o.expansion.HasExpandedExpression,
		ExpandedExpression:    o.expansion.ExpandedExpression,
		HasMiniscript:         o.expansion.HasMiniscript,
		Miniscript:            o.expansion.Miniscript,
		ExpandedMiniscript:    o.expansion.ExpandedMiniscript,
		ExpansionMap:          o.expansion.ExpansionMap,
	}
}
