// Package descriptors is the public surface of the descriptor engine
// (§6): a factory that, given an elliptic-curve backend and a
// miniscript compiler/satisfier, yields an Output constructor, the
// deprecated Descriptor alias, a standalone Expand operation,
// ParseKeyExpression, and re-exports of the BIP32 and EC-pair
// constructors. The re-exported constructors call hdkeychain and btcec
// directly and do not consult the factory's backend. Everything it exposes is a
// thin wrapper over package descriptor/output/keyexpr/bip32/ecc; this
// file exists only to collect those operations behind the one
// entrypoint a caller constructing this module "as a library" is
// expected to use, mirroring how the teacher's bip380 package exposed
// Parse/Descriptor/Key as its package-level surface.
package descriptors

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/btcdesc/descriptors/bip32"
	"github.com/btcdesc/descriptors/descriptor"
	"github.com/btcdesc/descriptors/ecc"
	"github.com/btcdesc/descriptors/keyexpr"
	"github.com/btcdesc/descriptors/miniscript"
	"github.com/btcdesc/descriptors/output"
)

// ErrAmbiguousRequest is returned when a request supplies both the
// current "Descriptor" field and the deprecated "Expression" alias
// (§9: "supplying both at once is an error").
var ErrAmbiguousRequest = errors.New("descriptors: both Descriptor and Expression supplied")

// Output is the engine's bound instance type (§4.6), re-exported so
// callers only need to import this package.
type Output = output.Output

// Expansion is the descriptor expander's output record (§3).
type Expansion = descriptor.Expansion

// Factory binds the engine to one elliptic-curve backend and one
// miniscript engine (§6). Every Output and Expansion produced through it
// shares the miniscript engine; the backend is not passed on to an
// Output, whose FinalizePsbtInput and finalizer closure take the backend
// as an argument instead. It carries no other state
// and is safe to share across goroutines (§5): all derived artifacts
// are pure functions of their construction arguments.
type Factory struct {
	backend ecc.Backend
	engine  miniscript.Engine
}

// New builds a Factory. backend may be nil, in which case ecc.Default
// (the btcec/v2-backed secp256k1 implementation) is used. engine may be
// nil for callers that only ever construct pk/pkh/wpkh/sh(wpkh)/addr()
// shapes, which never consult a miniscript compiler; any wsh/sh(MS)
// shape attempted through a nil engine fails the way the teacher's own
// collaborator-less paths fail, with a plain error rather than a panic.
func New(backend ecc.Backend, engine miniscript.Engine) *Factory {
	if backend == nil {
		backend = ecc.Default{}
	}
	if engine == nil {
		engine = unconfiguredEngine{}
	}
	return &Factory{backend: backend, engine: engine}
}

// Backend returns the elliptic-curve collaborator this factory was
// built with.
func (f *Factory) Backend() ecc.Backend { return f.backend }

// OutputRequest is the tagged request record §9 calls for in place of
// keyword-argument dispatch: Descriptor is the current field name,
// Expression is the deprecated alias accepted for backward
// compatibility. Supplying both is an error; Descriptor is preferred
// when resolving which one wins is otherwise ambiguous (never: both
// non-empty is always rejected outright, never silently resolved).
type OutputRequest struct {
	// Descriptor is the descriptor string. Expression is a deprecated
	// alias for the same field (§9); set at most one of the two.
	Descriptor string
	Expression string

	HasIndex              bool
	Index                 uint32
	ChecksumRequired      bool
	AllowMiniscriptInP2SH bool
	Network               *chaincfg.Params
	Preimages             []miniscript.Preimage
	SignersPubKeys        [][]byte
	HasSignersPubKeys     bool
}

func (r OutputRequest) resolveDescriptor() (string, error) {
	switch {
	case r.Descriptor != "" && r.Expression != "":
		return "", ErrAmbiguousRequest
	case r.Descriptor != "":
		return r.Descriptor, nil
	default:
		return r.Expression, nil
	}
}

// NewOutput constructs an Output (§4.6) bound to this factory's
// collaborators.
func (f *Factory) NewOutput(req OutputRequest) (*Output, error) {
	d, err := req.resolveDescriptor()
	if err != nil {
		return nil, err
	}
	return output.New(output.Config{
		Descriptor:            d,
		HasIndex:              req.HasIndex,
		Index:                 req.Index,
		ChecksumRequired:      req.ChecksumRequired,
		AllowMiniscriptInP2SH: req.AllowMiniscriptInP2SH,
		Network:               req.Network,
		Preimages:             req.Preimages,
		SignersPubKeys:        req.SignersPubKeys,
		HasSignersPubKeys:     req.HasSignersPubKeys,
	}, f.engine)
}

// NewDescriptor is the legacy alias (§9): the specification's source
// library exposed two classes, Descriptor and Output, with identical
// behavior, Descriptor being the older name taking "expression" rather
// than "descriptor". Both are modeled here as the same underlying type
// (Output); NewDescriptor is nothing more than NewOutput under the name
// callers migrating from the old API still expect.
func (f *Factory) NewDescriptor(req OutputRequest) (*Output, error) {
	return f.NewOutput(req)
}

// ExpandRequest mirrors OutputRequest's Descriptor/Expression dual
// naming for the standalone Expand operation.
type ExpandRequest struct {
	Descriptor string
	Expression string

	HasIndex              bool
	Index                 uint32
	ChecksumRequired      bool
	AllowMiniscriptInP2SH bool
	Network               *chaincfg.Params
}

func (r ExpandRequest) resolveDescriptor() (string, error) {
	switch {
	case r.Descriptor != "" && r.Expression != "":
		return "", ErrAmbiguousRequest
	case r.Descriptor != "":
		return r.Descriptor, nil
	default:
		return r.Expression, nil
	}
}

// Expand runs the descriptor expander (§4.5) with this factory's
// miniscript engine, returning the full Expansion record (§3) even for
// shape-only (still-ranged, no index) descriptors.
func (f *Factory) Expand(req ExpandRequest) (*Expansion, error) {
	d, err := req.resolveDescriptor()
	if err != nil {
		return nil, err
	}
	return descriptor.Expand(descriptor.Request{
		Descriptor:            d,
		HasIndex:              req.HasIndex,
		Index:                 req.Index,
		ChecksumRequired:      req.ChecksumRequired,
		Network:               req.Network,
		AllowMiniscriptInP2SH: req.AllowMiniscriptInP2SH,
	}, f.engine)
}

// ParseKeyExpression re-exports package keyexpr's single-key-expression
// parser (§4.3, §6).
func (f *Factory) ParseKeyExpression(expr string, ctx keyexpr.Context, network *chaincfg.Params) (*keyexpr.KeyInfo, error) {
	return keyexpr.Parse(expr, ctx, network)
}

// NewExtendedKey re-exports the BIP32 extended-key constructor (§6):
// parses an xpub/xprv/tpub/tprv string into a handle usable wherever a
// key expression's BIP32 field is needed directly, bypassing the
// descriptor grammar entirely.
func (f *Factory) NewExtendedKey(encoded string) (*hdkeychain.ExtendedKey, error) {
	return hdkeychain.NewKeyFromString(encoded)
}

// DeriveExtendedKey re-exports bip32's path-walking derivation (§6),
// neutering the result so it never carries private material.
func (f *Factory) DeriveExtendedKey(xkey *hdkeychain.ExtendedKey, path bip32.Path) (*hdkeychain.ExtendedKey, error) {
	return bip32.Derive(xkey, path)
}

// NewECPair re-exports the EC-pair constructor (§6): wraps a raw
// private key and its compression flag into the same ECPair record
// package keyexpr builds for a WIF key expression. The public point is
// taken from btcec directly; the factory's backend is not consulted.
func (f *Factory) NewECPair(priv *btcec.PrivateKey, compressed bool) *keyexpr.ECPair {
	return &keyexpr.ECPair{Priv: priv, Pub: priv.PubKey(), Compressed: compressed}
}

// unconfiguredEngine is installed by New when no miniscript engine is
// supplied. It lets a Factory still serve non-miniscript shapes
// (addr/pk/pkh/wpkh/sh(wpkh)) while failing descriptively, instead of
// with a nil-pointer panic, for any shell that would need to compile or
// satisfy a miniscript.
type unconfiguredEngine struct{}

var errNoEngine = errors.New("descriptors: no miniscript engine configured for this factory")

func (unconfiguredEngine) Compile(string, *keyexpr.ExpansionMap) ([]byte, error) {
	return nil, errNoEngine
}

func (unconfiguredEngine) Satisfy(string, *keyexpr.ExpansionMap, []miniscript.Signature, []miniscript.Preimage, *miniscript.TimeConstraints) (*miniscript.Satisfaction, error) {
	return nil, errNoEngine
}
