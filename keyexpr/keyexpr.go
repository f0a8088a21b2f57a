// Package keyexpr parses a single descriptor key expression — an origin,
// a BIP32 extended key or raw key material, and a derivation suffix —
// into a structured key-info record (§4.3 of the descriptor
// specification this engine implements).
package keyexpr

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/btcdesc/descriptors/bip32"
)

// ErrInvalidKeyExpression is the sentinel wrapped by every parse failure,
// so callers can branch with errors.Is regardless of the offending
// fragment embedded in the message.
var ErrInvalidKeyExpression = errors.New("keyexpr: invalid key expression")

// Context selects how a key's public point is serialized once derived or
// read directly, mirroring the three shapes spec.md describes for
// pubkey encoding: compressed (legacy/segwit v0) or x-only (taproot).
// It also governs whether uncompressed keys are accepted.
type Context int

const (
	// ContextLegacy accepts compressed or uncompressed keys and encodes
	// compressed points normally.
	ContextLegacy Context = iota
	// ContextSegwitV0 requires compressed keys; uncompressed keys are a
	// parse error.
	ContextSegwitV0
	// ContextTaproot requires (or derives) an x-only, 32-byte point.
	ContextTaproot
)

// DerivationType distinguishes the three derivation-suffix element kinds
// a key expression's path may contain after the extended key.
type DerivationType int

const (
	ChildDerivation DerivationType = iota
	WildcardDerivation
	RangeDerivation
)

// Derivation is one path element following the extended key: a fixed
// child index, the range-expansion wildcard "*", or a receive/change
// pair "<start;end>".
type Derivation struct {
	Type DerivationType
	// Index is the child index (without the hardening offset). For
	// RangeDerivation it is the start of the range.
	Index uint32
	Hardened bool
	// End is the end of a RangeDerivation's range.
	End uint32
}

func (d Derivation) String() string {
	var b strings.Builder
	b.WriteByte('/')
	switch d.Type {
	case ChildDerivation:
		b.WriteString(strconv.Itoa(int(d.Index)))
	case WildcardDerivation:
		b.WriteByte('*')
	case RangeDerivation:
		fmt.Fprintf(&b, "<%d;%d>", d.Index, d.End)
	}
	if d.Hardened {
		b.WriteByte('h')
	}
	return b.String()
}

// IsRanged reports whether any element of path is a wildcard or range.
func IsRanged(path []Derivation) bool {
	for _, d := range path {
		if d.Type == WildcardDerivation || d.Type == RangeDerivation {
			return true
		}
	}
	return false
}

// ECPair is a raw (non-BIP32) key given as hex pubkey or WIF.
type ECPair struct {
	// Priv is non-nil when the expression was a WIF private key.
	Priv *btcec.PrivateKey
	Pub  *btcec.PublicKey
	// Compressed records the WIF's compression flag. An uncompressed
	// key is rejected outside ContextLegacy; in every context PubKey is
	// still serialized in compressed (or x-only) form.
	Compressed bool
}

// KeyInfo is the key-info record of §3: one key participant in a
// descriptor, with its origin, key material, and — once materialized —
// its concrete public key bytes.
type KeyInfo struct {
	// KeyExpression is the source substring this record was parsed
	// from.
	KeyExpression string

	HasOrigin         bool
	MasterFingerprint uint32
	OriginPath        bip32.Path

	// Exactly one of BIP32 or ECPair is set.
	BIP32 *hdkeychain.ExtendedKey
	Path  []Derivation
	ECPair *ECPair

	// PubKey is the 33-byte compressed or 32-byte x-only point, present
	// once the expression is index-free or has been materialized for a
	// concrete index.
	PubKey []byte
}

// IsRanged reports whether the key expression's derivation path contains
// a wildcard or receive/change range.
func (k *KeyInfo) IsRanged() bool {
	return IsRanged(k.Path)
}

// Materialize derives PubKey for the given range index (ignored if the
// expression is not ranged) filling in PubKey in place.
func (k *KeyInfo) Materialize(index uint32, ctx Context) error {
	if k.ECPair != nil {
		return k.materializeECPair(ctx)
	}
	path, err := resolvePath(k.Path, index)
	if err != nil {
		return err
	}
	key, err := bip32.DeriveKeepPrivate(k.BIP32, path)
	if err != nil {
		return fmt.Errorf("%w: deriving %q: %v", ErrInvalidKeyExpression, k.KeyExpression, err)
	}
	pub, err := key.ECPubKey()
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidKeyExpression, k.KeyExpression, err)
	}
	enc, err := encodePubKey(pub, ctx)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidKeyExpression, k.KeyExpression, err)
	}
	k.PubKey = enc
	return nil
}

func (k *KeyInfo) materializeECPair(ctx Context) error {
	if !k.ECPair.Compressed && ctx != ContextLegacy {
		return fmt.Errorf("%w: uncompressed key in segwit context: %q", ErrInvalidKeyExpression, k.KeyExpression)
	}
	enc, err := encodePubKey(k.ECPair.Pub, ctx)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidKeyExpression, k.KeyExpression, err)
	}
	k.PubKey = enc
	return nil
}

// resolvePath substitutes index for every wildcard, and picks the
// receive (index==0) or change (index!=0, i.e. any nonzero index is
// treated as "change") side of every range element, the way
// address.go's derivePubKey does for its implicit default range.
func resolvePath(path []Derivation, index uint32) (bip32.Path, error) {
	resolved := make(bip32.Path, 0, len(path))
	for _, d := range path {
		var idx uint32
		switch d.Type {
		case ChildDerivation:
			idx = d.Index
		case WildcardDerivation:
			idx = index
		case RangeDerivation:
			if index == 0 {
				idx = d.Index
			} else {
				idx = d.End
			}
		default:
			return nil, fmt.Errorf("%w: unsupported path element", ErrInvalidKeyExpression)
		}
		if d.Hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		resolved = append(resolved, idx)
	}
	return resolved, nil
}

func encodePubKey(pub *btcec.PublicKey, ctx Context) ([]byte, error) {
	if ctx == ContextTaproot {
		b := pub.SerializeCompressed()
		return b[1:], nil
	}
	return pub.SerializeCompressed(), nil
}

// Parse parses a single key expression of the form
// "[fingerprint/origin_path]keydata[/path]", where keydata is a WIF, a
// raw compressed/x-only hex pubkey, or a BIP32 extended key
// (xpub/xprv/tpub/tprv). With no "/path" suffix, the extended key is
// used at its own depth with no further derivation.
func Parse(expr string, ctx Context, network *chaincfg.Params) (*KeyInfo, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: empty key expression", ErrInvalidKeyExpression)
	}
	k := &KeyInfo{KeyExpression: expr}
	rest := expr
	if rest[0] == '[' {
		end := strings.IndexByte(rest, ']')
		if end == -1 {
			return nil, fmt.Errorf("%w: missing ']': %q", ErrInvalidKeyExpression, expr)
		}
		origin := rest[1:end]
		rest = rest[end+1:]
		if len(origin) < 8 {
			return nil, fmt.Errorf("%w: missing fingerprint: %q", ErrInvalidKeyExpression, expr)
		}
		fp, err := hex.DecodeString(origin[:8])
		if err != nil || len(fp) != 4 {
			return nil, fmt.Errorf("%w: invalid fingerprint: %q", ErrInvalidKeyExpression, expr)
		}
		k.HasOrigin = true
		k.MasterFingerprint = binary.BigEndian.Uint32(fp)
		if len(origin) > 8 {
			if origin[8] != '/' {
				return nil, fmt.Errorf("%w: malformed origin: %q", ErrInvalidKeyExpression, expr)
			}
			path, err := parseOriginPath(origin[9:])
			if err != nil {
				return nil, fmt.Errorf("%w: invalid origin path: %q", ErrInvalidKeyExpression, expr)
			}
			k.OriginPath = path
		}
	}
	keydata := rest
	var suffix string
	hasSuffix := false
	if slash := strings.IndexByte(rest, '/'); slash != -1 {
		keydata = rest[:slash]
		suffix = rest[slash+1:]
		hasSuffix = true
	}
	switch {
	case looksLikeWIF(keydata):
		if hasSuffix {
			return nil, fmt.Errorf("%w: WIF key cannot have a derivation suffix: %q", ErrInvalidKeyExpression, expr)
		}
		priv, compressed, err := decodeWIF(keydata, network)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidKeyExpression, expr, err)
		}
		k.ECPair = &ECPair{Priv: priv, Pub: priv.PubKey(), Compressed: compressed}
	case looksLikeHexKey(keydata):
		if hasSuffix {
			return nil, fmt.Errorf("%w: raw pubkey cannot have a derivation suffix: %q", ErrInvalidKeyExpression, expr)
		}
		pub, compressed, err := decodeHexKey(keydata)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidKeyExpression, expr, err)
		}
		k.ECPair = &ECPair{Pub: pub, Compressed: compressed}
	default:
		xpub, err := hdkeychain.NewKeyFromString(keydata)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid extended key: %q", ErrInvalidKeyExpression, expr)
		}
		if network != nil {
			keyNet, err := bip32.NetworkFor(xpub)
			if err != nil {
				return nil, fmt.Errorf("%w: unrecognized extended key version: %q", ErrInvalidKeyExpression, expr)
			}
			if keyNet.Net != network.Net {
				return nil, fmt.Errorf("%w: extended key is for %s, not %s: %q", ErrInvalidKeyExpression, keyNet.Name, network.Name, expr)
			}
		}
		if k.HasOrigin && xpub.Depth() == 0 && len(k.OriginPath) == 0 {
			// The key itself is a master (depth 0) key with an empty
			// origin path, so the stated origin fingerprint is a claim
			// about this very key: it must equal hash160(pubkey)[:4],
			// the same computation used to derive a child's origin
			// fingerprint from its parent.
			pub, err := xpub.ECPubKey()
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidKeyExpression, expr, err)
			}
			if bip32.Fingerprint(pub) != k.MasterFingerprint {
				return nil, fmt.Errorf("%w: origin fingerprint does not match master key: %q", ErrInvalidKeyExpression, expr)
			}
		}
		k.BIP32 = xpub
		if hasSuffix {
			path, err := parseDerivationSuffix(suffix)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid derivation suffix: %q", ErrInvalidKeyExpression, expr)
			}
			k.Path = path
		}
	}
	if !k.IsRanged() {
		if err := k.Materialize(0, ctx); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// parseOriginPath parses the path half of a key origin ("84'/0'/0'"),
// which — unlike a full BIP32 path — never carries a leading "m/".
func parseOriginPath(path string) (bip32.Path, error) {
	if path == "" {
		return nil, nil
	}
	var res bip32.Path
	for _, p := range strings.Split(path, "/") {
		e, err := bip32.ParsePathElement(p)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// parseDerivationSuffix parses the "/path" suffix following an extended
// key: a sequence of child indices, possibly hardened, possibly ending
// in a wildcard "*"/"*'" or a "<start;end>" range element.
func parseDerivationSuffix(path string) ([]Derivation, error) {
	var res []Derivation
	for _, p := range strings.Split(path, "/") {
		var d Derivation
		switch {
		case p == "*":
			d = Derivation{Type: WildcardDerivation}
		case p == "*'" || p == "*h":
			d = Derivation{Type: WildcardDerivation, Hardened: true}
		case len(p) > 2 && p[0] == '<' && p[len(p)-1] == '>':
			starts, ends, ok := strings.Cut(p[1:len(p)-1], ";")
			if !ok {
				return nil, fmt.Errorf("invalid range path element: %q", p)
			}
			start, err := bip32.ParsePathElement(starts)
			if err != nil {
				return nil, err
			}
			end, err := bip32.ParsePathElement(ends)
			if err != nil {
				return nil, err
			}
			if start > end || start >= hdkeychain.HardenedKeyStart || end >= hdkeychain.HardenedKeyStart {
				return nil, fmt.Errorf("invalid range path element: %q", p)
			}
			d = Derivation{Type: RangeDerivation, Index: start, End: end}
		default:
			e, err := bip32.ParsePathElement(p)
			if err != nil {
				return nil, err
			}
			d = Derivation{Type: ChildDerivation, Index: e}
			if d.Index >= hdkeychain.HardenedKeyStart {
				d.Index -= hdkeychain.HardenedKeyStart
				d.Hardened = true
			}
		}
		res = append(res, d)
	}
	return res, nil
}

func looksLikeHexKey(s string) bool {
	if len(s) != 66 && len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func decodeHexKey(s string) (*btcec.PublicKey, bool, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, false, err
	}
	switch len(b) {
	case 33:
		pub, err := btcec.ParsePubKey(b)
		if err != nil {
			return nil, false, err
		}
		return pub, true, nil
	case 32:
		pub, err := btcec.ParsePubKey(append([]byte{0x02}, b...))
		if err != nil {
			return nil, false, err
		}
		return pub, true, nil
	default:
		return nil, false, fmt.Errorf("invalid public key length %d", len(b))
	}
}

func looksLikeWIF(s string) bool {
	if len(s) < 51 || len(s) > 52 {
		return false
	}
	return s[0] == 'K' || s[0] == 'L' || s[0] == '5' || s[0] == 'c' || s[0] == '9'
}

func decodeWIF(s string, network *chaincfg.Params) (*btcec.PrivateKey, bool, error) {
	wif, err := btcutil.DecodeWIF(s)
	if err != nil {
		return nil, false, err
	}
	if network != nil && !wif.IsForNet(network) {
		return nil, false, fmt.Errorf("WIF key is not valid for network %s", network.Name)
	}
	return wif.PrivKey, wif.CompressPubKey, nil
}
