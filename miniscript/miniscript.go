// Package miniscript expands a textual miniscript's key expressions into
// "@i" placeholders (§4.4 of the descriptor specification), and declares
// the narrow interfaces a real miniscript compiler/satisfier must
// implement to be injected into this engine (§6). This package does not
// implement a miniscript compiler or satisfier itself — those are
// external collaborators by design (spec.md §1 Non-goals).
package miniscript

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/btcdesc/descriptors/keyexpr"
)

// keyArgs describes which positional arguments of a miniscript fragment
// are key expressions, so a generic recursive scan can tell a key
// expression leaf apart from a numeric threshold, a hash-preimage
// literal, or a relative/absolute timelock value — all of which can look
// superficially similar (e.g. a 32-byte hex literal could be either an
// x-only pubkey or a sha256 image).
type keyArgs struct {
	// allExceptFirst covers multi(k, key1, key2, ...) and its sorted/
	// Schnorr variants, whose first argument is the threshold.
	allExceptFirst bool
	// indices covers single-key fragments like pk(key), pkh(key).
	indices map[int]bool
}

var keyFragments = map[string]keyArgs{
	"pk":            {indices: map[int]bool{0: true}},
	"pk_k":          {indices: map[int]bool{0: true}},
	"pkh":           {indices: map[int]bool{0: true}},
	"pk_h":          {indices: map[int]bool{0: true}},
	"multi":         {allExceptFirst: true},
	"multi_a":       {allExceptFirst: true},
	"sortedmulti":   {allExceptFirst: true},
	"sortedmulti_a": {allExceptFirst: true},
}

func (a keyArgs) appliesTo(i int) bool {
	if a.allExceptFirst {
		return i != 0
	}
	return a.indices[i]
}

// Expand replaces every maximal key-expression substring of ms with a
// fresh "@i" placeholder in left-to-right first-appearance order,
// returning the expanded miniscript and the expansion map that resolves
// placeholders back to key-info records (§4.4).
func Expand(ms string, ctx keyexpr.Context, network *chaincfg.Params) (string, *keyexpr.ExpansionMap, error) {
	em := keyexpr.NewExpansionMap()
	expanded, err := expandNode(ms, ctx, network, em)
	if err != nil {
		return "", nil, err
	}
	return expanded, em, nil
}

func expandNode(s string, ctx keyexpr.Context, network *chaincfg.Params, em *keyexpr.ExpansionMap) (string, error) {
	idx := strings.IndexByte(s, '(')
	if idx == -1 {
		// A leaf with no fragment wrapper: a numeric literal (older/
		// after/thresh arguments) or a hash literal (sha256/hash256/
		// ripemd160/hash160 arguments). Never a bare key expression in
		// well-formed miniscript, since every key use is always wrapped
		// in a key-consuming fragment.
		return s, nil
	}
	name := s[:idx]
	if len(s) == 0 || s[len(s)-1] != ')' {
		return "", fmt.Errorf("miniscript: unbalanced parentheses in %q", s)
	}
	inner := s[idx+1 : len(s)-1]
	args, err := splitTopLevelArgs(inner)
	if err != nil {
		return "", fmt.Errorf("miniscript: %q: %w", s, err)
	}
	// Strip wrapper-type prefixes (e.g. the "v:" in "v:pk(K)", the
	// "s:" in "s:pk(K)") to find the underlying fragment name; the
	// prefix is preserved verbatim in the reassembled output.
	baseName := name
	if colon := strings.LastIndexByte(name, ':'); colon != -1 {
		baseName = name[colon+1:]
	}
	spec, isKeyFragment := keyFragments[baseName]
	out := make([]string, len(args))
	for i, a := range args {
		if isKeyFragment && spec.appliesTo(i) {
			placeholder, err := em.Add(a, ctx, network)
			if err != nil {
				return "", fmt.Errorf("miniscript: %q: %w", a, err)
			}
			out[i] = placeholder
			continue
		}
		sub, err := expandNode(a, ctx, network, em)
		if err != nil {
			return "", err
		}
		out[i] = sub
	}
	return name + "(" + strings.Join(out, ",") + ")", nil
}

// splitTopLevelArgs splits a fragment's argument list on commas that are
// not nested inside a deeper pair of parentheses.
func splitTopLevelArgs(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var args []string
	depth := 0
	start := 0
	for i := range len(s) {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
		case ',':
			if depth == 0 {
				args = append(args, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses")
	}
	args = append(args, s[start:])
	return args, nil
}

// TimeConstraints is the pair of consensus fields a satisfaction fixes
// (§4.6): the input's nSequence and the transaction's nLockTime.
type TimeConstraints struct {
	LockTime uint32
	Sequence uint32
}

// Satisfaction is the witness/scriptSig material produced by a
// satisfier for one input (§6).
type Satisfaction struct {
	// Witness holds the segwit witness stack elements, deepest (final
	// script) last if the shape has one, for a script-path spend.
	Witness [][]byte
	// ScriptSig holds the (possibly empty) legacy scriptSig bytes.
	ScriptSig []byte
	TimeConstraints
}

// Signature is one signer's contribution keyed by the compressed (or
// x-only) public key it corresponds to, as found in expansionMap.
type Signature struct {
	PubKey    []byte
	Signature []byte
}

// Preimage is a hash-preimage pair the satisfier may consume to unlock a
// sha256/hash256/ripemd160/hash160 fragment (§3).
type Preimage struct {
	Digest   []byte
	Preimage []byte
}

// Compiler is the external collaborator that turns an expanded
// miniscript plus its expansion map into Bitcoin Script bytes (§6). Not
// implemented by this package: spec.md explicitly excludes a miniscript
// compiler from this engine's scope.
type Compiler interface {
	Compile(expandedMiniscript string, expansionMap *keyexpr.ExpansionMap) ([]byte, error)
}

// Satisfier is the external collaborator that produces a satisfying
// witness for an expanded miniscript (§6). Not implemented by this
// package for the same reason as Compiler.
type Satisfier interface {
	Satisfy(expandedMiniscript string, expansionMap *keyexpr.ExpansionMap, signatures []Signature, preimages []Preimage, timeConstraints *TimeConstraints) (*Satisfaction, error)
}

// Engine bundles the two collaborators an Output needs to turn a
// miniscript shape into a script and, later, a satisfaction.
type Engine interface {
	Compiler
	Satisfier
}
