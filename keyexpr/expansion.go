package keyexpr

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// ExpansionMap is the ordered mapping from placeholders "@0, @1, …" to
// key-info records (§3). Placeholders are dense integers starting at 0,
// assigned in left-to-right order of first appearance of each distinct
// key expression in the source; a repeated key expression shares its
// earlier placeholder.
type ExpansionMap struct {
	order  []string
	byExpr map[string]string
	keys   map[string]*KeyInfo
}

// NewExpansionMap returns an empty expansion map.
func NewExpansionMap() *ExpansionMap {
	return &ExpansionMap{
		byExpr: make(map[string]string),
		keys:   make(map[string]*KeyInfo),
	}
}

// Add parses expr (if not already present) and returns its placeholder,
// reusing the existing placeholder when expr was already added.
func (m *ExpansionMap) Add(expr string, ctx Context, network *chaincfg.Params) (string, error) {
	if p, ok := m.byExpr[expr]; ok {
		return p, nil
	}
	info, err := Parse(expr, ctx, network)
	if err != nil {
		return "", err
	}
	placeholder := fmt.Sprintf("@%d", len(m.order))
	m.order = append(m.order, placeholder)
	m.byExpr[expr] = placeholder
	m.keys[placeholder] = info
	return placeholder, nil
}

// Get returns the key-info record for a placeholder.
func (m *ExpansionMap) Get(placeholder string) (*KeyInfo, bool) {
	k, ok := m.keys[placeholder]
	return k, ok
}

// Len reports the number of distinct key expressions in the map.
func (m *ExpansionMap) Len() int {
	return len(m.order)
}

// Placeholders returns every placeholder in assignment order.
func (m *ExpansionMap) Placeholders() []string {
	return append([]string(nil), m.order...)
}

// IsRanged reports whether any key in the map has a ranged derivation
// path.
func (m *ExpansionMap) IsRanged() bool {
	for _, p := range m.order {
		if m.keys[p].IsRanged() {
			return true
		}
	}
	return false
}

// MaterializeAll derives PubKey for every ranged key in the map at the
// given index.
func (m *ExpansionMap) MaterializeAll(index uint32, ctx Context) error {
	for _, p := range m.order {
		k := m.keys[p]
		if k.PubKey == nil {
			if err := k.Materialize(index, ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// SignersPubKeys returns every key's materialized PubKey in placeholder
// order. It fails if any key has not been materialized yet.
func (m *ExpansionMap) SignersPubKeys() ([][]byte, error) {
	res := make([][]byte, 0, len(m.order))
	for _, p := range m.order {
		k := m.keys[p]
		if k.PubKey == nil {
			return nil, fmt.Errorf("%w: key %q has no concrete index", ErrInvalidKeyExpression, k.KeyExpression)
		}
		res = append(res, k.PubKey)
	}
	return res, nil
}
