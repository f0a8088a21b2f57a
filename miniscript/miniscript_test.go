package miniscript

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/btcdesc/descriptors/keyexpr"
)

const (
	key1 = "02c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5"
	key2 = "03774ae7f858a9411e5ef4246b70c65aac5649980be5c17891bbec17895da008cb"
)

func TestExpandSingleKeyFragment(t *testing.T) {
	ms := "and_v(v:pk(" + key1 + "),older(144))"
	expanded, em, err := Expand(ms, keyexpr.ContextSegwitV0, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	const want = "and_v(v:pk(@0),older(144))"
	if expanded != want {
		t.Fatalf("got %q, want %q", expanded, want)
	}
	if em.Len() != 1 {
		t.Fatalf("got %d keys, want 1", em.Len())
	}
	k, ok := em.Get("@0")
	if !ok {
		t.Fatal("missing @0")
	}
	if k.KeyExpression != key1 {
		t.Fatalf("got key expression %q, want %q", k.KeyExpression, key1)
	}
}

func TestExpandMultiDedupesRepeatedKeys(t *testing.T) {
	ms := "multi(2," + key1 + "," + key2 + "," + key1 + ")"
	expanded, em, err := Expand(ms, keyexpr.ContextLegacy, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	const want = "multi(2,@0,@1,@0)"
	if expanded != want {
		t.Fatalf("got %q, want %q", expanded, want)
	}
	if em.Len() != 2 {
		t.Fatalf("got %d distinct keys, want 2 (duplicate should share a placeholder)", em.Len())
	}
}

func TestExpandNestedFragments(t *testing.T) {
	ms := "thresh(2,pk(" + key1 + "),s:pk(" + key2 + "),snl:after(100))"
	expanded, em, err := Expand(ms, keyexpr.ContextLegacy, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	const want = "thresh(2,pk(@0),s:pk(@1),snl:after(100))"
	if expanded != want {
		t.Fatalf("got %q, want %q", expanded, want)
	}
	if em.Len() != 2 {
		t.Fatalf("got %d distinct keys, want 2", em.Len())
	}
}

func TestExpandRejectsUnbalancedParens(t *testing.T) {
	if _, _, err := Expand("and_v(v:pk("+key1+")", keyexpr.ContextLegacy, &chaincfg.MainNetParams); err == nil {
		t.Fatal("expected an error for unbalanced parentheses")
	}
}
