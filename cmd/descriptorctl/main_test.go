package main

import (
	"bytes"
	"strings"
	"testing"
)

const testKey = "02c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5"

func TestExpandPKH(t *testing.T) {
	var buf bytes.Buffer
	if err := run(&buf, []string{"expand", "pkh(" + testKey + ")"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "scriptPubKey:") {
		t.Fatalf("expected a scriptPubKey line, got %q", out)
	}
	if strings.Contains(out, "segwit: true") {
		t.Fatal("pkh is not segwit")
	}
}

func TestExpandRangedWithoutIndex(t *testing.T) {
	var buf bytes.Buffer
	const expr = "wpkh([d34db33f/84'/0'/0']xpub6ERApfZwUNrhLCkDtcHTcxd75RbzS1ed54G1LkBUHQVHQKqhMkhgbmJbZRkrgZw4koxb5JaHWkY4ALHY2grBGRjaDMzQLcgJvLJuZZvRcEL/0/*)"
	if err := run(&buf, []string{"expand", expr}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "payment: none") {
		t.Fatalf("expected a shape-only result, got %q", buf.String())
	}
}

func TestExpandRejectsMiniscriptShells(t *testing.T) {
	var buf bytes.Buffer
	err := run(&buf, []string{"expand", "wsh(and_v(v:pk(" + testKey + "),older(144)))"})
	if err == nil {
		t.Fatal("expected an error: no miniscript compiler is wired into the CLI")
	}
}

func TestUnknownCommand(t *testing.T) {
	var buf bytes.Buffer
	if err := run(&buf, []string{"bogus"}); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}
