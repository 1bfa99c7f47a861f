package id

import (
	"strings"
	"testing"
	"time"
)

func TestGeneratePrefixed(t *testing.T) {
	sess := NewSessionID()
	if !strings.HasPrefix(sess.String(), "sess_") {
		t.Errorf("expected sess_ prefix, got %s", sess)
	}

	tok := NewTokenID()
	if !strings.HasPrefix(tok.String(), "tok_") {
		t.Errorf("expected tok_ prefix, got %s", tok)
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[TokenID]bool)
	for i := 0; i < 1000; i++ {
		tok := NewTokenID()
		if seen[tok] {
			t.Fatalf("duplicate token generated: %s", tok)
		}
		seen[tok] = true
	}
}

func TestTimestampExtraction(t *testing.T) {
	g := NewGenerator()
	raw := g.GenerateString()

	ts, err := Timestamp(raw)
	if err != nil {
		t.Fatalf("Timestamp failed: %v", err)
	}

	if time.Since(ts) > time.Minute {
		t.Errorf("embedded timestamp too old: %v", ts)
	}
}

func TestIsValid(t *testing.T) {
	g := NewGenerator()
	if !IsValid(g.GenerateString()) {
		t.Error("generated ULID should be valid")
	}
	if IsValid("not-a-ulid") {
		t.Error("garbage should not validate")
	}
}
