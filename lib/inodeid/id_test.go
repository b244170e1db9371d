// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package inodeid

import "testing"

func TestNewIsRandom(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatal(err)
	}
	b, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two fresh ids collided")
	}
	if a.IsZero() || b.IsZero() {
		t.Error("fresh id must not be the root id")
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(Format(id))
	if err != nil {
		t.Fatal(err)
	}
	if parsed != id {
		t.Errorf("Parse(Format(id)) = %s, want %s", Format(parsed), Format(id))
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	if _, err := Parse("zz"); err == nil {
		t.Error("non-hex input should fail")
	}
	if _, err := Parse("abcd"); err == nil {
		t.Error("short input should fail")
	}
}

func TestRootIsZero(t *testing.T) {
	if !Root().IsZero() {
		t.Error("root id must be the zero id")
	}
}
