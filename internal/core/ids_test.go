// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

import (
	"math"
	"strconv"
	"testing"
)

// Test that ParseID only accepts plain ASCII digits.
func TestParseID(t *testing.T) {
	good := []ID{0, 8, 1234567890, math.MaxUint64}
	for _, id := range good {
		got, err := ParseID(id.String())
		if err != nil || got != id {
			t.Fatalf("%s: got %d, %v", id, got, err)
		}
	}

	bad := []string{
		"",
		"-1",
		"+1",
		" 8",
		"8 ",
		"0x10",
		"1e3",
		"８", // fullwidth digit
		strconv.FormatUint(math.MaxUint64, 10) + "0",
		"18446744073709551616", // MaxUint64 + 1
	}
	for _, s := range bad {
		if _, err := ParseID(s); !ErrInvalidInput.Is(err) {
			t.Errorf("%q: expected invalid input, got %v", s, err)
		}
	}
}

func TestScheme(t *testing.T) {
	for _, s := range []Scheme{SchemeTags, SchemePath} {
		got, err := ParseScheme(s.String())
		if err != nil || got != s {
			t.Fatalf("%s: got %s, %v", s, got, err)
		}
	}
	if _, err := ParseScheme("blob"); !ErrInvalidInput.Is(err) {
		t.Fatalf("unknown scheme parsed: %v", err)
	}
	if NoHandle.IsValid() || !Handle(1).IsValid() {
		t.Fatalf("handle validity")
	}
}
