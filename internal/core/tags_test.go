// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

import (
	"strings"
	"testing"
)

func TestParseTags(t *testing.T) {
	tags, err := ParseTags("vendor:1234,device:5678,bridge")
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 3 || tags[0].Key() != "vendor" || tags[2].Key() != "bridge" {
		t.Fatalf("parsed %q", tags)
	}
	if v, ok := tags[1].Value(); !ok || v != "5678" {
		t.Fatalf("value of %q: %q %v", tags[1], v, ok)
	}
	if _, ok := tags[2].Value(); ok {
		t.Fatalf("bare tag has a value")
	}
	if s := tags.String(); s != "vendor:1234,device:5678,bridge" {
		t.Fatalf("serialized as %q", s)
	}

	if tags, err := ParseTags(""); err != nil || len(tags) != 0 {
		t.Fatalf("empty list: %q %v", tags, err)
	}
	for _, s := range []string{",", "a,", ",a", "a,,b"} {
		if _, err := ParseTags(s); !ErrInvalidInput.Is(err) {
			t.Errorf("%q: expected invalid input, got %v", s, err)
		}
	}
}

func TestTooManyTags(t *testing.T) {
	parts := make([]string, MaxTags)
	for i := range parts {
		parts[i] = "t"
	}
	if _, err := ParseTags(strings.Join(parts, ",")); err != nil {
		t.Fatalf("%d tags: %v", MaxTags, err)
	}
	parts = append(parts, "t")
	if _, err := ParseTags(strings.Join(parts, ",")); !ErrInvalidInput.Is(err) {
		t.Fatalf("%d tags: %v", len(parts), err)
	}
}

// Order never matters for matching or equality.
func TestTagOrder(t *testing.T) {
	a, _ := ParseTags("vendor:1234,device:5678")
	b, _ := ParseTags("device:5678,vendor:1234")
	if !a.Equal(b) || !a.Matches(b) || !b.Matches(a) {
		t.Fatalf("%q and %q differ", a, b)
	}
	if a.Sorted().String() != b.Sorted().String() {
		t.Fatalf("sorted forms differ")
	}
	if !TagSelector(a...).Equal(TagSelector(b...)) {
		t.Fatalf("selectors differ")
	}

	sub, _ := ParseTags("device:5678")
	if !a.Matches(sub) || sub.Matches(a) || a.Equal(sub) {
		t.Fatalf("subset matching")
	}
	if !a.Matches(nil) {
		t.Fatalf("empty filter must match everything")
	}
}

func TestSelector(t *testing.T) {
	s, err := ParseSelector("etc/motd", SchemePath)
	if err != nil || s.Kind != SelectorPath || s.Path != "etc/motd" || s.String() != "etc/motd" {
		t.Fatalf("path selector: %+v %v", s, err)
	}
	// A comma is just a character in a path.
	if s, _ := ParseSelector("a,b", SchemePath); s.Path != "a,b" {
		t.Fatalf("path with comma: %+v", s)
	}
	if s, _ := ParseSelector("", SchemeTags); !s.IsEmpty() {
		t.Fatalf("empty tag selector not empty")
	}
	if PathSelector("a").Equal(TagSelector("a")) {
		t.Fatalf("selectors of different kinds are equal")
	}
	if _, err := SelectorFromBytes([]byte("a\x00b"), SchemePath); !ErrInvalidInput.Is(err) {
		t.Fatalf("NUL accepted: %v", err)
	}
}
