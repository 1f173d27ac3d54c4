// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

import (
	"bytes"
	"sort"
	"strings"
)

const (
	// TableObjectSeparator separates the table name from the rest of a path,
	// and (in the tag scheme) the tag list from a trailing id.
	TableObjectSeparator = '/'

	// TagSeparator separates tags within a tag list.
	TagSeparator = ','

	// TagKeySeparator separates the key from the value in a key:value tag.
	TagKeySeparator = ':'

	// MaxTags is the largest number of tags a single filter or object may carry.
	MaxTags = 256
)

// Tag is an attribute attached to an object: either a bare token ("foo") or a
// key:value pair ("vendor-id:1234").
type Tag string

// Key returns the part of the tag before the first ':', or the whole tag for
// a bare tag.
func (t Tag) Key() string {
	if i := strings.IndexByte(string(t), TagKeySeparator); i >= 0 {
		return string(t[:i])
	}
	return string(t)
}

// Value returns the part of the tag after the first ':', and false for a bare tag.
func (t Tag) Value() (string, bool) {
	if i := strings.IndexByte(string(t), TagKeySeparator); i >= 0 {
		return string(t[i+1:]), true
	}
	return "", false
}

// Tags is an unordered set of tags. The order of a Tags value is only the
// order it was written in; it never affects matching.
type Tags []Tag

// ParseTags splits a comma separated tag list. An empty string is the empty
// list. Empty tags inside a list and lists longer than MaxTags are invalid.
func ParseTags(s string) (Tags, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, string(TagSeparator))
	if len(parts) > MaxTags {
		return nil, ErrInvalidInput.WithMessage("too many tags")
	}
	tags := make(Tags, len(parts))
	for i, p := range parts {
		if p == "" {
			return nil, ErrInvalidInput.WithMessage("empty tag in tag list")
		}
		tags[i] = Tag(p)
	}
	return tags, nil
}

// String joins the tags with TagSeparator, in their current order.
func (ts Tags) String() string {
	var b strings.Builder
	for i, t := range ts {
		if i > 0 {
			b.WriteByte(TagSeparator)
		}
		b.WriteString(string(t))
	}
	return b.String()
}

// Has returns whether 't' is one of the tags.
func (ts Tags) Has(t Tag) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

// Matches returns whether every tag of 'filter' is present in ts. The empty
// filter matches everything.
func (ts Tags) Matches(filter Tags) bool {
	for _, f := range filter {
		if !ts.Has(f) {
			return false
		}
	}
	return true
}

// Equal returns whether ts and o contain the same set of tags.
func (ts Tags) Equal(o Tags) bool {
	return ts.Matches(o) && o.Matches(ts)
}

// Sorted returns a sorted copy, used where a canonical form is needed (e.g. as
// a map key).
func (ts Tags) Sorted() Tags {
	c := append(Tags(nil), ts...)
	sort.Slice(c, func(i, j int) bool { return c[i] < c[j] })
	return c
}

// SelectorKind tells which field of a Selector is meaningful.
type SelectorKind uint8

const (
	// SelectorTags selects by a tag filter.
	SelectorTags SelectorKind = iota

	// SelectorPath selects by a sub-path.
	SelectorPath
)

// Selector addresses objects within a table. Which kind is used is decided by
// the table's Scheme.
type Selector struct {
	Kind SelectorKind
	Tags Tags
	Path string
}

// TagSelector returns a Selector that filters by tags.
func TagSelector(tags ...Tag) Selector {
	return Selector{Kind: SelectorTags, Tags: tags}
}

// PathSelector returns a Selector for a sub-path.
func PathSelector(path string) Selector {
	return Selector{Kind: SelectorPath, Path: path}
}

// ParseSelector parses 's' according to 'scheme'.
func ParseSelector(s string, scheme Scheme) (Selector, error) {
	if scheme == SchemePath {
		return PathSelector(s), nil
	}
	tags, err := ParseTags(s)
	if err != nil {
		return Selector{}, err
	}
	return TagSelector(tags...), nil
}

// IsEmpty returns whether the selector selects everything.
func (s Selector) IsEmpty() bool {
	if s.Kind == SelectorPath {
		return s.Path == ""
	}
	return len(s.Tags) == 0
}

// String is the path form of the selector.
func (s Selector) String() string {
	if s.Kind == SelectorPath {
		return s.Path
	}
	return s.Tags.String()
}

// Bytes is the form a selector takes in a request buffer.
func (s Selector) Bytes() []byte {
	return []byte(s.String())
}

// Equal returns whether two selectors address the same objects, ignoring tag
// order.
func (s Selector) Equal(o Selector) bool {
	if s.Kind != o.Kind {
		return false
	}
	if s.Kind == SelectorPath {
		return s.Path == o.Path
	}
	return s.Tags.Equal(o.Tags)
}

// SelectorFromBytes decodes a selector sent in a request buffer.
func SelectorFromBytes(b []byte, scheme Scheme) (Selector, error) {
	if bytes.IndexByte(b, 0) >= 0 {
		return Selector{}, ErrInvalidInput.WithMessage("NUL byte in selector")
	}
	return ParseSelector(string(b), scheme)
}
