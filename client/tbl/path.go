// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package tbl

import (
	"strings"

	"github.com/westerndigitalcorporation/tbl/internal/core"
)

/*

Paths name tables and objects:

	pci                                   objects of table "pci"
	pci/                                  same
	pci/vendor-id:1234,device-id:1111     objects with both tags
	pci/vendor-id:1234,device-id:1111/8   object 8, which has both tags
	pci//8                                object 8
	store/a/b                             object "a/b" of a path table

The empty path is the table directory. What follows the table name depends on
the table's scheme, which is why splitting needs it.

*/

// SplitKind says how much of a path is present.
type SplitKind int

const (
	// SplitNone is the empty path: the table directory.
	SplitNone SplitKind = iota

	// SplitTable is a table name alone.
	SplitTable

	// SplitSelector is a table name and a selector.
	SplitSelector

	// SplitID is a table name, a (possibly empty) tag list and an id. Only
	// tag tables have it.
	SplitID
)

// Split is a parsed path.
type Split struct {
	Kind     SplitKind
	Table    string
	Selector core.Selector
	ID       core.ID
}

// TableName returns the table segment of 'path'.
func TableName(path string) string {
	if i := strings.IndexByte(path, core.TableObjectSeparator); i >= 0 {
		return path[:i]
	}
	return path
}

// SplitPath parses 'path' for a table with the given scheme. It does no I/O.
func SplitPath(path string, scheme core.Scheme) (Split, error) {
	if path == "" {
		return Split{Kind: SplitNone}, nil
	}
	i := strings.IndexByte(path, core.TableObjectSeparator)
	if i < 0 {
		return Split{Kind: SplitTable, Table: path}, nil
	}
	s := Split{Table: path[:i]}
	rest := path[i+1:]
	if s.Table == "" {
		return Split{}, core.ErrInvalidInput.WithMessage("empty table name")
	}

	if scheme == core.SchemeTags {
		if j := strings.IndexByte(rest, core.TableObjectSeparator); j >= 0 {
			id, err := core.ParseID(rest[j+1:])
			if err != nil {
				return Split{}, err
			}
			s.Kind, s.ID = SplitID, id
			rest = rest[:j]
		}
	}
	sel, err := core.ParseSelector(rest, scheme)
	if err != nil {
		return Split{}, err
	}
	s.Selector = sel
	if s.Kind != SplitID {
		s.Kind = SplitSelector
		if sel.IsEmpty() {
			s.Kind = SplitTable
		}
	}
	return s, nil
}

// String renders the split back into a path. SplitPath(s.String()) yields an
// equal split.
func (s Split) String() string {
	switch s.Kind {
	case SplitNone:
		return ""
	case SplitTable:
		return s.Table
	case SplitSelector:
		return s.Table + string(core.TableObjectSeparator) + s.Selector.String()
	}
	return s.Table + string(core.TableObjectSeparator) + s.Selector.String() +
		string(core.TableObjectSeparator) + s.ID.String()
}

// Equal returns whether two splits name the same thing, ignoring tag order.
func (s Split) Equal(o Split) bool {
	return s.Kind == o.Kind && s.Table == o.Table && s.ID == o.ID &&
		(s.Kind == SplitNone || s.Kind == SplitTable || s.Selector.Equal(o.Selector))
}
