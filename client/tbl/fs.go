// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package tbl

import (
	"path"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/tbl/internal/core"
)

// ResolveTable finds the table called 'name' in the table directory.
func (t *Thread) ResolveTable(name string) (core.TableID, core.TableInfo, error) {
	id, info, _, err := t.resolveTable(name)
	return id, info, err
}

// resolveTable is ResolveTable that also says whether the answer came from
// the cache, and so might be stale.
func (t *Thread) resolveTable(name string) (core.TableID, core.TableInfo, bool, error) {
	if id, info, ok := t.tables.get(name); ok {
		return id, info, true, nil
	}
	var prev core.TableID
	for {
		id, info, ok := t.k.NextTable(prev)
		if !ok {
			return 0, core.TableInfo{}, false, core.ErrNotFound.WithMessage("table not found")
		}
		if info.Name == name {
			t.tables.put(name, id, info)
			return id, info, false, nil
		}
		prev = id
	}
}

// withTable resolves 'name' and runs 'fn' on it. A cached table that turns
// out to be gone is dropped from the cache and resolved again, once.
func (t *Thread) withTable(name string, fn func(core.TableID, core.TableInfo) error) error {
	id, info, cached, err := t.resolveTable(name)
	if err != nil {
		return err
	}
	err = fn(id, info)
	if cached && core.ErrNotFound.Is(err) {
		log.V(1).Infof("table %q (%d) may be stale, resolving again", name, id)
		t.tables.invalidateID(id)
		if id, info, _, err = t.resolveTable(name); err != nil {
			return err
		}
		err = fn(id, info)
	}
	return err
}

// FindUniqueObject returns the id of the one object of 'table' that 'sel'
// matches. No match is ErrNotFound, more than one ErrAmbiguous.
func (t *Thread) FindUniqueObject(table core.TableID, sel core.Selector) (core.ID, error) {
	q, err := t.Query(table, sel)
	if err != nil {
		return 0, err
	}
	defer t.CloseHandle(q)

	info, ok, err := t.QueryNextInfo(q)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, core.ErrNotFound.WithMessage("no object with tags")
	}
	if _, more, err := t.QueryNextInfo(q); err != nil {
		return 0, err
	} else if more {
		return 0, core.ErrAmbiguous.WithMessage("multiple objects with tags")
	}
	return info.ID, nil
}

// openSplit opens the object 's' names in table 'id'.
func (t *Thread) openSplit(s Split, id core.TableID, info core.TableInfo) (core.Handle, error) {
	switch s.Kind {
	case SplitID:
		return t.Open(id, s.ID)
	case SplitSelector:
		// Service tables can't be queried, and a path selector names one
		// object exactly while its query also matches what's below it.
		if info.Service || info.Scheme == core.SchemePath {
			return t.OpenPath(id, s.Selector)
		}
		oid, err := t.FindUniqueObject(id, s.Selector)
		if err != nil {
			return core.NoHandle, err
		}
		return t.Open(id, oid)
	}
	return core.NoHandle, core.ErrInvalidInput.WithMessage("expected tags and/or id")
}

// openPath opens the object 'p' names.
func (t *Thread) openPath(p string) (h core.Handle, err error) {
	err = t.withTable(TableName(p), func(id core.TableID, info core.TableInfo) error {
		s, err := SplitPath(p, info.Scheme)
		if err != nil {
			return err
		}
		h, err = t.openSplit(s, id, info)
		return err
	})
	return h, err
}

// createPath creates the object 'p' names. It needs a selector.
func (t *Thread) createPath(p string) (h core.Handle, err error) {
	name := TableName(p)
	if len(name) == len(p) || len(name)+1 == len(p) {
		return core.NoHandle, core.ErrInvalidInput.WithMessage("expected full path")
	}
	err = t.withTable(name, func(id core.TableID, info core.TableInfo) error {
		sel, err := core.ParseSelector(p[len(name)+1:], info.Scheme)
		if err != nil {
			return err
		}
		h, err = t.Create(id, sel)
		return err
	})
	return h, err
}

// OpenFile opens the object 'p' names. Without OpenCreate the path must name
// exactly one existing object.
func (t *Thread) OpenFile(p string, opts ...openOpt) (*File, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}
	var h core.Handle
	var err error
	if o.create {
		h, err = t.createPath(p)
	} else {
		h, err = t.openPath(p)
	}
	if err != nil {
		return nil, err
	}
	return &File{t: t, h: h, name: p}, nil
}

// DirEntry is a table of the table directory or an object of a table.
type DirEntry struct {
	IsTable   bool
	Table     core.TableID
	TableInfo core.TableInfo

	// Set for objects only.
	ID   core.ID
	Name core.Selector
}

// Path renders the path that names the entry.
func (d DirEntry) Path() string {
	if d.IsTable {
		return d.TableInfo.Name
	}
	s := Split{Kind: SplitID, Table: d.TableInfo.Name, Selector: d.Name, ID: d.ID}
	if d.TableInfo.Scheme == core.SchemePath {
		s.Kind = SplitSelector
	}
	return s.String()
}

// FileName is the last element of Path: the table name, the id of a tag
// object, or the base name of a path object.
func (d DirEntry) FileName() string {
	switch {
	case d.IsTable:
		return d.TableInfo.Name
	case d.TableInfo.Scheme == core.SchemePath:
		return path.Base(d.Name.Path)
	}
	return d.ID.String()
}

// ReadDir lists what 'p' names: every table for the empty path, or the
// objects of a table that match the path's selector.
func (t *Thread) ReadDir(p string) ([]DirEntry, error) {
	if p == "" {
		return t.listTables(), nil
	}
	var out []DirEntry
	err := t.withTable(TableName(p), func(id core.TableID, info core.TableInfo) error {
		s, err := SplitPath(p, info.Scheme)
		if err != nil {
			return err
		}
		if s.Kind == SplitID {
			return core.ErrInvalidInput.WithMessage("path names a single object")
		}
		out, err = t.listObjects(id, info, s.Selector)
		return err
	})
	return out, err
}

func (t *Thread) listTables() []DirEntry {
	var out []DirEntry
	var prev core.TableID
	for {
		id, info, ok := t.k.NextTable(prev)
		if !ok {
			return out
		}
		out = append(out, DirEntry{IsTable: true, Table: id, TableInfo: info})
		prev = id
	}
}

func (t *Thread) listObjects(id core.TableID, info core.TableInfo, sel core.Selector) ([]DirEntry, error) {
	q, err := t.Query(id, sel)
	if err != nil {
		return nil, err
	}
	defer t.CloseHandle(q)
	var out []DirEntry
	for {
		oi, ok, err := t.QueryNextInfo(q)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, DirEntry{Table: id, TableInfo: info, ID: oi.ID, Name: oi.Name})
	}
}

// FileInfo describes what a path names.
type FileInfo struct {
	Path  string
	IsDir bool

	// Bytes for an object, entries for a table. Service tables don't list
	// their objects, so their size is 0.
	Size int64
}

// Stat describes what 'p' names: the table directory, a table, or a single
// object.
func (t *Thread) Stat(p string) (FileInfo, error) {
	if p == "" {
		return FileInfo{IsDir: true, Size: int64(len(t.listTables()))}, nil
	}
	var fi FileInfo
	err := t.withTable(TableName(p), func(id core.TableID, info core.TableInfo) error {
		s, err := SplitPath(p, info.Scheme)
		if err != nil {
			return err
		}
		fi = FileInfo{Path: s.String()}
		if s.Kind == SplitTable {
			fi.IsDir = true
			if !info.Service {
				entries, err := t.listObjects(id, info, core.Selector{Kind: selectorKind(info.Scheme)})
				if err != nil {
					return err
				}
				fi.Size = int64(len(entries))
			}
			return nil
		}
		h, err := t.openSplit(s, id, info)
		if err != nil {
			return err
		}
		defer t.CloseHandle(h)
		fi.Size, err = t.Seek(h, 0, core.SeekEnd)
		return err
	})
	return fi, err
}

// Exists returns whether 'p' names something. A path matching several
// objects exists.
func (t *Thread) Exists(p string) (bool, error) {
	_, err := t.Stat(p)
	switch {
	case err == nil, core.ErrAmbiguous.Is(err):
		return true, nil
	case core.ErrNotFound.Is(err):
		return false, nil
	}
	return false, err
}

func selectorKind(scheme core.Scheme) core.SelectorKind {
	if scheme == core.SchemePath {
		return core.SelectorPath
	}
	return core.SelectorTags
}
