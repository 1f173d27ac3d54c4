// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package kernel

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/westerndigitalcorporation/tbl/internal/core"
)

// MemTable is a Table held entirely in memory. Drivers use it to publish the
// objects they find (e.g. one object per PCI function), and tests use it as a
// fixture.
type MemTable struct {
	scheme core.Scheme

	lock    sync.Mutex
	objects map[core.ID]*memObject
	nextID  core.ID
}

type memObject struct {
	name core.Selector
	data []byte
}

// NewMemTable returns an empty table addressed by 'scheme'.
func NewMemTable(scheme core.Scheme) *MemTable {
	return &MemTable{scheme: scheme, objects: make(map[core.ID]*memObject), nextID: 1}
}

// Scheme implements Table.
func (t *MemTable) Scheme() core.Scheme {
	return t.scheme
}

// Add publishes an object with a chosen id. It fails if the id is taken, or
// in the path scheme if the path is.
func (t *MemTable) Add(id core.ID, name core.Selector, data []byte) core.Error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if err := t.checkName(name); err != core.NoError {
		return err
	}
	if _, ok := t.objects[id]; ok {
		return core.ErrAlreadyExists
	}
	t.objects[id] = &memObject{name: name, data: append([]byte(nil), data...)}
	if id >= t.nextID {
		t.nextID = id + 1
	}
	return core.NoError
}

// Remove withdraws an object, e.g. on hot-unplug.
func (t *MemTable) Remove(id core.ID) core.Error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.objects[id]; !ok {
		return core.ErrNotFound
	}
	delete(t.objects, id)
	return core.NoError
}

// checkName validates the name of an object being added. Must hold lock.
func (t *MemTable) checkName(name core.Selector) core.Error {
	if name.Kind != selectorKind(t.scheme) || name.IsEmpty() {
		return core.ErrInvalidInput
	}
	if t.scheme == core.SchemePath {
		if _, ok := t.byPath(name.Path); ok {
			return core.ErrAlreadyExists
		}
	}
	return core.NoError
}

// byPath finds the object with an exact path. Must hold lock.
func (t *MemTable) byPath(path string) (core.ID, bool) {
	for id, o := range t.objects {
		if o.name.Path == path {
			return id, true
		}
	}
	return 0, false
}

// matching returns the sorted ids of the objects 'sel' matches. Must hold lock.
func (t *MemTable) matching(sel core.Selector) []core.ID {
	var ids []core.ID
	for id, o := range t.objects {
		if selectorMatches(o.name, sel) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Open implements Table.
func (t *MemTable) Open(sel core.Selector) (core.ID, core.Error) {
	if sel.Kind != selectorKind(t.scheme) {
		return 0, core.ErrInvalidInput
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.scheme == core.SchemePath {
		if id, ok := t.byPath(sel.Path); ok {
			return id, core.NoError
		}
		return 0, core.ErrNotFound
	}
	switch ids := t.matching(sel); len(ids) {
	case 0:
		return 0, core.ErrNotFound
	case 1:
		return ids[0], core.NoError
	default:
		return 0, core.ErrAmbiguous
	}
}

// Lookup implements Table.
func (t *MemTable) Lookup(id core.ID) core.Error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.objects[id]; !ok {
		return core.ErrNotFound
	}
	return core.NoError
}

// Create implements Table.
func (t *MemTable) Create(sel core.Selector) (core.ID, core.Error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if err := t.checkName(sel); err != core.NoError {
		return 0, err
	}
	id := t.nextID
	t.nextID++
	t.objects[id] = &memObject{name: sel}
	return id, core.NoError
}

// Query implements Table. The cursor is a snapshot: objects added later are
// not seen by it.
func (t *MemTable) Query(sel core.Selector) (Cursor, core.Error) {
	if sel.Kind != selectorKind(t.scheme) {
		return nil, core.ErrInvalidInput
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	ids := t.matching(sel)
	infos := make([]core.ObjectInfo, len(ids))
	for i, id := range ids {
		infos[i] = core.ObjectInfo{ID: id, Name: t.objects[id].name}
	}
	return &sliceCursor{infos: infos}, core.NoError
}

// ReadAt implements Table.
func (t *MemTable) ReadAt(id core.ID, p []byte, off int64) (int, core.Error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	o, ok := t.objects[id]
	if !ok {
		return 0, core.ErrNotFound
	}
	if off >= int64(len(o.data)) {
		return 0, core.NoError
	}
	return copy(p, o.data[off:]), core.NoError
}

// WriteAt implements Table.
func (t *MemTable) WriteAt(id core.ID, p []byte, off int64) (int, core.Error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	o, ok := t.objects[id]
	if !ok {
		return 0, core.ErrNotFound
	}
	data, err := writeAt(o.data, p, off)
	if err != core.NoError {
		return 0, err
	}
	o.data = data
	return len(p), core.NoError
}

// Size implements Table.
func (t *MemTable) Size(id core.ID) (int64, core.Error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	o, ok := t.objects[id]
	if !ok {
		return 0, core.ErrNotFound
	}
	return int64(len(o.data)), core.NoError
}

// writeAt returns 'data' with 'p' written at 'off', zero-filling any gap. An
// end position past math.MaxInt is ErrInvalidInput.
func writeAt(data, p []byte, off int64) ([]byte, core.Error) {
	if off < 0 || off > math.MaxInt-int64(len(p)) {
		return nil, core.ErrInvalidInput
	}
	if end := off + int64(len(p)); end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[off:], p)
	return data, core.NoError
}

// selectorKind is the kind of selector that addresses objects in 'scheme'.
func selectorKind(scheme core.Scheme) core.SelectorKind {
	if scheme == core.SchemePath {
		return core.SelectorPath
	}
	return core.SelectorTags
}

// selectorMatches returns whether an object named 'name' is in the result of
// a query for 'sel'. Tags match when every filter tag is present; paths match
// when the filter is empty, equal, or a parent directory.
func selectorMatches(name, sel core.Selector) bool {
	if name.Kind != sel.Kind {
		return false
	}
	if sel.Kind == core.SelectorTags {
		return name.Tags.Matches(sel.Tags)
	}
	return pathMatches(name.Path, sel.Path)
}

func pathMatches(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix == "" || path == prefix || strings.HasPrefix(path, prefix+"/")
}
