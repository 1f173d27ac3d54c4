// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package kernel

import (
	"sync"

	"github.com/westerndigitalcorporation/tbl/internal/core"
)

// handleKind is the kind of resource a handle names.
type handleKind int

const (
	kindObject handleKind = iota
	kindQuery
	kindTable
	kindQueue
)

func (k handleKind) String() string {
	switch k {
	case kindObject:
		return "object"
	case kindQuery:
		return "query"
	case kindTable:
		return "table"
	case kindQueue:
		return "queue"
	}
	return "unknown"
}

// handleEntry is the kernel side of one live handle.
type handleEntry struct {
	kind  handleKind
	table *tableEntry

	// Protects the mutable per-handle state below. A handle is owned by one
	// userspace entity, but nothing stops two queues from naming it at once.
	lock sync.Mutex

	// kindObject: which object, and the position of this handle in it.
	id     core.ID
	offset int64

	// kindQuery: the cursor, an ObjectInfo that didn't fit the caller's
	// buffer, and whether the cursor has run dry. Once done is set the query
	// never yields again.
	sel     core.Selector
	cursor  Cursor
	stashed *core.ObjectInfo
	done    bool

	// kindTable: the jobs this handle has taken and not finished.
	owned map[uint64]*job

	// kindQueue: the queue this handle names.
	qs *queueState
}

// handleTable allocates handles. Handles are handed out in increasing order,
// wrapping at core.MaxHandle, and skip any value that is still live. Zero is
// never issued.
type handleTable struct {
	live map[core.Handle]*handleEntry
	next core.Handle
}

func newHandleTable() handleTable {
	return handleTable{live: make(map[core.Handle]*handleEntry), next: 1}
}

// alloc names 'e' with a fresh handle. It fails with ErrBusy only if every
// handle is live.
func (t *handleTable) alloc(e *handleEntry) (core.Handle, core.Error) {
	if len(t.live) >= core.MaxHandle {
		return core.NoHandle, core.ErrBusy
	}
	for {
		h := t.next
		if t.next == core.MaxHandle {
			t.next = 1
		} else {
			t.next++
		}
		if _, ok := t.live[h]; !ok {
			t.live[h] = e
			return h, core.NoError
		}
	}
}

// get returns the entry for 'h', or ErrBadHandle.
func (t *handleTable) get(h core.Handle) (*handleEntry, core.Error) {
	if e, ok := t.live[h]; ok {
		return e, core.NoError
	}
	return nil, core.ErrBadHandle
}

// release forgets 'h' and returns what it named.
func (t *handleTable) release(h core.Handle) (*handleEntry, core.Error) {
	e, ok := t.live[h]
	if !ok {
		return nil, core.ErrBadHandle
	}
	delete(t.live, h)
	return e, core.NoError
}

// count returns the number of live handles of each kind.
func (t *handleTable) count() map[handleKind]int {
	out := make(map[handleKind]int)
	for _, e := range t.live {
		out[e.kind]++
	}
	return out
}
