// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package kernel

import (
	"github.com/westerndigitalcorporation/tbl/internal/core"
)

// Table is a driver-backed table: the kernel calls into it directly to
// resolve, enumerate, and do I/O on its objects. Tables served by a userspace
// process through jobs don't implement this; see serviceTable.
//
// Implementations must be safe for concurrent use.
type Table interface {
	// Scheme is how objects of this table are addressed. It must not change.
	Scheme() core.Scheme

	// Open returns the id of the one object 'sel' addresses. For the tag
	// scheme that is the one object whose tags match; more than one match is
	// ErrAmbiguous.
	Open(sel core.Selector) (core.ID, core.Error)

	// Lookup returns NoError if object 'id' exists.
	Lookup(id core.ID) core.Error

	// Create makes a new object named by 'sel' and returns its id.
	Create(sel core.Selector) (core.ID, core.Error)

	// Query returns a cursor over the objects 'sel' matches.
	Query(sel core.Selector) (Cursor, core.Error)

	// ReadAt reads from object 'id' at 'off'. Reading at or past the end
	// returns 0 and NoError.
	ReadAt(id core.ID, p []byte, off int64) (int, core.Error)

	// WriteAt writes to object 'id' at 'off', growing it as needed.
	WriteAt(id core.ID, p []byte, off int64) (int, core.Error)

	// Size returns the length of object 'id'.
	Size(id core.ID) (int64, core.Error)
}

// Cursor walks the result of a query. Next returns false once the query is
// exhausted; the kernel never calls it again after that.
type Cursor interface {
	Next() (core.ObjectInfo, bool)
}

// sliceCursor is a Cursor over a snapshot taken when the query was opened.
type sliceCursor struct {
	infos []core.ObjectInfo
}

func (c *sliceCursor) Next() (core.ObjectInfo, bool) {
	if len(c.infos) == 0 {
		return core.ObjectInfo{}, false
	}
	info := c.infos[0]
	c.infos = c.infos[1:]
	return info, true
}

// tableEntry is one slot of the table directory.
type tableEntry struct {
	id   core.TableID
	info core.TableInfo

	// Exactly one of these is set.
	impl    Table
	service *serviceTable
}
