// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

import (
	"math"
	"strconv"
)

/*

Identifiers come in three flavors:

 - Handle names one live kernel resource held by userspace: an open object, a
   query cursor, a table opened for serving jobs. Handles are allocated by the
   kernel only. Zero is never a valid handle.

 - TableID names one table in the table directory. It is stable for the
   lifetime of the kernel.

 - ID names one object inside a table. It is only meaningful together with the
   TableID of the table that issued it.

*/

// Handle names a live kernel resource.
type Handle uint32

// NoHandle is the zero handle, which is never issued by the kernel.
const NoHandle Handle = 0

// IsValid returns if 'h' could name a live resource.
func (h Handle) IsValid() bool {
	return h != NoHandle
}

// MaxHandle is the largest handle value that fits in a non-negative response
// result on every platform we care about.
const MaxHandle = math.MaxInt32

// TableID names a table in the table directory.
type TableID uint32

// ID names an object within a table.
type ID uint64

// String returns the decimal form of the id, as used in paths.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses the decimal id at the end of a path. Only ASCII digits are
// accepted: no sign, no whitespace, no base prefix. An empty string or a value
// that doesn't fit in 64 bits is invalid.
func ParseID(s string) (ID, error) {
	if len(s) == 0 {
		return 0, ErrInvalidInput.WithMessage("empty ID")
	}
	var v uint64
	for i := 0; i < len(s); i++ {
		d := s[i]
		if d < '0' || d > '9' {
			return 0, ErrInvalidInput.WithMessage("invalid ID digit")
		}
		if v > (math.MaxUint64-uint64(d-'0'))/10 {
			return 0, ErrInvalidInput.WithMessage("ID out of range")
		}
		v = v*10 + uint64(d-'0')
	}
	return ID(v), nil
}

// Scheme is the way objects of a table are addressed. It is fixed when the
// table is created.
type Scheme uint8

const (
	// SchemeTags addresses objects by a set of tags, disambiguated by id.
	SchemeTags Scheme = iota

	// SchemePath addresses objects by a sub-path in the table's namespace.
	SchemePath
)

func (s Scheme) String() string {
	switch s {
	case SchemeTags:
		return "tags"
	case SchemePath:
		return "path"
	}
	return "unknown"
}

// ParseScheme is the inverse of Scheme.String.
func ParseScheme(s string) (Scheme, error) {
	switch s {
	case "tags":
		return SchemeTags, nil
	case "path":
		return SchemePath, nil
	}
	return 0, ErrInvalidInput.WithMessage("unknown addressing scheme " + strconv.Quote(s))
}

// Whence is the origin of a seek.
type Whence uint8

// Seek origins. These match io.SeekStart and friends.
const (
	SeekStart Whence = iota
	SeekCurrent
	SeekEnd
)

// Readiness bits returned by poll.
const (
	PollRead  = 1 << 0
	PollWrite = 1 << 1
)
