// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

import (
	"encoding/binary"
	"fmt"
)

// This file contains the structs that cross the queue inside request buffers,
// together with their byte layouts. All integers are little endian.

// TableInfo describes one table of the table directory.
type TableInfo struct {
	// Display name, the first segment of a path.
	Name string

	// How objects in this table are addressed.
	Scheme Scheme

	// Whether this table is served by a userspace process through jobs.
	Service bool
}

// ObjectInfo describes one object returned by a query.
type ObjectInfo struct {
	ID   ID
	Name Selector
}

/*

ObjectInfo layout:

	+--------+---------+-------+-----------+------------------------------+
	| id u64 | kind u8 | _ u8  | count u16 | count * (len u16, len bytes) |
	+--------+---------+-------+-----------+------------------------------+

For a tag selector the entries are the tags; for a path selector there is one
entry, the path (or none when the path is empty).

*/

const objectInfoHeader = 12

// Size returns the number of bytes MarshalTo needs.
func (o ObjectInfo) Size() int {
	n := objectInfoHeader
	for _, e := range o.entries() {
		n += 2 + len(e)
	}
	return n
}

func (o ObjectInfo) entries() []string {
	if o.Name.Kind == SelectorPath {
		if o.Name.Path == "" {
			return nil
		}
		return []string{o.Name.Path}
	}
	out := make([]string, len(o.Name.Tags))
	for i, t := range o.Name.Tags {
		out[i] = string(t)
	}
	return out
}

// MarshalTo writes o into 'buf' and returns the number of bytes written. A
// buffer that is too small is ErrInvalidInput and leaves 'buf' untouched.
func (o ObjectInfo) MarshalTo(buf []byte) (int, Error) {
	entries := o.entries()
	if len(entries) > MaxTags || o.Size() > len(buf) {
		return 0, ErrInvalidInput
	}
	for _, e := range entries {
		if len(e) > 0xffff {
			return 0, ErrInvalidInput
		}
	}
	binary.LittleEndian.PutUint64(buf[0:8], uint64(o.ID))
	buf[8] = byte(o.Name.Kind)
	buf[9] = 0
	binary.LittleEndian.PutUint16(buf[10:12], uint16(len(entries)))
	off := objectInfoHeader
	for _, e := range entries {
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(e)))
		off += 2
		off += copy(buf[off:], e)
	}
	return off, NoError
}

// UnmarshalObjectInfo parses an ObjectInfo written by MarshalTo. Every length
// is checked against 'buf'.
func UnmarshalObjectInfo(buf []byte) (ObjectInfo, Error) {
	var o ObjectInfo
	if len(buf) < objectInfoHeader {
		return o, ErrProtocol
	}
	o.ID = ID(binary.LittleEndian.Uint64(buf[0:8]))
	o.Name.Kind = SelectorKind(buf[8])
	count := int(binary.LittleEndian.Uint16(buf[10:12]))
	if o.Name.Kind != SelectorTags && o.Name.Kind != SelectorPath {
		return o, ErrProtocol
	}
	if o.Name.Kind == SelectorPath && count > 1 || count > MaxTags {
		return o, ErrProtocol
	}
	off := objectInfoHeader
	for i := 0; i < count; i++ {
		if off+2 > len(buf) {
			return o, ErrProtocol
		}
		l := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if off+l > len(buf) {
			return o, ErrProtocol
		}
		e := string(buf[off : off+l])
		off += l
		if o.Name.Kind == SelectorPath {
			o.Name.Path = e
		} else {
			o.Name.Tags = append(o.Name.Tags, Tag(e))
		}
	}
	return o, NoError
}

// JobType says what a client asked of a service table.
type JobType uint8

// Job types. The zero value is invalid so that an all-zero buffer is never
// mistaken for a job.
const (
	JobOpen JobType = iota + 1
	JobCreate
	JobRead
	JobWrite
	JobSeek
	JobClose
)

func (t JobType) String() string {
	switch t {
	case JobOpen:
		return "open"
	case JobCreate:
		return "create"
	case JobRead:
		return "read"
	case JobWrite:
		return "write"
	case JobSeek:
		return "seek"
	case JobClose:
		return "close"
	}
	return fmt.Sprintf("job(%d)", uint8(t))
}

// Job is a unit of work handed from a service table to the process serving it.
//
// On take, the kernel fills in Type, JobID and the fields relevant to the type:
//
//	open, create: Data holds the selector bytes.
//	read:         ObjectID, Count (most bytes the client will accept).
//	write:        ObjectID, Data (bytes to write).
//	seek:         ObjectID, Offset, Whence.
//	close:        ObjectID.
//
// On finish, the server sets Result (a non-negative success value or a negated
// core.Error) and for open/create ObjectID, for read Data.
type Job struct {
	Type     JobType
	Whence   Whence
	Count    uint32
	JobID    uint64
	ObjectID ID
	Offset   int64
	Result   int64
	Data     []byte
}

/*

Job layout:

	+---------+-----------+-----+-----------+-------------+-------+
	| type u8 | whence u8 | _16 | count u32 | datalen u32 | _ u32 |
	+---------+-----------+-----+-----------+-------------+-------+
	| jobid u64 | objectid u64 | offset i64 | result i64 | data   |
	+-----------+--------------+------------+------------+--------+

*/

// JobHeaderSize is the fixed part of a marshaled job.
const JobHeaderSize = 48

// Size returns the number of bytes MarshalTo needs.
func (j *Job) Size() int {
	return JobHeaderSize + len(j.Data)
}

// MarshalTo writes j into 'buf'. A buffer that is too small is ErrInvalidInput.
func (j *Job) MarshalTo(buf []byte) (int, Error) {
	if j.Size() > len(buf) {
		return 0, ErrInvalidInput
	}
	buf[0] = byte(j.Type)
	buf[1] = byte(j.Whence)
	binary.LittleEndian.PutUint16(buf[2:4], 0)
	binary.LittleEndian.PutUint32(buf[4:8], j.Count)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(j.Data)))
	binary.LittleEndian.PutUint32(buf[12:16], 0)
	binary.LittleEndian.PutUint64(buf[16:24], j.JobID)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(j.ObjectID))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(j.Offset))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(j.Result))
	n := JobHeaderSize + copy(buf[JobHeaderSize:], j.Data)
	return n, NoError
}

// UnmarshalJob parses a job written by MarshalTo. The returned job's Data is a
// copy and does not alias 'buf'.
func UnmarshalJob(buf []byte) (Job, Error) {
	var j Job
	if len(buf) < JobHeaderSize {
		return j, ErrInvalidInput
	}
	j.Type = JobType(buf[0])
	j.Whence = Whence(buf[1])
	j.Count = binary.LittleEndian.Uint32(buf[4:8])
	dlen := int(binary.LittleEndian.Uint32(buf[8:12]))
	j.JobID = binary.LittleEndian.Uint64(buf[16:24])
	j.ObjectID = ID(binary.LittleEndian.Uint64(buf[24:32]))
	j.Offset = int64(binary.LittleEndian.Uint64(buf[32:40]))
	j.Result = int64(binary.LittleEndian.Uint64(buf[40:48]))
	if dlen > len(buf)-JobHeaderSize {
		return j, ErrInvalidInput
	}
	if dlen > 0 {
		j.Data = append([]byte(nil), buf[JobHeaderSize:JobHeaderSize+dlen]...)
	}
	return j, NoError
}
