// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package ioqueue

import (
	"encoding/binary"
	"fmt"

	"github.com/westerndigitalcorporation/tbl/internal/core"
)

// Op is the opcode of a request.
type Op uint8

// Opcodes. Zero is invalid so a zeroed slot is never a valid request.
const (
	OpRead Op = iota + 1
	OpWrite
	OpOpen
	OpCreate
	OpQuery
	OpQueryNext
	OpSeek
	OpPoll
	OpClose
	OpTakeJob
	OpFinishJob
	OpDuplicate
	opMax
)

var opNames = map[Op]string{
	OpRead:      "read",
	OpWrite:     "write",
	OpOpen:      "open",
	OpCreate:    "create",
	OpQuery:     "query",
	OpQueryNext: "query_next",
	OpSeek:      "seek",
	OpPoll:      "poll",
	OpClose:     "close",
	OpTakeJob:   "take_job",
	OpFinishJob: "finish_job",
	OpDuplicate: "duplicate",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// IsValid returns whether 'o' is a known opcode.
func (o Op) IsValid() bool {
	return o > 0 && o < opMax
}

// Request is one entry of the request ring.
type Request struct {
	Op     Op
	Whence core.Whence
	Handle core.Handle

	// Tag is copied verbatim into the matching response.
	Tag uint64

	Table core.TableID

	// BufID names the pinned buffer that stands in for a pointer. Zero means
	// no buffer. BufLen is how much of it the request may touch.
	BufID  uint32
	BufLen uint32

	ID     core.ID
	Offset int64
}

// Response is one entry of the response ring.
type Response struct {
	Tag uint64

	// Value is the success payload when non-negative, a negated core.Error
	// otherwise.
	Value int64
}

/*

Request slot, 48 bytes:

	 0  op u8 | whence u8 | _ u16 | handle u32
	 8  tag u64
	16  table u32 | bufid u32
	24  buflen u32 | _ u32
	32  id u64
	40  offset i64

Response slot, 16 bytes:

	 0  tag u64
	 8  value i64

*/

const (
	// RequestSize is the size of one request slot.
	RequestSize = 48

	// ResponseSize is the size of one response slot.
	ResponseSize = 16
)

func (r *Request) encode(b []byte) {
	_ = b[RequestSize-1]
	b[0] = byte(r.Op)
	b[1] = byte(r.Whence)
	binary.LittleEndian.PutUint16(b[2:4], 0)
	binary.LittleEndian.PutUint32(b[4:8], uint32(r.Handle))
	binary.LittleEndian.PutUint64(b[8:16], r.Tag)
	binary.LittleEndian.PutUint32(b[16:20], uint32(r.Table))
	binary.LittleEndian.PutUint32(b[20:24], r.BufID)
	binary.LittleEndian.PutUint32(b[24:28], r.BufLen)
	binary.LittleEndian.PutUint32(b[28:32], 0)
	binary.LittleEndian.PutUint64(b[32:40], uint64(r.ID))
	binary.LittleEndian.PutUint64(b[40:48], uint64(r.Offset))
}

func decodeRequest(b []byte) Request {
	_ = b[RequestSize-1]
	return Request{
		Op:     Op(b[0]),
		Whence: core.Whence(b[1]),
		Handle: core.Handle(binary.LittleEndian.Uint32(b[4:8])),
		Tag:    binary.LittleEndian.Uint64(b[8:16]),
		Table:  core.TableID(binary.LittleEndian.Uint32(b[16:20])),
		BufID:  binary.LittleEndian.Uint32(b[20:24]),
		BufLen: binary.LittleEndian.Uint32(b[24:28]),
		ID:     core.ID(binary.LittleEndian.Uint64(b[32:40])),
		Offset: int64(binary.LittleEndian.Uint64(b[40:48])),
	}
}

func (r *Response) encode(b []byte) {
	_ = b[ResponseSize-1]
	binary.LittleEndian.PutUint64(b[0:8], r.Tag)
	binary.LittleEndian.PutUint64(b[8:16], uint64(r.Value))
}

func decodeResponse(b []byte) Response {
	_ = b[ResponseSize-1]
	return Response{
		Tag:   binary.LittleEndian.Uint64(b[0:8]),
		Value: int64(binary.LittleEndian.Uint64(b[8:16])),
	}
}

func (r Request) String() string {
	return fmt.Sprintf("%s tag=%d h=%d table=%d id=%d buf=%d/%d off=%d whence=%d",
		r.Op, r.Tag, r.Handle, r.Table, r.ID, r.BufID, r.BufLen, r.Offset, r.Whence)
}
