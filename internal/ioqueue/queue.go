// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT
//
// Package ioqueue implements the request/response rings shared between a
// userspace owner and the kernel.
//
// A Queue has two sides. The owner (exactly one goroutine at a time) calls
// Enqueue and Dequeue; the kernel calls Take and Post. Neither side ever needs
// a lock to touch its ring: each ring has one producer and one consumer, and
// the counters are published atomically after the slot contents.
//
// Requests that need memory (read/write data, selector bytes, ObjectInfo and
// Job output) refer to it by a buffer id instead of a pointer. The owner pins
// the buffer while enqueueing; the kernel resolves the id while taking the
// request, checking it against the pinned length, and keeps the slice for as
// long as it needs it.

package ioqueue

import (
	"sync"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/tbl/internal/core"
)

const (
	// Magic identifies a queue region ("TBLQ").
	Magic uint32 = 0x514c4254

	// Version is the wire format version described in wire.go.
	Version uint16 = 1

	// MaxLog2 bounds ring sizes to 4096 slots.
	MaxLog2 = 12
)

// Header is the fixed part of a queue region.
type Header struct {
	Magic        uint32
	Version      uint16
	RequestLog2  uint8
	ResponseLog2 uint8
}

// Validate checks that the header describes a region this code understands.
func (h Header) Validate() core.Error {
	if h.Magic != Magic || h.Version != Version {
		return core.ErrProtocol
	}
	if h.RequestLog2 > MaxLog2 || h.ResponseLog2 > MaxLog2 {
		return core.ErrProtocol
	}
	return core.NoError
}

// Queue is a pair of rings plus the table of pinned buffers.
type Queue struct {
	Header Header

	requests  *ring
	responses *ring

	// Pinned buffers, indexed by request slot. Guarded by lock since the
	// owner pins and the kernel resolves.
	lock sync.Mutex
	bufs [][]byte

	ready chan struct{}
}

// New creates a queue with 2^reqLog2 request slots and 2^respLog2 response
// slots.
func New(reqLog2, respLog2 uint8) (*Queue, core.Error) {
	h := Header{Magic: Magic, Version: Version, RequestLog2: reqLog2, ResponseLog2: respLog2}
	if err := h.Validate(); err != core.NoError {
		return nil, err
	}
	q := &Queue{
		Header:    h,
		requests:  newRing(reqLog2, RequestSize),
		responses: newRing(respLog2, ResponseSize),
		bufs:      make([][]byte, 1<<reqLog2),
		ready:     make(chan struct{}, 1),
	}
	return q, core.NoError
}

// RequestCapacity returns the number of request slots.
func (q *Queue) RequestCapacity() int {
	return int(q.requests.capacity())
}

// ResponseCapacity returns the number of response slots.
func (q *Queue) ResponseCapacity() int {
	return int(q.responses.capacity())
}

//
// Owner side.
//

// Enqueue submits 'r'. If 'buf' is non-nil it is pinned and r.BufID/r.BufLen
// are set to refer to it. A full ring is ErrProtocol and nothing is submitted.
func (q *Queue) Enqueue(r Request, buf []byte) core.Error {
	return q.requests.push(func(index uint32, b []byte) {
		r.BufID, r.BufLen = 0, 0
		q.lock.Lock()
		q.bufs[index] = buf
		q.lock.Unlock()
		if buf != nil {
			r.BufID = index + 1
			r.BufLen = uint32(len(buf))
		}
		r.encode(b)
		log.V(3).Infof("enqueue %s", r)
	})
}

// Dequeue returns the next response, if there is one.
func (q *Queue) Dequeue() (resp Response, ok bool, err core.Error) {
	ok, err = q.responses.pop(func(_ uint32, b []byte) {
		resp = decodeResponse(b)
	})
	return
}

//
// Kernel side.
//

// Taken is a request together with the buffer it refers to.
type Taken struct {
	Request

	// Buf is the pinned buffer cut to BufLen, or nil.
	Buf []byte

	// BufErr is set when the request named a buffer that doesn't exist or is
	// shorter than claimed. The kernel answers such a request with an error
	// instead of executing it.
	BufErr core.Error
}

// Take removes the next request from the ring. The buffer is resolved before
// the slot is released, so the owner cannot re-pin it underneath us.
func (q *Queue) Take() (t Taken, ok bool, err core.Error) {
	ok, err = q.requests.pop(func(index uint32, b []byte) {
		t.Request = decodeRequest(b)
		if t.BufID == 0 {
			return
		}
		if t.BufID-1 >= q.requests.capacity() {
			t.BufErr = core.ErrInvalidInput
			return
		}
		q.lock.Lock()
		buf := q.bufs[t.BufID-1]
		q.bufs[t.BufID-1] = nil
		q.lock.Unlock()
		if uint64(t.BufLen) > uint64(len(buf)) {
			t.BufErr = core.ErrInvalidInput
			return
		}
		t.Buf = buf[:t.BufLen]
	})
	return
}

// Post appends a response. It fails with ErrProtocol if the response ring is
// full; the kernel accounts for outstanding requests so that this never
// happens to a well-behaved owner.
func (q *Queue) Post(r Response) core.Error {
	return q.responses.push(func(_ uint32, b []byte) {
		r.encode(b)
	})
}

// PendingRequests returns how many requests the kernel has not taken yet.
func (q *Queue) PendingRequests() (int, core.Error) {
	n, err := q.requests.used()
	return int(n), err
}

// FreeResponses returns how many responses can be posted without overwriting
// one the owner hasn't read.
func (q *Queue) FreeResponses() (int, core.Error) {
	n, err := q.responses.used()
	return int(q.responses.capacity() - n), err
}

// HasResponse returns whether a response is waiting to be dequeued.
func (q *Queue) HasResponse() bool {
	n, err := q.responses.used()
	return err != core.NoError || n > 0
}

// Signal wakes up an owner blocked in the kernel's wait entry point. Signals
// don't accumulate: any number of signals before a wait wake it once.
func (q *Queue) Signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready returns the channel Signal sends on.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
