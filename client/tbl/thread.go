// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package tbl is the userspace side of the table/object I/O boundary.
//
// Every operation is one request on the calling Thread's I/O queue: the
// request is enqueued, the kernel is kicked, and the thread blocks in the
// kernel's wait entry point until the response arrives. A Thread therefore
// has at most one request in flight, and belongs to one goroutine at a time.
// Concurrent users create one Thread each.
//
// On top of the raw opcode set (io.go) sit the path projection (path.go,
// fs.go), the File type, and the job loop used by services (jobs.go).
package tbl

import (
	"sync"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/tbl/internal/core"
	"github.com/westerndigitalcorporation/tbl/internal/ioqueue"
	"github.com/westerndigitalcorporation/tbl/internal/kernel"
)

// Kernel is what a Thread needs from the kernel: the queue entry points and
// the table directory calls.
type Kernel interface {
	CreateQueue(reqLog2, respLog2 uint8, pri kernel.Priority) (*ioqueue.Queue, core.Error)
	ProcessQueue(q *ioqueue.Queue) core.Error
	WaitQueue(q *ioqueue.Queue) core.Error
	DestroyQueue(q *ioqueue.Queue) core.Error
	NextTable(prev core.TableID) (core.TableID, core.TableInfo, bool)
	CreateTable(name string, scheme core.Scheme) (core.Handle, core.Error)
}

// Thread owns one I/O queue. The queue is created on first use and destroyed
// by Close.
type Thread struct {
	k    Kernel
	opts Options

	// Held for the duration of a call; a second caller finding it held is a
	// protocol violation, not something to wait for.
	inFlight sync.Mutex

	q      *ioqueue.Queue
	seq    uint64
	closed bool

	tables *tableCache
}

// NewThread returns a Thread talking to 'k'. Invalid options are fatal.
func NewThread(k Kernel, opts Options) *Thread {
	if err := opts.Validate(); err != nil {
		log.Fatalf("invalid thread options: %s", err)
	}
	return &Thread{k: k, opts: opts, tables: newTableCache(opts.TableCacheSize)}
}

// queue returns the thread's queue, creating it if needed. Failing to create
// it is fatal, since no I/O is possible without it. Must hold inFlight.
func (t *Thread) queue() *ioqueue.Queue {
	if t.q == nil {
		q, err := t.k.CreateQueue(t.opts.RequestLog2, t.opts.ResponseLog2, t.opts.Priority)
		if err != core.NoError {
			log.Fatalf("couldn't create I/O queue: %s", err)
		}
		t.q = q
	}
	return t.q
}

// call runs one request through the queue and returns the non-negative
// result, or the error the kernel answered with.
func (t *Thread) call(r ioqueue.Request, buf []byte) (int64, error) {
	if !t.inFlight.TryLock() {
		return 0, core.ErrProtocol.WithMessage("request already in flight on this thread")
	}
	defer t.inFlight.Unlock()
	if t.closed {
		return 0, core.ErrProtocol.WithMessage("thread is closed")
	}

	q := t.queue()
	t.seq++
	r.Tag = t.seq
	if err := q.Enqueue(r, buf); err != core.NoError {
		return 0, err.Error()
	}
	if err := t.k.ProcessQueue(q); err != core.NoError {
		return 0, err.Error()
	}

	for {
		resp, ok, err := q.Dequeue()
		if err != core.NoError {
			return 0, err.Error()
		}
		if ok {
			if resp.Tag != r.Tag {
				log.Errorf("response tag %d does not match request %s", resp.Tag, r)
				return 0, core.ErrProtocol.WithMessage("response tag mismatch")
			}
			if resp.Value < 0 {
				return 0, core.FromResult(resp.Value).Error()
			}
			return resp.Value, nil
		}
		if err := t.k.WaitQueue(q); err != core.NoError {
			return 0, err.Error()
		}
	}
}

// Close destroys the thread's queue. Further calls fail. Close is idempotent.
func (t *Thread) Close() {
	t.inFlight.Lock()
	defer t.inFlight.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if t.q != nil {
		if err := t.k.DestroyQueue(t.q); err != core.NoError {
			log.Errorf("destroying I/O queue: %s", err)
		}
		t.q = nil
	}
}
