// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package kernel

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/westerndigitalcorporation/tbl/internal/core"
	"github.com/westerndigitalcorporation/tbl/internal/ioqueue"
)

func newTestKernel(t *testing.T) *Kernel {
	k, err := New(DefaultTestConfig)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	t.Cleanup(k.Stop)
	return k
}

// testQueue is the owner side of one queue, doing what a client thread does:
// enqueue one request, kick, wait for the answer.
type testQueue struct {
	t   *testing.T
	k   *Kernel
	q   *ioqueue.Queue
	seq uint64
}

func newTestQueue(t *testing.T, k *Kernel) *testQueue {
	q, err := k.CreateQueue(2, 2, MedPri)
	if err != core.NoError {
		t.Fatalf("CreateQueue: %s", err)
	}
	return &testQueue{t: t, k: k, q: q}
}

func (tq *testQueue) call(r ioqueue.Request, buf []byte) int64 {
	tq.seq++
	r.Tag = tq.seq
	if err := tq.q.Enqueue(r, buf); err != core.NoError {
		tq.t.Fatalf("enqueue %s: %s", r, err)
	}
	if err := tq.k.ProcessQueue(tq.q); err != core.NoError {
		tq.t.Fatalf("kick: %s", err)
	}
	for {
		resp, ok, err := tq.q.Dequeue()
		if err != core.NoError {
			tq.t.Fatalf("dequeue: %s", err)
		}
		if ok {
			if resp.Tag != r.Tag {
				tq.t.Fatalf("response tag %d for request %d", resp.Tag, r.Tag)
			}
			return resp.Value
		}
		if err := tq.k.WaitQueue(tq.q); err != core.NoError {
			tq.t.Fatalf("wait: %s", err)
		}
	}
}

// ok calls and expects success.
func (tq *testQueue) ok(r ioqueue.Request, buf []byte) int64 {
	v := tq.call(r, buf)
	if v < 0 {
		tq.t.Fatalf("%s failed: %s", r.Op, core.FromResult(v))
	}
	return v
}

// fails calls and expects 'want'.
func (tq *testQueue) fails(r ioqueue.Request, buf []byte, want core.Error) {
	if got := core.FromResult(tq.call(r, buf)); got != want {
		tq.t.Fatalf("%s: got %s, expected %s", r.Op, got, want)
	}
}

func pciTable(t *testing.T) *MemTable {
	m := NewMemTable(core.SchemeTags)
	sel, _ := core.ParseSelector("vendor-id:1234,device-id:1111", core.SchemeTags)
	if err := m.Add(8, sel, []byte("config space")); err != core.NoError {
		t.Fatal(err)
	}
	sel, _ = core.ParseSelector("vendor-id:1234,device-id:2222", core.SchemeTags)
	if err := m.Add(9, sel, nil); err != core.NoError {
		t.Fatal(err)
	}
	return m
}

func TestOpenReadSeek(t *testing.T) {
	k := newTestKernel(t)
	id, err := k.AddTable("pci", pciTable(t))
	if err != core.NoError {
		t.Fatal(err)
	}
	tq := newTestQueue(t, k)

	h := tq.ok(ioqueue.Request{Op: ioqueue.OpOpen, Table: id}, []byte("device-id:1111,vendor-id:1234"))
	if h <= 0 {
		t.Fatalf("bad handle %d", h)
	}
	buf := make([]byte, 6)
	if n := tq.ok(ioqueue.Request{Op: ioqueue.OpRead, Handle: core.Handle(h)}, buf); n != 6 || string(buf) != "config" {
		t.Fatalf("read %d %q", n, buf)
	}
	if off := tq.ok(ioqueue.Request{Op: ioqueue.OpSeek, Handle: core.Handle(h), Whence: core.SeekCurrent, Offset: 1}, nil); off != 7 {
		t.Fatalf("seek returned %d", off)
	}
	if n := tq.ok(ioqueue.Request{Op: ioqueue.OpRead, Handle: core.Handle(h)}, buf); n != 5 || string(buf[:n]) != "space" {
		t.Fatalf("read %d %q", n, buf[:n])
	}
	// EOF is a read of 0 bytes.
	if n := tq.ok(ioqueue.Request{Op: ioqueue.OpRead, Handle: core.Handle(h)}, buf); n != 0 {
		t.Fatalf("read at EOF returned %d", n)
	}
	if off := tq.ok(ioqueue.Request{Op: ioqueue.OpSeek, Handle: core.Handle(h), Whence: core.SeekEnd, Offset: -5}, nil); off != 7 {
		t.Fatalf("seek from end returned %d", off)
	}
	tq.fails(ioqueue.Request{Op: ioqueue.OpSeek, Handle: core.Handle(h), Whence: core.SeekStart, Offset: -1}, nil, core.ErrInvalidInput)

	// Open by id, without a selector.
	tq.ok(ioqueue.Request{Op: ioqueue.OpOpen, Table: id, ID: 9}, nil)
	tq.fails(ioqueue.Request{Op: ioqueue.OpOpen, Table: id, ID: 10}, nil, core.ErrNotFound)

	// Two objects share vendor-id:1234.
	tq.fails(ioqueue.Request{Op: ioqueue.OpOpen, Table: id}, []byte("vendor-id:1234"), core.ErrAmbiguous)
	tq.fails(ioqueue.Request{Op: ioqueue.OpOpen, Table: id}, []byte("vendor-id:9999"), core.ErrNotFound)
	tq.fails(ioqueue.Request{Op: ioqueue.OpOpen, Table: id + 1}, nil, core.ErrNotFound)
	tq.fails(ioqueue.Request{Op: ioqueue.OpOpen, Table: id}, []byte("a,,b"), core.ErrInvalidInput)
}

func TestQueryExhaustionIsTerminal(t *testing.T) {
	k := newTestKernel(t)
	id, _ := k.AddTable("pci", pciTable(t))
	tq := newTestQueue(t, k)

	q := core.Handle(tq.ok(ioqueue.Request{Op: ioqueue.OpQuery, Table: id}, []byte("vendor-id:1234")))

	// A buffer too small keeps the entry for the next call.
	tq.fails(ioqueue.Request{Op: ioqueue.OpQueryNext, Handle: q}, make([]byte, 4), core.ErrInvalidInput)

	var got []core.ID
	buf := make([]byte, 512)
	for tq.ok(ioqueue.Request{Op: ioqueue.OpQueryNext, Handle: q}, buf) == 1 {
		info, err := core.UnmarshalObjectInfo(buf)
		if err != core.NoError {
			t.Fatal(err)
		}
		got = append(got, info.ID)
	}
	if len(got) != 2 || got[0] != 8 || got[1] != 9 {
		t.Fatalf("query returned %v", got)
	}

	// Adding a matching object later never resurrects the query.
	sel, _ := core.ParseSelector("vendor-id:1234", core.SchemeTags)
	k.tables[id-1].impl.(*MemTable).Add(10, sel, nil)
	for i := 0; i < 3; i++ {
		if v := tq.ok(ioqueue.Request{Op: ioqueue.OpQueryNext, Handle: q}, buf); v != 0 {
			t.Fatalf("query yielded again after exhaustion")
		}
	}

	tq.fails(ioqueue.Request{Op: ioqueue.OpSeek, Handle: q}, nil, core.ErrUnsupported)
	tq.fails(ioqueue.Request{Op: ioqueue.OpPoll, Handle: q}, nil, core.ErrUnsupported)
	tq.fails(ioqueue.Request{Op: ioqueue.OpDuplicate, Handle: q}, nil, core.ErrUnsupported)
	tq.ok(ioqueue.Request{Op: ioqueue.OpClose, Handle: q}, nil)
	tq.fails(ioqueue.Request{Op: ioqueue.OpQueryNext, Handle: q}, buf, core.ErrBadHandle)
}

func TestHandlesAreUniqueWhileLive(t *testing.T) {
	var ht handleTable = newHandleTable()
	ht.next = core.MaxHandle - 1

	a, _ := ht.alloc(&handleEntry{})
	b, _ := ht.alloc(&handleEntry{})
	c, _ := ht.alloc(&handleEntry{})
	if a != core.MaxHandle-1 || b != core.MaxHandle || c != 1 {
		t.Fatalf("got %d %d %d", a, b, c)
	}

	// Wrapping again skips what's still live.
	ht.next = core.MaxHandle
	d, _ := ht.alloc(&handleEntry{})
	if d == b || d == c || !d.IsValid() {
		t.Fatalf("reissued live handle %d", d)
	}
	if _, err := ht.release(b); err != core.NoError {
		t.Fatal(err)
	}
	if _, err := ht.release(b); err != core.ErrBadHandle {
		t.Fatalf("double release returned %s", err)
	}
}

func TestDuplicateIsIndependent(t *testing.T) {
	k := newTestKernel(t)
	id, _ := k.AddTable("pci", pciTable(t))
	tq := newTestQueue(t, k)

	h := core.Handle(tq.ok(ioqueue.Request{Op: ioqueue.OpOpen, Table: id, ID: 8}, nil))
	tq.ok(ioqueue.Request{Op: ioqueue.OpSeek, Handle: h, Offset: 7}, nil)
	d := core.Handle(tq.ok(ioqueue.Request{Op: ioqueue.OpDuplicate, Handle: h}, nil))
	if d == h {
		t.Fatal("duplicate returned the same handle")
	}

	// Closing the original leaves the copy usable at the copied position.
	tq.ok(ioqueue.Request{Op: ioqueue.OpClose, Handle: h}, nil)
	buf := make([]byte, 16)
	n := tq.ok(ioqueue.Request{Op: ioqueue.OpRead, Handle: d}, buf)
	if string(buf[:n]) != "space" {
		t.Fatalf("read %q from duplicate", buf[:n])
	}
	tq.fails(ioqueue.Request{Op: ioqueue.OpRead, Handle: h}, buf, core.ErrBadHandle)
	tq.ok(ioqueue.Request{Op: ioqueue.OpClose, Handle: d}, nil)
	tq.fails(ioqueue.Request{Op: ioqueue.OpClose, Handle: d}, nil, core.ErrBadHandle)
}

func TestCreateAndWrite(t *testing.T) {
	k := newTestKernel(t)
	id, _ := k.AddTable("scratch", NewMemTable(core.SchemePath))
	tq := newTestQueue(t, k)

	h := core.Handle(tq.ok(ioqueue.Request{Op: ioqueue.OpCreate, Table: id}, []byte("a/b")))
	tq.fails(ioqueue.Request{Op: ioqueue.OpCreate, Table: id}, []byte("a/b"), core.ErrAlreadyExists)
	tq.fails(ioqueue.Request{Op: ioqueue.OpCreate, Table: id}, nil, core.ErrInvalidInput)

	if n := tq.ok(ioqueue.Request{Op: ioqueue.OpWrite, Handle: h}, []byte("hello")); n != 5 {
		t.Fatalf("wrote %d", n)
	}
	if v := tq.ok(ioqueue.Request{Op: ioqueue.OpPoll, Handle: h}, nil); v != core.PollRead|core.PollWrite {
		t.Fatalf("poll returned %d", v)
	}
	o := core.Handle(tq.ok(ioqueue.Request{Op: ioqueue.OpOpen, Table: id}, []byte("a/b")))
	buf := make([]byte, 10)
	if n := tq.ok(ioqueue.Request{Op: ioqueue.OpRead, Handle: o}, buf); !bytes.Equal(buf[:n], []byte("hello")) {
		t.Fatalf("read back %q", buf[:n])
	}
}

func TestNextTable(t *testing.T) {
	k := newTestKernel(t)
	k.AddTable("pci", pciTable(t))
	th, err := k.CreateTable("svc", core.SchemePath)
	if err != core.NoError {
		t.Fatal(err)
	}
	k.AddTable("scratch", NewMemTable(core.SchemePath))
	if _, err := k.AddTable("pci", NewMemTable(core.SchemeTags)); err != core.ErrAlreadyExists {
		t.Fatalf("duplicate table name: %s", err)
	}
	if _, err := k.AddTable("a/b", NewMemTable(core.SchemeTags)); err != core.ErrInvalidInput {
		t.Fatalf("table name with separator: %s", err)
	}

	names := func() (out []string) {
		var prev core.TableID
		for {
			id, info, ok := k.NextTable(prev)
			if !ok {
				return
			}
			out = append(out, info.Name)
			prev = id
		}
	}
	if got := names(); len(got) != 3 || got[0] != "pci" || got[1] != "svc" || got[2] != "scratch" {
		t.Fatalf("tables: %v", got)
	}

	// Closing the only handle removes a service table.
	tq := newTestQueue(t, k)
	tq.ok(ioqueue.Request{Op: ioqueue.OpClose, Handle: th}, nil)
	if got := names(); len(got) != 2 || got[1] != "scratch" {
		t.Fatalf("tables after removal: %v", got)
	}
}

func TestBadRequests(t *testing.T) {
	k := newTestKernel(t)
	tq := newTestQueue(t, k)
	tq.fails(ioqueue.Request{Op: ioqueue.Op(99)}, nil, core.ErrInvalidInput)
	tq.fails(ioqueue.Request{Op: ioqueue.OpRead, Handle: 12345}, make([]byte, 1), core.ErrBadHandle)

	// Queue handles can't be closed through the queue.
	qh := k.queueState(tq.q).handle
	tq.fails(ioqueue.Request{Op: ioqueue.OpClose, Handle: qh}, nil, core.ErrUnsupported)

	if _, err := k.CreateQueue(DefaultTestConfig.MaxQueueLog2+1, 0, LowPri); err != core.ErrInvalidInput {
		t.Fatalf("oversized queue: %s", err)
	}
}

func TestStopReleasesWaiters(t *testing.T) {
	k, _ := New(DefaultTestConfig)
	q, _ := k.CreateQueue(0, 0, LowPri)
	done := make(chan core.Error)
	go func() { done <- k.WaitQueue(q) }()
	time.Sleep(10 * time.Millisecond)
	k.Stop()
	select {
	case err := <-done:
		if err != core.ErrIO {
			t.Fatalf("wait returned %s", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released")
	}
	if err := k.ProcessQueue(q); err != core.ErrIO {
		t.Fatalf("kick after stop: %s", err)
	}
}

func TestDestroyQueue(t *testing.T) {
	k := newTestKernel(t)
	tq := newTestQueue(t, k)
	if err := k.DestroyQueue(tq.q); err != core.NoError {
		t.Fatal(err)
	}
	if err := k.DestroyQueue(tq.q); err != core.ErrBadHandle {
		t.Fatalf("second destroy: %s", err)
	}
	if err := k.ProcessQueue(tq.q); err != core.ErrBadHandle {
		t.Fatalf("kick destroyed queue: %s", err)
	}
	if s := k.Status(); s.Queues != 0 || s.Handles["queue"] != 0 {
		t.Fatalf("status after destroy: %+v", s)
	}
}

// Positions past MaxObjectSize are refused, and nothing the client sends can
// make a write overflow.
func TestWriteBounds(t *testing.T) {
	k := newTestKernel(t)
	id, _ := k.AddTable("scratch", NewMemTable(core.SchemePath))
	tq := newTestQueue(t, k)
	h := core.Handle(tq.ok(ioqueue.Request{Op: ioqueue.OpCreate, Table: id}, []byte("big")))

	tq.fails(ioqueue.Request{Op: ioqueue.OpSeek, Handle: h, Offset: math.MaxInt64}, nil, core.ErrInvalidInput)
	tq.fails(ioqueue.Request{Op: ioqueue.OpSeek, Handle: h, Offset: DefaultTestConfig.MaxObjectSize + 1}, nil, core.ErrInvalidInput)

	// A failed seek leaves the position alone.
	if n := tq.ok(ioqueue.Request{Op: ioqueue.OpWrite, Handle: h}, []byte("x")); n != 1 {
		t.Fatalf("wrote %d", n)
	}
	// Relative seeks that wrap around are refused too.
	tq.fails(ioqueue.Request{Op: ioqueue.OpSeek, Handle: h, Whence: core.SeekCurrent, Offset: math.MaxInt64}, nil, core.ErrInvalidInput)

	end := DefaultTestConfig.MaxObjectSize
	if off := tq.ok(ioqueue.Request{Op: ioqueue.OpSeek, Handle: h, Offset: end}, nil); off != end {
		t.Fatalf("seek to the limit returned %d", off)
	}
	tq.fails(ioqueue.Request{Op: ioqueue.OpWrite, Handle: h}, []byte("x"), core.ErrInvalidInput)

	// The kernel is still serving.
	if size := tq.ok(ioqueue.Request{Op: ioqueue.OpSeek, Handle: h, Whence: core.SeekEnd}, nil); size != 1 {
		t.Fatalf("size %d after refused writes", size)
	}
}

func TestTableWriteAtOverflow(t *testing.T) {
	m := NewMemTable(core.SchemePath)
	m.Add(1, core.PathSelector("a"), nil)
	if _, err := m.WriteAt(1, []byte("x"), math.MaxInt64); err != core.ErrInvalidInput {
		t.Fatalf("write at MaxInt64: %s", err)
	}
	if _, err := m.WriteAt(1, []byte("x"), -1); err != core.ErrInvalidInput {
		t.Fatalf("write at -1: %s", err)
	}
	if size, _ := m.Size(1); size != 0 {
		t.Fatalf("size %d after refused writes", size)
	}
}
