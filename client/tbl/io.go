// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package tbl

import (
	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/tbl/internal/core"
	"github.com/westerndigitalcorporation/tbl/internal/ioqueue"
)

// Largest ObjectInfo QueryNextInfo is willing to allocate for.
const maxInfoBuffer = 16 << 20

// toHandle checks that a result is something the kernel could have issued as
// a handle.
func toHandle(v int64, err error) (core.Handle, error) {
	if err != nil {
		return core.NoHandle, err
	}
	if v == 0 || v > core.MaxHandle {
		return core.NoHandle, core.ErrProtocol.WithMessage("kernel returned an invalid handle")
	}
	return core.Handle(v), nil
}

// Open opens object 'id' of 'table'.
func (t *Thread) Open(table core.TableID, id core.ID) (core.Handle, error) {
	return toHandle(t.call(ioqueue.Request{Op: ioqueue.OpOpen, Table: table, ID: id}, nil))
}

// OpenPath opens the one object of 'table' that 'sel' addresses.
func (t *Thread) OpenPath(table core.TableID, sel core.Selector) (core.Handle, error) {
	return toHandle(t.call(ioqueue.Request{Op: ioqueue.OpOpen, Table: table}, sel.Bytes()))
}

// Create creates an object in 'table' named by 'sel' and opens it.
func (t *Thread) Create(table core.TableID, sel core.Selector) (core.Handle, error) {
	if sel.IsEmpty() {
		return core.NoHandle, core.ErrInvalidInput.WithMessage("expected a name to create")
	}
	return toHandle(t.call(ioqueue.Request{Op: ioqueue.OpCreate, Table: table}, sel.Bytes()))
}

// Read reads into 'p' at the handle's position and advances it. At the end of
// the object it returns 0 and no error.
func (t *Thread) Read(h core.Handle, p []byte) (int, error) {
	v, err := t.call(ioqueue.Request{Op: ioqueue.OpRead, Handle: h}, p)
	if v > int64(len(p)) {
		return 0, core.ErrProtocol.WithMessage("kernel read more than asked for")
	}
	return int(v), err
}

// Write writes 'p' at the handle's position and advances it.
func (t *Thread) Write(h core.Handle, p []byte) (int, error) {
	v, err := t.call(ioqueue.Request{Op: ioqueue.OpWrite, Handle: h}, p)
	if v > int64(len(p)) {
		return 0, core.ErrProtocol.WithMessage("kernel wrote more than given")
	}
	return int(v), err
}

// Seek moves the handle's position and returns the new absolute position.
func (t *Thread) Seek(h core.Handle, offset int64, whence core.Whence) (int64, error) {
	return t.call(ioqueue.Request{Op: ioqueue.OpSeek, Handle: h, Offset: offset, Whence: whence}, nil)
}

// Query starts a query over the objects of 'table' that 'sel' matches. The
// empty selector matches everything.
func (t *Thread) Query(table core.TableID, sel core.Selector) (core.Handle, error) {
	var buf []byte
	if !sel.IsEmpty() {
		buf = sel.Bytes()
	}
	return toHandle(t.call(ioqueue.Request{Op: ioqueue.OpQuery, Table: table}, buf))
}

// QueryNext writes the next ObjectInfo of query 'q' into 'buf'. It returns
// false once the query is exhausted, and from then on always. A 'buf' too
// small for the next entry is ErrInvalidInput; the entry is kept for a retry
// with a bigger buffer.
func (t *Thread) QueryNext(q core.Handle, buf []byte) (bool, error) {
	v, err := t.call(ioqueue.Request{Op: ioqueue.OpQueryNext, Handle: q}, buf)
	return v > 0, err
}

// QueryNextInfo is QueryNext with buffer management and decoding.
func (t *Thread) QueryNextInfo(q core.Handle) (core.ObjectInfo, bool, error) {
	buf := make([]byte, 512)
	for {
		ok, err := t.QueryNext(q, buf)
		if core.ErrInvalidInput.Is(err) && len(buf) < maxInfoBuffer {
			buf = make([]byte, 2*len(buf))
			continue
		}
		if err != nil || !ok {
			return core.ObjectInfo{}, false, err
		}
		info, cerr := core.UnmarshalObjectInfo(buf)
		if cerr != core.NoError {
			return core.ObjectInfo{}, false, cerr.Error()
		}
		return info, true, nil
	}
}

// TakeJob takes the oldest pending job of the service table 'h' was created
// for. It returns false if no job is pending. A 'buf' too small for the job
// is ErrInvalidInput and the job stays pending.
func (t *Thread) TakeJob(h core.Handle, buf []byte) (core.Job, bool, error) {
	v, err := t.call(ioqueue.Request{Op: ioqueue.OpTakeJob, Handle: h}, buf)
	if err != nil || v == 0 {
		return core.Job{}, false, err
	}
	j, cerr := core.UnmarshalJob(buf)
	if cerr != core.NoError {
		return core.Job{}, false, core.ErrProtocol.WithMessage("kernel wrote an undecodable job")
	}
	return j, true, nil
}

// FinishJob submits the result of a job taken through 'h'.
func (t *Thread) FinishJob(h core.Handle, j core.Job) error {
	buf := make([]byte, j.Size())
	if _, err := j.MarshalTo(buf); err != core.NoError {
		return err.Error()
	}
	_, err := t.call(ioqueue.Request{Op: ioqueue.OpFinishJob, Handle: h}, buf)
	return err
}

// Poll returns the readiness bits (core.PollRead, core.PollWrite) of 'h'.
func (t *Thread) Poll(h core.Handle) (int, error) {
	v, err := t.call(ioqueue.Request{Op: ioqueue.OpPoll, Handle: h}, nil)
	return int(v), err
}

// CloseHandle releases 'h'. Failures are logged and otherwise ignored: the
// caller has nothing left to do with the handle either way.
func (t *Thread) CloseHandle(h core.Handle) {
	if _, err := t.call(ioqueue.Request{Op: ioqueue.OpClose, Handle: h}, nil); err != nil {
		log.Errorf("closing handle %d: %s", h, err)
	}
}

// Duplicate returns a second handle to what 'h' names. Each must be closed.
func (t *Thread) Duplicate(h core.Handle) (core.Handle, error) {
	return toHandle(t.call(ioqueue.Request{Op: ioqueue.OpDuplicate, Handle: h}, nil))
}

// CreateTable creates a service table and returns the handle its jobs are
// taken through. The table disappears when every such handle is closed.
func (t *Thread) CreateTable(name string, scheme core.Scheme) (core.Handle, error) {
	h, err := t.k.CreateTable(name, scheme)
	if err != core.NoError {
		return core.NoHandle, err.Error()
	}
	t.tables.invalidate(name)
	return h, nil
}
