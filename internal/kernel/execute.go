// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package kernel

import (
	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/tbl/internal/core"
	"github.com/westerndigitalcorporation/tbl/internal/ioqueue"
	"github.com/westerndigitalcorporation/tbl/internal/server"
)

// execute runs one request taken from 'qs' and answers it, unless it was
// turned into a job, in which case finishing the job answers it.
func (k *Kernel) execute(qs *queueState, t ioqueue.Taken) {
	op := opMetric.Start(k.cfg.Name, t.Op.String())
	log.V(3).Infof("queue %d: %s", qs.handle, t.Request)

	if t.BufErr != core.NoError {
		k.respond(qs, t.Tag, t.BufErr.Result(), op)
		return
	}

	var v int64
	var err core.Error
	forwarded := false

	switch t.Op {
	case ioqueue.OpOpen:
		v, err, forwarded = k.open(qs, t, op)
	case ioqueue.OpCreate:
		v, err, forwarded = k.create(qs, t, op)
	case ioqueue.OpRead:
		v, err, forwarded = k.read(qs, t, op)
	case ioqueue.OpWrite:
		v, err, forwarded = k.write(qs, t, op)
	case ioqueue.OpSeek:
		v, err, forwarded = k.seek(qs, t, op)
	case ioqueue.OpQuery:
		v, err = k.query(t)
	case ioqueue.OpQueryNext:
		v, err = k.queryNext(t)
	case ioqueue.OpPoll:
		v, err = k.poll(t)
	case ioqueue.OpClose:
		err = k.closeHandle(t.Handle)
	case ioqueue.OpTakeJob:
		v, err = k.take(t)
	case ioqueue.OpFinishJob:
		err = k.finish(t)
	case ioqueue.OpDuplicate:
		v, err = k.duplicate(t)
	default:
		err = core.ErrInvalidInput
	}

	if forwarded {
		return
	}
	if err != core.NoError {
		v = err.Result()
	}
	k.respond(qs, t.Tag, v, op)
}

// respond posts the answer to a request and ends its measurement. It returns
// false if the answer could not be delivered.
func (k *Kernel) respond(qs *queueState, tag uint64, v int64, op *server.OpMeasurer) bool {
	err := core.FromResult(v)
	op.EndWithError(&err)
	return qs.post(ioqueue.Response{Tag: tag, Value: v})
}

// errorKind maps a Go error from the core package back to its kind.
func errorKind(err error) core.Error {
	if c, ok := core.ToError(err); ok {
		return c
	}
	return core.ErrInvalidInput
}

func (k *Kernel) lookupTable(id core.TableID) (*tableEntry, core.Error) {
	k.lock.Lock()
	defer k.lock.Unlock()
	return k.table(id)
}

// objectHandle looks up 'h' and checks it names an object.
func (k *Kernel) objectHandle(h core.Handle) (*handleEntry, core.Error) {
	e, err := k.handle(h)
	if err != core.NoError {
		return nil, err
	}
	if e.kind != kindObject {
		return nil, core.ErrUnsupported
	}
	return e, core.NoError
}

func (k *Kernel) newObjectHandle(te *tableEntry, id core.ID) (int64, core.Error) {
	k.lock.Lock()
	defer k.lock.Unlock()
	h, err := k.allocHandle(&handleEntry{kind: kindObject, table: te, id: id})
	return int64(h), err
}

// open opens an object by id (no buffer) or by selector (the buffer).
func (k *Kernel) open(qs *queueState, t ioqueue.Taken, op *server.OpMeasurer) (int64, core.Error, bool) {
	te, err := k.lookupTable(t.Table)
	if err != core.NoError {
		return 0, err, false
	}
	var sel core.Selector
	if t.Buf != nil {
		s, e := core.SelectorFromBytes(t.Buf, te.info.Scheme)
		if e != nil {
			return 0, errorKind(e), false
		}
		sel = s
	}

	if te.service != nil {
		j := &job{Job: core.Job{Type: core.JobOpen, ObjectID: t.ID, Data: sel.Bytes()}}
		if t.Buf == nil {
			j.Data = nil
		}
		k.forward(te.service, qs, t, j, op)
		return 0, core.NoError, true
	}

	id := t.ID
	if t.Buf == nil {
		err = te.impl.Lookup(id)
	} else {
		id, err = te.impl.Open(sel)
	}
	if err != core.NoError {
		return 0, err, false
	}
	v, err := k.newObjectHandle(te, id)
	return v, err, false
}

func (k *Kernel) create(qs *queueState, t ioqueue.Taken, op *server.OpMeasurer) (int64, core.Error, bool) {
	te, err := k.lookupTable(t.Table)
	if err != core.NoError {
		return 0, err, false
	}
	if len(t.Buf) == 0 {
		return 0, core.ErrInvalidInput, false
	}
	sel, e := core.SelectorFromBytes(t.Buf, te.info.Scheme)
	if e != nil {
		return 0, errorKind(e), false
	}

	if te.service != nil {
		k.forward(te.service, qs, t, &job{Job: core.Job{Type: core.JobCreate, Data: sel.Bytes()}}, op)
		return 0, core.NoError, true
	}

	id, err := te.impl.Create(sel)
	if err != core.NoError {
		return 0, err, false
	}
	v, err := k.newObjectHandle(te, id)
	return v, err, false
}

func (k *Kernel) read(qs *queueState, t ioqueue.Taken, op *server.OpMeasurer) (int64, core.Error, bool) {
	e, err := k.objectHandle(t.Handle)
	if err != core.NoError {
		return 0, err, false
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	if st := e.table.service; st != nil {
		j := &job{
			Job: core.Job{Type: core.JobRead, ObjectID: e.id, Count: uint32(len(t.Buf)), Offset: e.offset},
			obj: e,
			buf: t.Buf,
		}
		k.forward(st, qs, t, j, op)
		return 0, core.NoError, true
	}

	n, err := e.table.impl.ReadAt(e.id, t.Buf, e.offset)
	e.offset += int64(n)
	return int64(n), err, false
}

func (k *Kernel) write(qs *queueState, t ioqueue.Taken, op *server.OpMeasurer) (int64, core.Error, bool) {
	e, err := k.objectHandle(t.Handle)
	if err != core.NoError {
		return 0, err, false
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	if st := e.table.service; st != nil {
		j := &job{
			Job: core.Job{Type: core.JobWrite, ObjectID: e.id, Offset: e.offset, Data: append([]byte(nil), t.Buf...)},
			obj: e,
		}
		k.forward(st, qs, t, j, op)
		return 0, core.NoError, true
	}

	if e.offset > k.cfg.MaxObjectSize-int64(len(t.Buf)) {
		return 0, core.ErrInvalidInput, false
	}
	n, err := e.table.impl.WriteAt(e.id, t.Buf, e.offset)
	e.offset += int64(n)
	return int64(n), err, false
}

// seek moves the position of an object handle. For service objects a seek
// relative to the current position is resolved here, since the position
// belongs to the handle; a seek relative to the end is left to the server.
func (k *Kernel) seek(qs *queueState, t ioqueue.Taken, op *server.OpMeasurer) (int64, core.Error, bool) {
	e, err := k.objectHandle(t.Handle)
	if err != core.NoError {
		return 0, err, false
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	st := e.table.service
	off, whence := t.Offset, core.SeekStart
	switch t.Whence {
	case core.SeekStart:
	case core.SeekCurrent:
		off += e.offset
	case core.SeekEnd:
		if st != nil {
			whence = core.SeekEnd
			break
		}
		size, err := e.table.impl.Size(e.id)
		if err != core.NoError {
			return 0, err, false
		}
		off += size
	default:
		return 0, core.ErrInvalidInput, false
	}
	if whence == core.SeekStart && (off < 0 || off > k.cfg.MaxObjectSize) {
		return 0, core.ErrInvalidInput, false
	}

	if st != nil {
		j := &job{Job: core.Job{Type: core.JobSeek, ObjectID: e.id, Offset: off, Whence: whence}, obj: e}
		k.forward(st, qs, t, j, op)
		return 0, core.NoError, true
	}
	e.offset = off
	return off, core.NoError, false
}

func (k *Kernel) query(t ioqueue.Taken) (int64, core.Error) {
	te, err := k.lookupTable(t.Table)
	if err != core.NoError {
		return 0, err
	}
	if te.service != nil {
		return 0, core.ErrUnsupported
	}
	sel, e := core.SelectorFromBytes(t.Buf, te.info.Scheme)
	if e != nil {
		return 0, errorKind(e)
	}
	cursor, err := te.impl.Query(sel)
	if err != core.NoError {
		return 0, err
	}

	k.lock.Lock()
	defer k.lock.Unlock()
	h, err := k.allocHandle(&handleEntry{kind: kindQuery, table: te, sel: sel, cursor: cursor})
	return int64(h), err
}

// queryNext writes the next ObjectInfo of a query into the buffer and returns
// 1, or returns 0 once the query is exhausted. If the next ObjectInfo doesn't
// fit it is kept for the next call and ErrInvalidInput is returned.
func (k *Kernel) queryNext(t ioqueue.Taken) (int64, core.Error) {
	e, err := k.handle(t.Handle)
	if err != core.NoError {
		return 0, err
	}
	if e.kind != kindQuery {
		return 0, core.ErrUnsupported
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.done {
		return 0, core.NoError
	}
	var info core.ObjectInfo
	if e.stashed != nil {
		info = *e.stashed
		e.stashed = nil
	} else {
		var ok bool
		if info, ok = e.cursor.Next(); !ok {
			e.done, e.cursor = true, nil
			return 0, core.NoError
		}
	}
	if _, err := info.MarshalTo(t.Buf); err != core.NoError {
		e.stashed = &info
		return 0, err
	}
	return 1, core.NoError
}

func (k *Kernel) poll(t ioqueue.Taken) (int64, core.Error) {
	k.lock.Lock()
	defer k.lock.Unlock()
	e, err := k.handles.get(t.Handle)
	if err != core.NoError {
		return 0, err
	}
	switch e.kind {
	case kindObject:
		return core.PollRead | core.PollWrite, core.NoError
	case kindTable:
		if e.table.service.pending.Len() > 0 {
			return core.PollRead, core.NoError
		}
		return 0, core.NoError
	case kindQueue:
		if e.qs.q.HasResponse() {
			return core.PollRead, core.NoError
		}
		return 0, core.NoError
	}
	return 0, core.ErrUnsupported
}

// closeHandle releases 'h'. Queue handles are released by DestroyQueue only.
func (k *Kernel) closeHandle(h core.Handle) core.Error {
	k.lock.Lock()
	e, err := k.handles.get(h)
	if err == core.NoError && e.kind == kindQueue {
		err = core.ErrUnsupported
	}
	if err == core.NoError {
		k.releaseHandle(h)
	}
	k.lock.Unlock()
	if err != core.NoError {
		return err
	}

	switch e.kind {
	case kindObject:
		if e.table.service != nil {
			k.releaseObject(e)
		}
	case kindTable:
		k.releaseJobs(e)
	case kindQuery:
		e.lock.Lock()
		e.done, e.cursor, e.stashed = true, nil, nil
		e.lock.Unlock()
	}
	log.V(2).Infof("closed %s handle %d", e.kind, h)
	return core.NoError
}

func (k *Kernel) tableHandle(h core.Handle) (*handleEntry, core.Error) {
	e, err := k.handle(h)
	if err != core.NoError {
		return nil, err
	}
	if e.kind != kindTable {
		return nil, core.ErrUnsupported
	}
	return e, core.NoError
}

func (k *Kernel) take(t ioqueue.Taken) (int64, core.Error) {
	e, err := k.tableHandle(t.Handle)
	if err != core.NoError {
		return 0, err
	}
	return k.takeJob(e, t.Buf)
}

func (k *Kernel) finish(t ioqueue.Taken) core.Error {
	e, err := k.tableHandle(t.Handle)
	if err != core.NoError {
		return err
	}
	j, err := core.UnmarshalJob(t.Buf)
	if err != core.NoError {
		return err
	}
	return k.finishJob(e, j)
}

// duplicate returns a second handle to what 't.Handle' names. The copy has its
// own position (objects) or its own set of taken jobs (tables).
func (k *Kernel) duplicate(t ioqueue.Taken) (int64, core.Error) {
	e, err := k.handle(t.Handle)
	if err != core.NoError {
		return 0, err
	}

	switch e.kind {
	case kindObject:
		e.lock.Lock()
		off := e.offset
		e.lock.Unlock()

		k.lock.Lock()
		defer k.lock.Unlock()
		h, err := k.allocHandle(&handleEntry{kind: kindObject, table: e.table, id: e.id, offset: off})
		if err == core.NoError && e.table.service != nil {
			e.table.service.refs[e.id]++
		}
		return int64(h), err

	case kindTable:
		k.lock.Lock()
		defer k.lock.Unlock()
		if e.table.service.removed {
			return 0, core.ErrNotFound
		}
		h, err := k.allocHandle(&handleEntry{kind: kindTable, table: e.table, owned: make(map[uint64]*job)})
		if err == core.NoError {
			e.table.service.handles++
		}
		return int64(h), err
	}
	return 0, core.ErrUnsupported
}
