// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package kernel

import (
	"container/list"
	"sort"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/tbl/internal/core"
	"github.com/westerndigitalcorporation/tbl/internal/ioqueue"
	"github.com/westerndigitalcorporation/tbl/internal/server"
)

/*

A service table has no driver inside the kernel. Every open, create, read,
write and seek addressed to it is turned into a job and parked on the table;
the request that caused it stays outstanding. A userspace process holding a
table handle takes the job, does the work, and finishes it, at which point the
result is posted to the queue the original request came from.

A job is in exactly one of three places: the pending list, the owned set of
exactly one table handle, or gone (finished). If a table handle is closed
while it owns jobs, they go back to the front of the pending list in the order
they were created, so another server picks them up before newer work.

Close jobs are fire-and-forget: the client's close is answered immediately and
the job is sent once the last handle to the object goes away.

*/

// job is a core.Job plus where its answer goes.
type job struct {
	core.Job

	// The queue and tag to answer. Nil for close jobs.
	qs  *queueState
	tag uint64

	// The client's object handle, for read/write/seek, and the buffer a read
	// result is copied into.
	obj *handleEntry
	buf []byte

	op *server.OpMeasurer
}

// serviceTable is the job state of one service table. Guarded by Kernel.lock.
type serviceTable struct {
	entry *tableEntry

	pending   *list.List // of *job
	nextJobID uint64

	// Live table handles. The table is removed when this drops to zero.
	handles int

	// Live object handles per object, so that the close job is sent once.
	refs map[core.ID]int

	removed bool
}

func newServiceTable(e *tableEntry) *serviceTable {
	return &serviceTable{entry: e, pending: list.New(), nextJobID: 1, refs: make(map[core.ID]int)}
}

// submitJob parks 'j' on 'st'. On error nothing is parked.
func (k *Kernel) submitJob(st *serviceTable, j *job) core.Error {
	k.lock.Lock()
	defer k.lock.Unlock()
	if st.removed {
		return core.ErrNotFound
	}
	if k.cfg.MaxPendingJobs > 0 && st.pending.Len() >= k.cfg.MaxPendingJobs {
		return core.ErrBusy
	}
	if len(j.Data) > k.cfg.MaxJobData {
		return core.ErrInvalidInput
	}
	j.JobID = st.nextJobID
	st.nextJobID++
	st.pending.PushBack(j)
	pendingJobs.WithLabelValues(k.cfg.Name, st.entry.info.Name).Inc()
	log.V(2).Infof("table %q: job %d (%s object %d) pending", st.entry.info.Name, j.JobID, j.Type, j.ObjectID)
	return core.NoError
}

// takeJob moves the oldest pending job of the table 'e' names into its owned
// set and marshals it into 'buf'. It returns 1 if a job was taken and 0 if
// none was pending. A buffer too small for the job leaves it pending.
func (k *Kernel) takeJob(e *handleEntry, buf []byte) (int64, core.Error) {
	k.lock.Lock()
	defer k.lock.Unlock()
	if e.owned == nil {
		// Closed underneath us.
		return 0, core.ErrBadHandle
	}
	st := e.table.service
	front := st.pending.Front()
	if front == nil {
		return 0, core.NoError
	}
	j := front.Value.(*job)
	if _, err := j.MarshalTo(buf); err != core.NoError {
		return 0, err
	}
	st.pending.Remove(front)
	e.owned[j.JobID] = j
	pendingJobs.WithLabelValues(k.cfg.Name, st.entry.info.Name).Dec()
	log.V(2).Infof("table %q: job %d taken", st.entry.info.Name, j.JobID)
	return 1, core.NoError
}

// finishJob completes the job 'done' describes, which must be owned by 'e'.
func (k *Kernel) finishJob(e *handleEntry, done core.Job) core.Error {
	k.lock.Lock()
	j, ok := e.owned[done.JobID]
	if ok {
		delete(e.owned, done.JobID)
	}
	st := e.table.service
	k.lock.Unlock()
	if !ok {
		return core.ErrNotFound
	}
	log.V(2).Infof("table %q: job %d finished with %d", st.entry.info.Name, j.JobID, done.Result)
	k.completeJob(st, j, done)
	return core.NoError
}

// completeJob answers the request behind 'j' with the server's result.
func (k *Kernel) completeJob(st *serviceTable, j *job, done core.Job) {
	if j.qs == nil {
		return
	}
	v := done.Result
	var h core.Handle
	if v >= 0 {
		switch j.Type {
		case core.JobOpen, core.JobCreate:
			k.lock.Lock()
			if st.removed {
				v = core.ErrNotFound.Result()
			} else if nh, err := k.allocHandle(&handleEntry{kind: kindObject, table: st.entry, id: done.ObjectID}); err != core.NoError {
				v = err.Result()
			} else {
				h = nh
				st.refs[done.ObjectID]++
				v = int64(h)
			}
			k.lock.Unlock()
		case core.JobRead:
			n := int64(copy(j.buf, done.Data))
			if v > n {
				v = n
			}
			j.obj.lock.Lock()
			j.obj.offset += v
			j.obj.lock.Unlock()
		case core.JobWrite:
			if n := int64(len(j.Data)); v > n {
				v = n
			}
			j.obj.lock.Lock()
			j.obj.offset += v
			j.obj.lock.Unlock()
		case core.JobSeek:
			j.obj.lock.Lock()
			j.obj.offset = v
			j.obj.lock.Unlock()
		}
	}
	if !k.respond(j.qs, j.tag, v, j.op) && h.IsValid() {
		// Nobody will ever learn about the handle.
		k.closeHandle(h)
	}
}

// failJob answers the request behind 'j' with 'err'.
func (k *Kernel) failJob(j *job, err core.Error) {
	if j.qs != nil {
		k.respond(j.qs, j.tag, err.Result(), j.op)
	}
}

// releaseJobs runs when the table handle 'e' is closed: jobs it owned go back
// to the front of the pending list, and if it was the last handle the table
// is removed and every pending job fails with ErrNotFound.
func (k *Kernel) releaseJobs(e *handleEntry) {
	k.lock.Lock()
	st := e.table.service
	ids := make([]uint64, 0, len(e.owned))
	for id := range e.owned {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] > ids[b] })
	for _, id := range ids {
		st.pending.PushFront(e.owned[id])
		pendingJobs.WithLabelValues(k.cfg.Name, st.entry.info.Name).Inc()
		log.V(2).Infof("table %q: job %d requeued", st.entry.info.Name, id)
	}
	e.owned = nil

	st.handles--
	var failed []*job
	if st.handles == 0 {
		st.removed = true
		k.tables[st.entry.id-1] = nil
		for el := st.pending.Front(); el != nil; el = el.Next() {
			failed = append(failed, el.Value.(*job))
		}
		st.pending.Init()
		pendingJobs.DeleteLabelValues(k.cfg.Name, st.entry.info.Name)
		log.Infof("service table %q removed, failing %d pending jobs", st.entry.info.Name, len(failed))
	}
	k.lock.Unlock()

	for _, j := range failed {
		k.failJob(j, core.ErrNotFound)
	}
}

// releaseObject drops one reference to a service object and sends the close
// job when it was the last.
func (k *Kernel) releaseObject(e *handleEntry) {
	st := e.table.service
	k.lock.Lock()
	st.refs[e.id]--
	last := st.refs[e.id] <= 0
	if last {
		delete(st.refs, e.id)
	}
	k.lock.Unlock()
	if !last {
		return
	}
	j := &job{Job: core.Job{Type: core.JobClose, ObjectID: e.id}}
	if err := k.submitJob(st, j); err != core.NoError {
		log.V(1).Infof("table %q: not sending close for object %d: %s", st.entry.info.Name, e.id, err)
	}
}

// forward turns request 't' into a job on 'st'. If the job can't be parked
// the request is answered with the error right away.
func (k *Kernel) forward(st *serviceTable, qs *queueState, t ioqueue.Taken, j *job, op *server.OpMeasurer) {
	j.qs, j.tag, j.op = qs, t.Tag, op
	if err := k.submitJob(st, j); err != core.NoError {
		k.respond(qs, t.Tag, err.Result(), op)
	}
}
