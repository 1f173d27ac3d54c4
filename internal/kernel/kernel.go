// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package kernel is an in-process stand-in for the kernel side of the
// table/object I/O boundary. It owns the handle space, the table directory,
// the consumer side of every I/O queue, and the job queues of service tables.
//
// Userspace reaches it only through a handful of entry points: CreateQueue,
// ProcessQueue (kick), WaitQueue (block until a response is posted),
// DestroyQueue, plus the table directory calls NextTable and CreateTable.
// Everything else travels through a queue as a Request/Response pair.
package kernel

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/tbl/internal/core"
	"github.com/westerndigitalcorporation/tbl/internal/ioqueue"
)

// Kick states of a queue. A queue is drained by at most one worker at a time:
// a kick while it is being drained asks that worker to look again instead of
// putting the queue on the run queue twice.
const (
	kickIdle int32 = iota
	kickQueued
	kickRunning
	kickRerun
)

// queueState is the kernel's view of one I/O queue.
type queueState struct {
	q        *ioqueue.Queue
	handle   core.Handle
	priority Priority

	state atomic.Int32

	// Responses are posted by the worker draining this queue and by whoever
	// finishes a job on behalf of it, so posting is serialized.
	postLock sync.Mutex

	// Requests taken but not answered yet. We only take a request when the
	// response ring has room for its answer, so Post never finds it full.
	outstanding int

	destroyed bool
}

// post answers one outstanding request. It returns false if the queue was
// destroyed in the meantime and nobody will read the answer.
func (qs *queueState) post(r ioqueue.Response) bool {
	qs.postLock.Lock()
	defer qs.postLock.Unlock()
	if qs.destroyed {
		return false
	}
	qs.outstanding--
	if err := qs.q.Post(r); err != core.NoError {
		log.Errorf("dropping response %+v: %s", r, err)
		return false
	}
	qs.q.Signal()
	return true
}

// Kernel is the simulated kernel. Create one with New and release it with
// Stop.
type Kernel struct {
	cfg Config

	// Protects everything below except runq.
	lock    sync.Mutex
	handles handleTable
	tables  []*tableEntry // TableID is index+1; removed tables leave nil
	queues  map[*ioqueue.Queue]*queueState

	runq *runQueue

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a kernel and starts its workers.
func New(cfg Config) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:     cfg,
		handles: newHandleTable(),
		queues:  make(map[*ioqueue.Queue]*queueState),
		runq:    newRunQueue(cfg.MaxQueues + cfg.Workers),
		done:    make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		k.wg.Add(1)
		go k.worker()
	}
	log.Infof("kernel %q started with %d workers", cfg.Name, cfg.Workers)
	return k, nil
}

// Stop stops the workers. Owners blocked in WaitQueue return ErrIO. Queued
// but unprocessed requests are never answered.
func (k *Kernel) Stop() {
	k.stopOnce.Do(func() {
		close(k.done)
		for i := 0; i < k.cfg.Workers; i++ {
			k.runq.tryPush(runItem{exit: true, priority: HighPri + 1, kickTime: time.Now()})
		}
		k.wg.Wait()
		log.Infof("kernel %q stopped", k.cfg.Name)
	})
}

func (k *Kernel) stopped() bool {
	select {
	case <-k.done:
		return true
	default:
		return false
	}
}

func (k *Kernel) worker() {
	defer k.wg.Done()
	for {
		item := k.runq.pop()
		if item.exit {
			return
		}
		kickDelay.WithLabelValues(k.cfg.Name).Observe(time.Since(item.kickTime).Seconds())
		k.drain(item.qs)
	}
}

// drain executes requests of 'qs' until it has none, re-checking if it was
// kicked again while we were busy.
func (k *Kernel) drain(qs *queueState) {
	for {
		qs.state.Store(kickRunning)
		k.drainOnce(qs)
		if qs.state.CompareAndSwap(kickRunning, kickIdle) {
			return
		}
	}
}

func (k *Kernel) drainOnce(qs *queueState) {
	for !k.stopped() {
		qs.postLock.Lock()
		if qs.destroyed {
			qs.postLock.Unlock()
			return
		}
		free, err := qs.q.FreeResponses()
		if err != core.NoError || free <= qs.outstanding {
			qs.postLock.Unlock()
			if err != core.NoError {
				log.Errorf("queue %d: corrupt response ring, not draining", qs.handle)
			}
			return
		}
		t, ok, err := qs.q.Take()
		if ok {
			qs.outstanding++
		}
		qs.postLock.Unlock()

		if err != core.NoError {
			log.Errorf("queue %d: corrupt request ring, not draining", qs.handle)
			return
		}
		if !ok {
			return
		}
		k.execute(qs, t)
	}
}

//
// Queue entry points.
//

// CreateQueue creates an I/O queue with 2^reqLog2 request and 2^respLog2
// response slots. Kicked queues with higher 'pri' are drained first.
func (k *Kernel) CreateQueue(reqLog2, respLog2 uint8, pri Priority) (*ioqueue.Queue, core.Error) {
	if reqLog2 > k.cfg.MaxQueueLog2 || respLog2 > k.cfg.MaxQueueLog2 {
		return nil, core.ErrInvalidInput
	}
	if k.stopped() {
		return nil, core.ErrIO
	}
	q, err := ioqueue.New(reqLog2, respLog2)
	if err != core.NoError {
		return nil, err
	}

	k.lock.Lock()
	defer k.lock.Unlock()
	if len(k.queues) >= k.cfg.MaxQueues {
		return nil, core.ErrBusy
	}
	qs := &queueState{q: q, priority: pri}
	h, err := k.allocHandle(&handleEntry{kind: kindQueue, qs: qs})
	if err != core.NoError {
		return nil, err
	}
	qs.handle = h
	k.queues[q] = qs
	log.V(1).Infof("created queue %d (%d/%d slots)", h, q.RequestCapacity(), q.ResponseCapacity())
	return q, core.NoError
}

// DestroyQueue releases a queue. Requests still outstanding on it are
// executed but never answered.
func (k *Kernel) DestroyQueue(q *ioqueue.Queue) core.Error {
	k.lock.Lock()
	qs, ok := k.queues[q]
	if ok {
		delete(k.queues, q)
		k.releaseHandle(qs.handle)
	}
	k.lock.Unlock()
	if !ok {
		return core.ErrBadHandle
	}

	qs.postLock.Lock()
	qs.destroyed = true
	qs.postLock.Unlock()
	log.V(1).Infof("destroyed queue %d", qs.handle)
	return core.NoError
}

// ProcessQueue asks the kernel to drain 'q'. It doesn't wait for anything to
// be executed.
func (k *Kernel) ProcessQueue(q *ioqueue.Queue) core.Error {
	qs := k.queueState(q)
	if qs == nil {
		return core.ErrBadHandle
	}
	if k.stopped() {
		return core.ErrIO
	}
	for {
		switch qs.state.Load() {
		case kickIdle:
			if !qs.state.CompareAndSwap(kickIdle, kickQueued) {
				continue
			}
			if err := k.runq.tryPush(runItem{qs: qs, priority: qs.priority, kickTime: time.Now()}); err != nil {
				qs.state.Store(kickIdle)
				log.Errorf("queue %d: %s", qs.handle, err)
				return core.ErrBusy
			}
			return core.NoError
		case kickRunning:
			if qs.state.CompareAndSwap(kickRunning, kickRerun) {
				return core.NoError
			}
		default:
			// Already queued, or the worker will look again.
			return core.NoError
		}
	}
}

// WaitQueue blocks until 'q' has a response to dequeue.
func (k *Kernel) WaitQueue(q *ioqueue.Queue) core.Error {
	if k.queueState(q) == nil {
		return core.ErrBadHandle
	}
	for !q.HasResponse() {
		select {
		case <-q.Ready():
		case <-k.done:
			return core.ErrIO
		}
	}
	return core.NoError
}

func (k *Kernel) queueState(q *ioqueue.Queue) *queueState {
	k.lock.Lock()
	defer k.lock.Unlock()
	return k.queues[q]
}

//
// Table directory.
//

// AddTable publishes a driver-backed table under 'name'.
func (k *Kernel) AddTable(name string, impl Table) (core.TableID, core.Error) {
	k.lock.Lock()
	defer k.lock.Unlock()
	e, err := k.addTableLocked(core.TableInfo{Name: name, Scheme: impl.Scheme()})
	if err != core.NoError {
		return 0, err
	}
	e.impl = impl
	log.Infof("added %s table %q as %d", impl.Scheme(), name, e.id)
	return e.id, core.NoError
}

// CreateTable creates a service table under 'name' and returns a handle to
// it. Requests against its objects become jobs, taken and finished through
// that handle. The table goes away when the last handle to it is closed.
func (k *Kernel) CreateTable(name string, scheme core.Scheme) (core.Handle, core.Error) {
	k.lock.Lock()
	defer k.lock.Unlock()
	e, err := k.addTableLocked(core.TableInfo{Name: name, Scheme: scheme, Service: true})
	if err != core.NoError {
		return core.NoHandle, err
	}
	e.service = newServiceTable(e)
	h, err := k.allocHandle(&handleEntry{kind: kindTable, table: e, owned: make(map[uint64]*job)})
	if err != core.NoError {
		k.tables[e.id-1] = nil
		return core.NoHandle, err
	}
	e.service.handles++
	log.Infof("created service table %q as %d", name, e.id)
	return h, core.NoError
}

func (k *Kernel) addTableLocked(info core.TableInfo) (*tableEntry, core.Error) {
	if info.Name == "" || strings.ContainsRune(info.Name, core.TableObjectSeparator) {
		return nil, core.ErrInvalidInput
	}
	for _, t := range k.tables {
		if t != nil && t.info.Name == info.Name {
			return nil, core.ErrAlreadyExists
		}
	}
	e := &tableEntry{id: core.TableID(len(k.tables) + 1), info: info}
	k.tables = append(k.tables, e)
	return e, core.NoError
}

// NextTable returns the first table whose id is greater than 'prev'. Pass 0
// to start. ok is false once the directory is exhausted.
func (k *Kernel) NextTable(prev core.TableID) (id core.TableID, info core.TableInfo, ok bool) {
	k.lock.Lock()
	defer k.lock.Unlock()
	for i := int(prev); i < len(k.tables); i++ {
		if t := k.tables[i]; t != nil {
			return t.id, t.info, true
		}
	}
	return 0, core.TableInfo{}, false
}

// table returns the live table 'id'. Must hold lock.
func (k *Kernel) table(id core.TableID) (*tableEntry, core.Error) {
	if id == 0 || int(id) > len(k.tables) || k.tables[id-1] == nil {
		return nil, core.ErrNotFound
	}
	return k.tables[id-1], core.NoError
}

//
// Handles.
//

// allocHandle must hold lock.
func (k *Kernel) allocHandle(e *handleEntry) (core.Handle, core.Error) {
	h, err := k.handles.alloc(e)
	if err == core.NoError {
		liveHandles.WithLabelValues(k.cfg.Name, e.kind.String()).Inc()
	}
	return h, err
}

// releaseHandle must hold lock.
func (k *Kernel) releaseHandle(h core.Handle) (*handleEntry, core.Error) {
	e, err := k.handles.release(h)
	if err == core.NoError {
		liveHandles.WithLabelValues(k.cfg.Name, e.kind.String()).Dec()
	}
	return e, err
}

func (k *Kernel) handle(h core.Handle) (*handleEntry, core.Error) {
	k.lock.Lock()
	defer k.lock.Unlock()
	return k.handles.get(h)
}

// Status is a snapshot of the kernel's resources.
type Status struct {
	Tables      int
	Queues      int
	Handles     map[string]int
	PendingJobs int
	RunQueue    int
}

// Status returns a snapshot of the kernel's resources.
func (k *Kernel) Status() Status {
	k.lock.Lock()
	defer k.lock.Unlock()
	s := Status{Queues: len(k.queues), Handles: make(map[string]int), RunQueue: k.runq.len()}
	for _, t := range k.tables {
		if t == nil {
			continue
		}
		s.Tables++
		if t.service != nil {
			s.PendingJobs += t.service.pending.Len()
		}
	}
	for kind, n := range k.handles.count() {
		s.Handles[kind.String()] = n
	}
	return s
}

// OpSummary returns one line of latency and count figures per opcode.
func (k *Kernel) OpSummary() []string {
	var out []string
	for op := ioqueue.OpRead; op.IsValid(); op++ {
		out = append(out, op.String()+": "+opMetric.String(k.cfg.Name, op.String()))
	}
	return out
}
