// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package kernel

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrRunQueueFull is the error returned when a push fails due to a full queue.
var ErrRunQueueFull = errors.New("run queue is full, cannot add additional items")

// Priority of an I/O queue. Kicked queues with a higher priority are drained
// first.
type Priority int

// Pre-defined priority levels.
const (
	LowPri  Priority = 10
	MedPri  Priority = 20
	HighPri Priority = 30
)

// runItem is one entry of the run queue: either a kicked I/O queue or an
// instruction for a worker to exit.
type runItem struct {
	qs       *queueState
	exit     bool
	priority Priority
	kickTime time.Time
}

// less orders higher priority first, then earlier kicks first.
func (r runItem) less(e runItem) bool {
	if r.priority != e.priority {
		return r.priority > e.priority
	}
	return r.kickTime.Before(e.kickTime)
}

// runQueue is a bounded priority queue of runItems, using the
// "container/heap" interface. Pop blocks while the queue is empty.
type runQueue struct {
	// Mutex to protect state
	lock sync.Mutex

	// Pop is a blocking operation and sleeps on this if the queue is empty.
	notEmpty sync.Cond

	data runHeap

	// Heap does not enforce any limit, but runQueue does.
	max int
}

// newRunQueue creates a new runQueue with max capacity 'max'. If max is less
// than or equal to zero, there is no limit.
func newRunQueue(max int) *runQueue {
	q := &runQueue{max: max}
	q.notEmpty.L = &q.lock
	return q
}

// tryPush tries to push an item. If there is no space in the queue, returns
// ErrRunQueueFull.
func (q *runQueue) tryPush(item runItem) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.max > 0 && q.data.Len() >= q.max && !item.exit {
		return ErrRunQueueFull
	}

	heap.Push(&q.data, item)

	// Wake everyone on the empty -> non-empty transition, or waiters that
	// were woken for the first item can leave later items stranded.
	if q.data.Len() == 1 {
		q.notEmpty.Broadcast()
	}
	return nil
}

// len returns the number of items currently in the queue.
func (q *runQueue) len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.data.Len()
}

// pop removes the highest priority item. Blocks until an item is available.
func (q *runQueue) pop() runItem {
	q.lock.Lock()
	defer q.lock.Unlock()
	for q.data.Len() == 0 {
		q.notEmpty.Wait()
	}
	return heap.Pop(&q.data).(runItem)
}

// runHeap implements heap.Interface.
type runHeap []runItem

func (h runHeap) Len() int           { return len(h) }
func (h runHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h runHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *runHeap) Push(x interface{}) {
	*h = append(*h, x.(runItem))
}

func (h *runHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}
