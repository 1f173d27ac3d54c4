// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package ioqueue

import (
	"sync/atomic"

	"github.com/westerndigitalcorporation/tbl/internal/core"
)

// ring is a single-producer single-consumer ring of fixed size slots.
//
// head and tail are free-running counters; a slot index is always the counter
// masked with the capacity. The producer owns tail and the consumer owns head.
// A slot is written before tail is published and read before head is
// published, so neither side ever overwrites a slot the other hasn't finished
// with.
type ring struct {
	head atomic.Uint32
	tail atomic.Uint32

	mask     uint32
	slotSize int
	slots    []byte
}

func newRing(log2 uint8, slotSize int) *ring {
	n := 1 << log2
	return &ring{
		mask:     uint32(n - 1),
		slotSize: slotSize,
		slots:    make([]byte, n*slotSize),
	}
}

func (r *ring) capacity() uint32 {
	return r.mask + 1
}

// used returns how many slots are occupied. Counters that claim more than the
// capacity mean the region has been scribbled on.
func (r *ring) used() (uint32, core.Error) {
	n := r.tail.Load() - r.head.Load()
	if n > r.capacity() {
		return 0, core.ErrProtocol
	}
	return n, core.NoError
}

func (r *ring) slot(counter uint32) []byte {
	i := int(counter&r.mask) * r.slotSize
	return r.slots[i : i+r.slotSize]
}

// push writes one slot with 'fill'. It returns ErrProtocol if the ring is full.
// Must only be called by the producer.
func (r *ring) push(fill func(index uint32, b []byte)) core.Error {
	n, err := r.used()
	if err != core.NoError {
		return err
	}
	if n == r.capacity() {
		return core.ErrProtocol
	}
	t := r.tail.Load()
	fill(t&r.mask, r.slot(t))
	r.tail.Store(t + 1)
	return core.NoError
}

// pop reads one slot with 'read'. It returns false if the ring is empty. Must
// only be called by the consumer.
func (r *ring) pop(read func(index uint32, b []byte)) (bool, core.Error) {
	n, err := r.used()
	if err != core.NoError {
		return false, err
	}
	if n == 0 {
		return false, core.NoError
	}
	h := r.head.Load()
	read(h&r.mask, r.slot(h))
	r.head.Store(h + 1)
	return true, core.NoError
}
