// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package server

// Semaphore is a counting semaphore built on a channel. It bounds how many
// kernel queues a pool of client threads may hold at once.
type Semaphore chan struct{}

// NewSemaphore returns a semaphore with 'max' permits.
func NewSemaphore(max int) Semaphore {
	return make(Semaphore, max)
}

// Acquire takes a permit, blocking until one is free.
func (s Semaphore) Acquire() {
	s <- struct{}{}
}

// Release returns a permit.
func (s Semaphore) Release() {
	<-s
}

// TryAcquire takes a permit if one is free right now.
func (s Semaphore) TryAcquire() bool {
	select {
	case s <- struct{}{}:
		return true
	default:
		return false
	}
}

// InUse is the number of permits held.
func (s Semaphore) InUse() int {
	return len(s)
}
