// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package server

import (
	"testing"
	"time"
)

func TestSemaphoreBlocks(t *testing.T) {
	s := NewSemaphore(2)
	s.Acquire()
	s.Acquire()
	if s.InUse() != 2 || s.TryAcquire() {
		t.Fatalf("%d permits in use", s.InUse())
	}

	got := make(chan struct{})
	go func() {
		s.Acquire()
		close(got)
	}()
	select {
	case <-got:
		t.Fatalf("acquired a third permit of two")
	case <-time.After(50 * time.Millisecond):
	}
	s.Release()
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatalf("release didn't wake the waiter")
	}
}
