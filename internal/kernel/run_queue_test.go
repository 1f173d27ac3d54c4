// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT
//
// Tests for run_queue.go
package kernel

import (
	"sync"
	"testing"
	"time"
)

func testItem(pri Priority, kick time.Time) runItem {
	return runItem{qs: &queueState{priority: pri}, priority: pri, kickTime: kick}
}

// Higher priority first; equal priorities in kick order.
func TestRunQueueOrder(t *testing.T) {
	q := newRunQueue(6)
	base := time.Now()
	pris := []Priority{LowPri, HighPri, MedPri, HighPri, LowPri, MedPri}
	for i, p := range pris {
		if err := q.tryPush(testItem(p, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("couldn't push item %d: %s", i, err)
		}
	}

	// Pushing one more should fail.
	if q.tryPush(testItem(HighPri, base)) != ErrRunQueueFull {
		t.Fatal("tryPush past the limit should have failed")
	}

	expect := []struct {
		pri  Priority
		kick int
	}{{HighPri, 1}, {HighPri, 3}, {MedPri, 2}, {MedPri, 5}, {LowPri, 0}, {LowPri, 4}}
	for i, e := range expect {
		item := q.pop()
		if item.priority != e.pri || !item.kickTime.Equal(base.Add(time.Duration(e.kick)*time.Second)) {
			t.Fatalf("pop %d: got priority %d kicked at %s", i, item.priority, item.kickTime.Sub(base))
		}
	}
	if q.len() != 0 {
		t.Fatalf("queue should be empty, has %d", q.len())
	}
}

// Exit items are never refused, so Stop can always reach every worker.
func TestRunQueueExitBypassesLimit(t *testing.T) {
	q := newRunQueue(1)
	if err := q.tryPush(testItem(LowPri, time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := q.tryPush(runItem{exit: true, priority: HighPri + 1}); err != nil {
		t.Fatalf("exit item refused: %s", err)
	}
	if !q.pop().exit {
		t.Fatal("exit item should come out first")
	}
}

// Many poppers blocked on an empty queue all wake up eventually.
func TestRunQueueParallelPushPop(t *testing.T) {
	q := newRunQueue(20)
	iter := 1000
	var wg sync.WaitGroup

	for i := 0; i < iter; i++ {
		wg.Add(1)
		go func() {
			q.pop()
			wg.Done()
		}()
	}
	for i := 0; i < iter; i++ {
		wg.Add(1)
		go func(i int) {
			item := testItem(Priority(i%3), time.Now())
			for q.tryPush(item) != nil {
			}
			wg.Done()
		}(i)
	}
	wg.Wait()
}

// A max of 0 or less means no max.
func TestRunQueueNoMax(t *testing.T) {
	for _, max := range []int{0, -1} {
		q := newRunQueue(max)
		for i := 0; i < 100; i++ {
			if q.tryPush(testItem(MedPri, time.Now())) != nil {
				t.Fatal("expect unlimited pushing")
			}
		}
	}
}
