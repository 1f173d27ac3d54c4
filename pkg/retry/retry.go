// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package retry

import (
	"context"
	"math/rand"
	"time"
)

// Backoff produces jittered, exponentially growing sleep times between Min
// and Max. The zero value sleeps for zero time.
type Backoff struct {
	// Min is the first and shortest sleep.
	Min time.Duration

	// Max bounds the sleep. Once reached, sleeps stay near Max with up to Min
	// of jitter.
	Max time.Duration

	next time.Duration
}

// Next returns the sleep to use now and advances the backoff.
func (b *Backoff) Next() time.Duration {
	if b.Max < b.Min {
		b.Max = b.Min
	}
	if b.next < b.Min {
		b.next = b.Min
	}
	cur := b.next
	b.next = time.Duration(float64(b.next) * (1.75 + 0.5*rand.Float64()))
	if b.next > b.Max {
		b.next = b.Max + time.Duration(float64(b.Min)*rand.Float64())
	}
	return cur
}

// Reset starts the backoff over from Min, e.g. after some work got done.
func (b *Backoff) Reset() {
	b.next = 0
}

// Wait sleeps for the next backoff period. It returns false if 'ctx' was
// cancelled first.
func (b *Backoff) Wait(ctx context.Context) bool {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Task to execute with retries in the Do method.
// On every execution, it receives the iteration number.
// It should return true if it completes successfully and false if it should be retried.
type Task func(int) (done bool)

// Retrier runs a Task until it succeeds or a bound is hit.
type Retrier struct {
	// Sleep between attempts.
	Backoff Backoff

	// MaxRetry, if greater than zero, will be used to bound the
	// total time to execute the retry loop.
	MaxRetry time.Duration

	// MaxNumRetries, if greater than zero, will limit the number of retry attempts.
	MaxNumRetries int
}

// Do will execute the given Task, retrying when the task returns false.
// If task returns true, Do will return (true, false).
// If it hits the maximum retry count or time, it will return (false, false).
// If the context is cancelled, it will return (false, true).
func (r *Retrier) Do(ctx context.Context, task Task) (success, cancelled bool) {
	b := r.Backoff
	b.Reset()
	start := time.Now()
	for i := 0; ; i++ {
		if r.MaxNumRetries > 0 && i >= r.MaxNumRetries ||
			r.MaxRetry > 0 && time.Since(start)+b.next > r.MaxRetry {
			return false, false
		}
		if task(i) {
			return true, false
		}
		if !b.Wait(ctx) {
			return false, true
		}
	}
}
