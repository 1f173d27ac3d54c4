// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package tbl

import (
	"fmt"
	"time"

	"github.com/westerndigitalcorporation/tbl/internal/ioqueue"
	"github.com/westerndigitalcorporation/tbl/internal/kernel"
)

// Options configures a Thread.
type Options struct {
	// Ring sizes (as log2) of the thread's I/O queue. Only one request is
	// ever in flight, so the smallest ring is enough.
	RequestLog2, ResponseLog2 uint8

	// Priority of the queue relative to other threads' queues.
	Priority kernel.Priority

	// How many table name resolutions to cache. Zero disables the cache and
	// every resolution scans the table directory.
	TableCacheSize int

	// Size of the buffer TakeJob marshals jobs into, including the job
	// header. Bounds how much a single write job can carry.
	JobBufferSize int

	// Idle backoff of Serve when no job is pending.
	ServeMinBackoff, ServeMaxBackoff time.Duration
}

// DefaultOptions are reasonable values for most threads.
var DefaultOptions = Options{
	RequestLog2:     0,
	ResponseLog2:    0,
	Priority:        kernel.MedPri,
	TableCacheSize:  0,
	JobBufferSize:   64 << 10,
	ServeMinBackoff: time.Millisecond,
	ServeMaxBackoff: 50 * time.Millisecond,
}

// Validate checks the options are usable.
func (o Options) Validate() error {
	if o.RequestLog2 > ioqueue.MaxLog2 || o.ResponseLog2 > ioqueue.MaxLog2 {
		return fmt.Errorf("ring sizes can be at most 2^%d", ioqueue.MaxLog2)
	}
	if o.TableCacheSize < 0 {
		return fmt.Errorf("TableCacheSize can not be negative")
	}
	if o.JobBufferSize < jobBufferMin {
		return fmt.Errorf("JobBufferSize must be at least %d", jobBufferMin)
	}
	if o.ServeMinBackoff <= 0 || o.ServeMaxBackoff < o.ServeMinBackoff {
		return fmt.Errorf("bad Serve backoff %s..%s", o.ServeMinBackoff, o.ServeMaxBackoff)
	}
	return nil
}

// openOptions are the options of OpenFile.
type openOptions struct {
	create bool
}

type openOpt func(*openOptions)

// OpenCreate makes OpenFile create a new object named by the path instead of
// opening an existing one. The path must then contain a selector.
func OpenCreate(o *openOptions) { o.create = true }
