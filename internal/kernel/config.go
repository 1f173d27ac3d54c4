// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package kernel

import (
	"fmt"

	"github.com/westerndigitalcorporation/tbl/internal/ioqueue"
)

// Config encapsulates parameters for a Kernel.
type Config struct {
	// How many worker goroutines drain kicked I/O queues.
	Workers int

	// Most I/O queues that may exist at once. Also bounds the run queue,
	// since a queue is on it at most once.
	MaxQueues int

	// Largest ring size (as log2) a queue may ask for.
	MaxQueueLog2 uint8

	// Largest number of jobs a service table holds pending before new
	// requests against it fail with ErrBusy. Zero means no limit.
	MaxPendingJobs int

	// Largest payload a single job may carry, i.e. the largest write to a
	// service object. Bigger writes fail with ErrInvalidInput instead of
	// becoming jobs no server can take.
	MaxJobData int

	// Largest position a seek may set, and the largest size a write may grow
	// a driver-backed object to.
	MaxObjectSize int64

	// Name of the metrics label used for this kernel.
	Name string
}

// Validate validates the configuration object has reasonable (not obviously
// wrong) values.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("Workers must be positive, got %d", c.Workers)
	}
	if c.MaxQueues <= 0 {
		return fmt.Errorf("MaxQueues must be positive, got %d", c.MaxQueues)
	}
	if c.MaxQueueLog2 > ioqueue.MaxLog2 {
		return fmt.Errorf("MaxQueueLog2 can be at most %d, got %d", ioqueue.MaxLog2, c.MaxQueueLog2)
	}
	if c.MaxPendingJobs < 0 {
		return fmt.Errorf("MaxPendingJobs can not be negative")
	}
	if c.MaxJobData <= 0 {
		return fmt.Errorf("MaxJobData must be positive, got %d", c.MaxJobData)
	}
	if c.MaxObjectSize <= 0 {
		return fmt.Errorf("MaxObjectSize must be positive, got %d", c.MaxObjectSize)
	}
	if c.Name == "" {
		return fmt.Errorf("Name can not be empty")
	}
	return nil
}

// DefaultConfig specifies the default values for Config.
var DefaultConfig = Config{
	Workers:        4,
	MaxQueues:      1024,
	MaxQueueLog2:   8,
	MaxPendingJobs: 4096,
	MaxJobData:     16 << 20,
	MaxObjectSize:  1 << 30,
	Name:           "kernel",
}

// DefaultTestConfig specifies the default values for Config that is used for
// testing. A single worker makes ordering across queues deterministic.
var DefaultTestConfig = Config{
	Workers:        1,
	MaxQueues:      64,
	MaxQueueLog2:   6,
	MaxPendingJobs: 16,
	MaxJobData:     256 << 10,
	MaxObjectSize:  16 << 20,
	Name:           "test",
}
