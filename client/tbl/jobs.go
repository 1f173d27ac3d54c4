// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package tbl

import (
	"context"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/tbl/internal/core"
	"github.com/westerndigitalcorporation/tbl/pkg/retry"
)

const (
	// A job buffer must at least hold a job with no data.
	jobBufferMin = core.JobHeaderSize
	// Serve grows its buffer for bigger jobs up to this.
	maxJobBuffer = core.JobHeaderSize + 64<<20
)

// Handler does the work a job asks for and fills in the answer: Result (a
// non-negative value or a negated core.Error, see core.Error.Result), and
// ObjectID for open and create, Data for read. The answer to a close job is
// ignored.
type Handler func(j *core.Job)

// Serve takes jobs from the service table 'table' is a handle to and runs
// 'handler' on each, until 'ctx' is cancelled or the kernel fails a call.
// When no job is pending it sleeps with a growing backoff. A job too big for
// the buffer doubles it, up to maxJobBuffer. Serve returns ctx.Err() after
// cancellation.
func (t *Thread) Serve(ctx context.Context, table core.Handle, handler Handler) error {
	buf := make([]byte, t.opts.JobBufferSize)
	idle := retry.Backoff{Min: t.opts.ServeMinBackoff, Max: t.opts.ServeMaxBackoff}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		j, ok, err := t.TakeJob(table, buf)
		if core.ErrInvalidInput.Is(err) && len(buf) < maxJobBuffer {
			buf = make([]byte, 2*len(buf))
			log.V(1).Infof("table handle %d: job buffer grown to %d", table, len(buf))
			continue
		}
		if err != nil {
			log.Errorf("taking job from table handle %d: %s", table, err)
			return err
		}
		if !ok {
			if !idle.Wait(ctx) {
				return ctx.Err()
			}
			continue
		}
		idle.Reset()

		j.Result = 0
		handler(&j)
		if j.Type != core.JobRead {
			j.Data = nil
		}
		if err := t.FinishJob(table, j); err != nil {
			log.Errorf("finishing job %d (%s): %s", j.JobID, j.Type, err)
			return err
		}
	}
}
