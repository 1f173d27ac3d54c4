// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package kernel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/westerndigitalcorporation/tbl/internal/server"
)

var (
	// Per-opcode counts, latencies and pending counts. Requests against
	// service tables stay pending until the job is finished.
	opMetric = server.NewOpMetric("tbl_kernel_ops", "kernel", "op")

	kickDelay = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "tbl_kernel_kick_delay_seconds",
		Help: "time from a queue kick until a worker starts draining it",
	}, []string{"kernel"})

	pendingJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tbl_kernel_pending_jobs",
		Help: "jobs queued on a service table and not yet taken",
	}, []string{"kernel", "table"})

	liveHandles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tbl_kernel_handles",
		Help: "live handles by kind",
	}, []string{"kernel", "kind"})
)
