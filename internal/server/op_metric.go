// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/westerndigitalcorporation/tbl/internal/core"
)

// OpMetric tracks counts, latencies and pending counts of operations, such as
// the requests a kernel executes on behalf of an I/O queue.
//
// OpMetric creates three metric sets:
//   - A CounterVec with the given name, label "result", and any additional
//     labels. Every Start counts under "result"="all"; End counts under
//     "result"=the kind of error the operation ended with ("ok" for none).
//   - A SummaryVec with the given name + "_latency". Only successful
//     operations contribute latencies.
//   - A GaugeVec with the given name + "_pending".
//
// Suggested usage:
//
//	func (k *Kernel) execute(t ioqueue.Taken) (v int64) {
//		op := opm.Start(k.name, t.Op.String())
//		err := core.NoError
//		defer op.EndWithError(&err)
//		...
//	}
type OpMetric struct {
	name      string
	counters  *prometheus.CounterVec
	latencies *prometheus.SummaryVec
	pending   *prometheus.GaugeVec
}

// NewOpMetric returns a new op metric. It registers with the default registry
// and so must only be called once per name, typically from a package var.
func NewOpMetric(name string, labels ...string) *OpMetric {
	labelsWithResult := append([]string{"result"}, labels...)
	return &OpMetric{
		name:      name,
		counters:  promauto.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name + " by result"}, labelsWithResult),
		latencies: promauto.NewSummaryVec(prometheus.SummaryOpts{Name: name + "_latency", Help: name + " latency in seconds"}, labels),
		pending:   promauto.NewGaugeVec(prometheus.GaugeOpts{Name: name + "_pending", Help: name + " in progress"}, labels),
	}
}

// Start marks that a new operation has started and begins measuring latency.
func (m *OpMetric) Start(values ...string) *OpMeasurer {
	m.counters.WithLabelValues(append([]string{"all"}, values...)...).Inc()
	m.pending.WithLabelValues(values...).Inc()
	return &OpMeasurer{opm: m, values: values, start: time.Now()}
}

// Count returns how many operations with the given labels ended with 'result'.
func (m *OpMetric) Count(result string, values ...string) uint64 {
	var value dto.Metric
	if m.counters.WithLabelValues(append([]string{result}, values...)...).Write(&value) != nil {
		return 0
	}
	return uint64(value.GetCounter().GetValue())
}

// Pending returns how many operations with the given labels have started but
// not ended.
func (m *OpMetric) Pending(values ...string) int64 {
	var value dto.Metric
	if m.pending.WithLabelValues(values...).Write(&value) != nil {
		return 0
	}
	return int64(value.GetGauge().GetValue())
}

// String returns a summary line for the operations with the given labels.
func (m *OpMetric) String(values ...string) string {
	out := SummaryString(m.latencies.WithLabelValues(values...))
	return fmt.Sprintf("%s / %d ok / %d pending", out, m.Count("ok", values...), m.Pending(values...))
}

// OpMeasurer measures one operation started with OpMetric.Start.
type OpMeasurer struct {
	opm    *OpMetric
	values []string
	start  time.Time
	done   bool
}

// End records a successful operation.
func (lm *OpMeasurer) End() {
	e := core.NoError
	lm.EndWithError(&e)
}

// EndWithError records the operation's result. It takes a pointer so that it
// can be deferred before the result is known.
func (lm *OpMeasurer) EndWithError(err *core.Error) {
	if lm.done {
		return
	}
	lm.done = true
	if *err == core.NoError {
		lm.opm.latencies.WithLabelValues(lm.values...).Observe(time.Since(lm.start).Seconds())
	}
	lm.opm.counters.WithLabelValues(append([]string{ResultLabel(*err)}, lm.values...)...).Inc()
	lm.opm.pending.WithLabelValues(lm.values...).Dec()
}

// ResultLabel turns an error into a metric label value: "ok" for NoError, the
// description in snake case otherwise.
func ResultLabel(e core.Error) string {
	if e == core.NoError {
		return "ok"
	}
	s := e.String()
	if i := strings.IndexAny(s, ":("); i > 0 {
		s = s[:i]
	}
	return strings.Replace(strings.TrimSpace(s), " ", "_", -1)
}

// SummaryString formats the count and quantiles of a summary.
func SummaryString(obs prometheus.Observer) string {
	sum, ok := obs.(prometheus.Summary)
	if !ok {
		return ""
	}
	var value dto.Metric
	if sum.Write(&value) != nil || value.Summary == nil {
		return ""
	}
	out := fmt.Sprintf("count=%d;", value.Summary.GetSampleCount())
	for _, q := range value.Summary.Quantile {
		out += fmt.Sprintf(" %gth=%.3f;", q.GetQuantile()*100, q.GetValue())
	}
	return out[:len(out)-1]
}
