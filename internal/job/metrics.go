// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package job

import (
	"github.com/prometheus/client_golang/prometheus"
)

// JobsTotal counts finished jobs by terminal reason.
// Use RegisterMetrics to register this with a Prometheus registry.
var JobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gantry_jobs_total",
		Help: "Total number of finished jobs by terminal reason",
	},
	[]string{"reason"},
)

// LinesSent counts lines transmitted to the controller.
var LinesSent = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "gantry_lines_sent_total",
		Help: "Total number of G-code lines sent to the controller",
	},
)

// LinesElided counts same-tool tool-change lines suppressed from
// transmission.
var LinesElided = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "gantry_lines_elided_total",
		Help: "Total number of redundant tool-change lines not transmitted",
	},
)

// AckLatency observes the controller acknowledgment round trip.
var AckLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "gantry_ack_latency_seconds",
		Help:    "Controller acknowledgment latency in seconds",
		Buckets: prometheus.DefBuckets,
	},
)

// RegisterMetrics registers job package metrics with the given
// Prometheus registry. Panics if registration fails (prometheus
// convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(JobsTotal)
	reg.MustRegister(LinesSent)
	reg.MustRegister(LinesElided)
	reg.MustRegister(AckLatency)
}
