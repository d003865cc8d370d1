// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package hook

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HandlerFaults counts handler failures by plugin and event.
// Use RegisterMetrics to register this with a Prometheus registry.
var HandlerFaults = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gantry_hook_handler_faults_total",
		Help: "Total number of hook handler failures",
	},
	[]string{"plugin", "event"},
)

// RegisterMetrics registers hook package metrics with the given
// Prometheus registry. Call at startup to make metrics available on
// /metrics. Panics if registration fails (prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(HandlerFaults)
}

// RecordHandlerFault increments the handler fault counter.
func RecordHandlerFault(plugin, event string) {
	HandlerFaults.WithLabelValues(plugin, event).Inc()
}
