// Package telemetry exposes duri's Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors on a private registry so tests and
// embedders never collide with the global default registry.
type Metrics struct {
	registry *prometheus.Registry

	// TraceCount is the current number of stored traces.
	TraceCount prometheus.Gauge

	// SearchDuration tracks semantic search latency in seconds.
	SearchDuration prometheus.Histogram

	// SignalsTotal counts recorded confidence signals by type.
	SignalsTotal *prometheus.CounterVec

	// ConsolidationRuns counts consolidation runs by result.
	ConsolidationRuns *prometheus.CounterVec

	// ConsolidationDuration tracks consolidation run time in seconds.
	ConsolidationDuration prometheus.Histogram

	// RequestsTotal counts HTTP requests by method, path, and status.
	RequestsTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		TraceCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "duri",
			Subsystem: "memory",
			Name:      "traces",
			Help:      "Current number of stored traces",
		}),

		SearchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "duri",
			Subsystem: "semantic",
			Name:      "search_duration_seconds",
			Help:      "Duration of semantic search operations in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		SignalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duri",
			Subsystem: "memory",
			Name:      "signals_total",
			Help:      "Total number of recorded confidence signals",
		}, []string{"type"}),

		ConsolidationRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duri",
			Subsystem: "consolidate",
			Name:      "runs_total",
			Help:      "Total number of consolidation runs",
		}, []string{"result"}),

		ConsolidationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "duri",
			Subsystem: "consolidate",
			Name:      "run_duration_seconds",
			Help:      "Duration of consolidation runs in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duri",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
