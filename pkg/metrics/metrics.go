// Package metrics exposes Prometheus observability hooks for the cache and
// operation engine. Per spec.md §4.D these counters are optional and must
// never affect correctness — nothing in this module reads them back.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardmap_cache_hits_total",
			Help: "Mapping cache hits, by cache store name.",
		},
		[]string{"store"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardmap_cache_misses_total",
			Help: "Mapping cache misses, by cache store name and reason.",
		},
		[]string{"store", "reason"},
	)

	OperationPhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shardmap_operation_phase_duration_seconds",
			Help:    "Duration of one operation-engine phase.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"operation", "phase"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardmap_operations_total",
			Help: "Total operations executed by the operation engine, by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	PendingLogDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shardmap_pending_log_depth",
			Help: "Number of pending-operation-log entries outstanding in the global catalog.",
		},
	)

	ReconciliationConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardmap_reconciliation_conflicts_total",
			Help: "Conflicting sub-ranges found by a reconciliation sweep, by classification.",
		},
		[]string{"classification"},
	)
)
