package kg

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// flushedDeltas counts deltas applied to the store.
	// Labels: class (nodes, edges, actions)
	flushedDeltas = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "kg",
			Name:      "flushed_deltas_total",
			Help:      "Total number of coalesced deltas applied to the store",
		},
		[]string{"class"},
	)

	// flushErrors counts failed flush batches.
	flushErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "kg",
			Name:      "flush_errors_total",
			Help:      "Total number of failed flush batches",
		},
		[]string{"class"},
	)

	// droppedDeltas counts deltas dropped after a batch failure
	// (at-most-once semantics for telemetry-grade statistics).
	droppedDeltas = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "kg",
			Name:      "dropped_deltas_total",
			Help:      "Total number of deltas dropped after a failed batch",
		},
		[]string{"class"},
	)
)
