package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	surfacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "engine",
		Name:      "surfaced_memories_total",
		Help:      "Memory fragments recorded as surfaced to a conversation.",
	})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "engine",
		Name:      "outcomes_recorded_total",
		Help:      "Outcome increments applied to memory records.",
	}, []string{"outcome"})

	taskFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "engine",
		Name:      "task_failures_total",
		Help:      "Degraded engine operations and background task failures.",
	})
)
