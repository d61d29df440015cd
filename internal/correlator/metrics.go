package correlator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lookupHits counts lookups that found a live surfaced-memory record.
	lookupHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "correlator",
			Name:      "lookup_hits_total",
			Help:      "Total lookups that found a live surfaced-memory record",
		},
	)

	// lookupMisses counts lookups that found nothing (absent or expired).
	lookupMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "correlator",
			Name:      "lookup_misses_total",
			Help:      "Total lookups that found no live record",
		},
	)

	// storeFailures counts swallowed store errors.
	storeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "correlator",
			Name:      "store_failures_total",
			Help:      "Total store operations that failed and were degraded to no-ops",
		},
	)
)
