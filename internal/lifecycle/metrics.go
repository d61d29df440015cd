package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promotedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "lifecycle",
		Name:      "promoted_total",
		Help:      "Records promoted between tiers.",
	}, []string{"from", "to"})

	expiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "lifecycle",
		Name:      "expired_total",
		Help:      "Records archived by TTL expiry.",
	}, []string{"tier"})

	cleanedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "lifecycle",
		Name:      "cleaned_total",
		Help:      "Records archived by garbage collection.",
	}, []string{"tier"})

	cycleErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "lifecycle",
		Name:      "cycle_errors_total",
		Help:      "Transition failures during lifecycle cycles.",
	})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "recalld",
		Subsystem: "lifecycle",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of completed lifecycle cycles.",
		Buckets:   prometheus.DefBuckets,
	})
)
