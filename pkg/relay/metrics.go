package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spin_gpt",
		Subsystem: "relay",
		Name:      "cycles_total",
		Help:      "Prompt cycles by outcome.",
	}, []string{"outcome"})

	metricFragments = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spin_gpt",
		Subsystem: "relay",
		Name:      "fragments_total",
		Help:      "Text fragments relayed to callers.",
	})

	metricCycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "spin_gpt",
		Subsystem: "relay",
		Name:      "cycle_duration_seconds",
		Help:      "Time the session lock was held per cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s to ~2m
	}, []string{"outcome"})

	metricQueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "spin_gpt",
		Subsystem: "relay",
		Name:      "queue_wait_seconds",
		Help:      "Time callers waited for the session lock.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	metricInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "spin_gpt",
		Subsystem: "relay",
		Name:      "in_flight",
		Help:      "Cycles currently holding the session lock.",
	})
)

func recordCycle(outcome string, held time.Duration) {
	metricCycles.WithLabelValues(outcome).Inc()
	metricCycleDuration.WithLabelValues(outcome).Observe(held.Seconds())
}

func recordQueueWait(d time.Duration) {
	metricQueueWait.Observe(d.Seconds())
}
