package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "pipeline",
			Name:      "turns_total",
			Help:      "Total turns by final status",
		},
		[]string{"status"},
	)

	fragmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "pipeline",
			Name:      "fragments_total",
			Help:      "Total streamed fragments published to the dispatcher",
		},
	)

	triggerSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "pipeline",
			Name:      "trigger_skips_total",
			Help:      "Triggers dropped because no slot and no queue space were free",
		},
		[]string{"reason"},
	)

	inflightTurns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "streamd",
			Subsystem: "pipeline",
			Name:      "inflight_turns",
			Help:      "Turns currently in flight",
		},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "streamd",
			Subsystem: "pipeline",
			Name:      "turn_duration_seconds",
			Help:      "Duration of turns from launch to completion",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"status"},
	)

	sinkDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "sink",
			Name:      "dropped_total",
			Help:      "Events dropped per sink because its buffer was full",
		},
		[]string{"sink"},
	)

	sinkErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Sink-side errors caught at the dispatch boundary",
		},
		[]string{"sink"},
	)
)

func init() {
	prometheus.MustRegister(turnsTotal, fragmentsTotal, triggerSkipsTotal, inflightTurns, turnDuration, sinkDroppedTotal, sinkErrorsTotal)
}
