// Package metrics registers the Prometheus collectors the pipeline exposes,
// following the teacher's init()+MustRegister pattern.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "skype_etl"

var (
	PhaseDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "phase_duration_seconds",
		Help:      "Duration of each pipeline phase in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"phase"})

	MessagesProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_processed_total",
		Help:      "Total messages processed per phase.",
	}, []string{"phase"})

	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Total errors recorded per phase, labeled by fatality.",
	}, []string{"phase", "fatal"})

	CheckpointWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkpoint_writes_total",
		Help:      "Total checkpoint files written.",
	})
)

func init() {
	prometheus.MustRegister(
		PhaseDurationSeconds,
		MessagesProcessedTotal,
		ErrorsTotal,
		CheckpointWritesTotal,
	)
}

// RecordError increments ErrorsTotal with the phase/fatal label pair.
func RecordError(phase string, fatal bool) {
	label := "false"
	if fatal {
		label = "true"
	}
	ErrorsTotal.WithLabelValues(phase, label).Inc()
}
