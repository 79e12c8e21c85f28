package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the projection pipeline's Prometheus collectors.
type Metrics struct {
	EventsProcessed  prometheus.Counter
	BatchesCommitted prometheus.Counter
	BatchFailures    prometheus.Counter
	DecodeDrops      prometheus.Counter
	DeadlockRetries  prometheus.Counter
	QueueLength      prometheus.Gauge
}

// NewMetrics builds and registers the pipeline collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grapht", Subsystem: "pipeline",
			Name: "events_processed_total",
			Help: "Events committed to the store.",
		}),
		BatchesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grapht", Subsystem: "pipeline",
			Name: "batches_committed_total",
			Help: "Batches committed to the store.",
		}),
		BatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grapht", Subsystem: "pipeline",
			Name: "batch_failures_total",
			Help: "Batches dropped after a non-retryable store error.",
		}),
		DecodeDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grapht", Subsystem: "pipeline",
			Name: "decode_drops_total",
			Help: "Malformed payloads skipped by the decoder.",
		}),
		DeadlockRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grapht", Subsystem: "pipeline",
			Name: "deadlock_retries_total",
			Help: "Whole-transaction retries after a store deadlock.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "grapht", Subsystem: "pipeline",
			Name: "queue_length",
			Help: "Events currently waiting in the transaction queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.EventsProcessed, m.BatchesCommitted, m.BatchFailures,
			m.DecodeDrops, m.DeadlockRetries, m.QueueLength)
	}
	return m
}
