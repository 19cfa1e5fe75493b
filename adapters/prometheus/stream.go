package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/partitionkit/streamproc/core/metrics"
	"github.com/partitionkit/streamproc/core/stream"
)

// streamMetrics implements stream.StreamMetrics using Prometheus.
type streamMetrics struct {
	recoveryDuration *prometheus.HistogramVec
	recordsReplayed  *prometheus.CounterVec

	iterationDuration *prometheus.HistogramVec
	recordsProcessed  *prometheus.CounterVec
	recordsSkipped    *prometheus.CounterVec
	recordsRejected   *prometheus.CounterVec

	concurrencyConflicts *prometheus.CounterVec
	retryAttempts        *prometheus.CounterVec

	health *prometheus.GaugeVec
}

// NewStreamMetrics creates a Prometheus implementation of stream.StreamMetrics,
// registering all of its collectors against reg.
func NewStreamMetrics(reg prometheus.Registerer) stream.StreamMetrics {
	m := &streamMetrics{
		recoveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clstr_stream_recovery_duration_seconds",
			Help:    "Reprocessing (crash recovery) pass duration in seconds",
			Buckets: defaultBuckets,
		}, []string{"partition"}),

		recordsReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_stream_records_replayed_total",
			Help: "Total number of records replayed during recovery",
		}, []string{"partition"}),

		iterationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clstr_stream_iteration_duration_seconds",
			Help:    "Steady-state processing loop iteration duration in seconds",
			Buckets: defaultBuckets,
		}, []string{"partition"}),

		recordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_stream_records_processed_total",
			Help: "Total number of records applied by a handler",
		}, []string{"partition", "value_type", "intent"}),

		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_stream_records_skipped_total",
			Help: "Total number of records with no registered handler",
		}, []string{"partition", "value_type"}),

		recordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_stream_records_rejected_total",
			Help: "Total number of records rejected by a handler",
		}, []string{"partition", "value_type", "intent", "reason"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_stream_concurrency_conflicts_total",
			Help: "Total number of ErrConcurrentWriter occurrences",
		}, []string{"partition"}),

		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_stream_retry_attempts_total",
			Help: "Total number of retry attempts taken by the processing loop",
		}, []string{"partition"}),

		health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clstr_stream_health",
			Help: "1 if the partition is healthy, 0 otherwise",
		}, []string{"partition"}),
	}

	reg.MustRegister(
		m.recoveryDuration,
		m.recordsReplayed,
		m.iterationDuration,
		m.recordsProcessed,
		m.recordsSkipped,
		m.recordsRejected,
		m.concurrencyConflicts,
		m.retryAttempts,
		m.health,
	)

	return m
}

func partitionLabel(partitionID int) string { return strconv.Itoa(partitionID) }

func (m *streamMetrics) RecoveryDuration(partitionID int) metrics.Timer {
	return newTimer(m.recoveryDuration.WithLabelValues(partitionLabel(partitionID)))
}

func (m *streamMetrics) RecordsReplayed(partitionID int, count int) {
	m.recordsReplayed.WithLabelValues(partitionLabel(partitionID)).Add(float64(count))
}

func (m *streamMetrics) IterationDuration(partitionID int) metrics.Timer {
	return newTimer(m.iterationDuration.WithLabelValues(partitionLabel(partitionID)))
}

func (m *streamMetrics) RecordProcessed(partitionID int, valueType, intent string) {
	m.recordsProcessed.WithLabelValues(partitionLabel(partitionID), valueType, intent).Inc()
}

func (m *streamMetrics) RecordSkipped(partitionID int, valueType string) {
	m.recordsSkipped.WithLabelValues(partitionLabel(partitionID), valueType).Inc()
}

func (m *streamMetrics) RecordRejected(partitionID int, valueType, intent, reason string) {
	m.recordsRejected.WithLabelValues(partitionLabel(partitionID), valueType, intent, reason).Inc()
}

func (m *streamMetrics) ConcurrencyConflict(partitionID int) {
	m.concurrencyConflicts.WithLabelValues(partitionLabel(partitionID)).Inc()
}

func (m *streamMetrics) RetryAttempt(partitionID int, attempt int) {
	m.retryAttempts.WithLabelValues(partitionLabel(partitionID)).Inc()
}

func (m *streamMetrics) Health(partitionID int, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.health.WithLabelValues(partitionLabel(partitionID)).Set(v)
}

var _ stream.StreamMetrics = (*streamMetrics)(nil)
