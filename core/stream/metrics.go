package stream

import "github.com/partitionkit/streamproc/core/metrics"

// StreamMetrics defines the metrics interface for the stream processor.
// All methods are safe for concurrent use; implementations must not block.
type StreamMetrics interface {
	RecoveryDuration(partitionID int) metrics.Timer
	RecordsReplayed(partitionID int, count int)

	IterationDuration(partitionID int) metrics.Timer
	RecordProcessed(partitionID int, valueType, intent string)
	RecordSkipped(partitionID int, valueType string)
	RecordRejected(partitionID int, valueType, intent, reason string)

	ConcurrencyConflict(partitionID int)
	RetryAttempt(partitionID int, attempt int)

	Health(partitionID int, healthy bool)
}

type nopStreamMetrics struct{}

func (nopStreamMetrics) RecoveryDuration(int) metrics.Timer { return metrics.NopTimer() }
func (nopStreamMetrics) RecordsReplayed(int, int)           {}

func (nopStreamMetrics) IterationDuration(int) metrics.Timer { return metrics.NopTimer() }
func (nopStreamMetrics) RecordProcessed(int, string, string) {}
func (nopStreamMetrics) RecordSkipped(int, string)           {}
func (nopStreamMetrics) RecordRejected(int, string, string, string) {}

func (nopStreamMetrics) ConcurrencyConflict(int)  {}
func (nopStreamMetrics) RetryAttempt(int, int)    {}

func (nopStreamMetrics) Health(int, bool) {}

// NopStreamMetrics returns a no-op StreamMetrics implementation, the
// Supervisor's default when no metrics adapter is configured.
func NopStreamMetrics() StreamMetrics { return nopStreamMetrics{} }
