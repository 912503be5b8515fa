package offlinekit

import "time"

// MetricsCollector provides hooks for collecting engine metrics
type MetricsCollector interface {
	// RecordSyncDuration records how long an operation ("read", "write", "replay", "replicate") took
	RecordSyncDuration(operation string, duration time.Duration)

	// RecordReplay records the outcome of one replay pass
	RecordReplay(synced, failed int)

	// RecordSyncErrors records operation errors by type
	RecordSyncErrors(operation string, errorType string)

	// RecordConflicts records the number of conflicts resolved
	RecordConflicts(resolved int)

	// RecordQueued records a write parked in the operation log
	RecordQueued(collection string)

	// RecordCacheFallback records a read served from the local store
	RecordCacheFallback(collection string)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordSyncDuration(operation string, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordReplay(synced, failed int)                             {}
func (n *NoOpMetricsCollector) RecordSyncErrors(operation string, errorType string)         {}
func (n *NoOpMetricsCollector) RecordConflicts(resolved int)                                {}
func (n *NoOpMetricsCollector) RecordQueued(collection string)                              {}
func (n *NoOpMetricsCollector) RecordCacheFallback(collection string)                       {}
