package metrics

import "time"

// SyncMetrics provides observability for the synchronization queue.
//
// Like CacheMetrics, nil disables collection entirely.
type SyncMetrics interface {
	// RecordEnqueue records a new operation entering the queue.
	RecordEnqueue(operationType string)

	// RecordOperation records a finished reconcile attempt for one operation.
	// outcome is "completed", "failed", or "conflict".
	RecordOperation(operationType string, outcome string, duration time.Duration)

	// RecordRetry records one retried remote call.
	RecordRetry(operationType string)

	// SetQueueDepth updates the per-owner queue depth gauge.
	SetQueueDepth(owner string, depth int)
}

func RecordEnqueue(m SyncMetrics, operationType string) {
	if m != nil {
		m.RecordEnqueue(operationType)
	}
}

func RecordOperation(m SyncMetrics, operationType, outcome string, duration time.Duration) {
	if m != nil {
		m.RecordOperation(operationType, outcome, duration)
	}
}

func RecordRetry(m SyncMetrics, operationType string) {
	if m != nil {
		m.RecordRetry(operationType)
	}
}

func SetQueueDepth(m SyncMetrics, owner string, depth int) {
	if m != nil {
		m.SetQueueDepth(owner, depth)
	}
}
