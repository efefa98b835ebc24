package metrics

import "time"

// CacheMetrics provides observability for cache operations.
//
// This interface is optional: pass nil to disable metrics collection with
// zero overhead.
//
// Example usage:
//
//	metrics.InitRegistry()
//	cacheMetrics := prometheus.NewCacheMetrics()
//	svc := cache.NewService(store, reg, cfg, cache.WithMetrics(cacheMetrics))
type CacheMetrics interface {
	// RecordSubmit records a completed submission with its category, payload
	// size, and duration.
	RecordSubmit(category string, bytes int64, duration time.Duration)

	// RecordFetch records a lookup. hit is false when the item was absent or
	// expired.
	RecordFetch(category string, hit bool, duration time.Duration)

	// RecordEviction records one evicted item with the reason ("expired" or
	// "capacity") and its size.
	RecordEviction(reason string, bytes int64)

	// SetOwnerUsage updates the per-owner usage gauges after a mutation.
	SetOwnerUsage(owner string, bytes int64, items int)
}

// Nil-safe wrappers. Call sites use these so a disabled metrics setup never
// needs a nil check.

func RecordSubmit(m CacheMetrics, category string, bytes int64, duration time.Duration) {
	if m != nil {
		m.RecordSubmit(category, bytes, duration)
	}
}

func RecordFetch(m CacheMetrics, category string, hit bool, duration time.Duration) {
	if m != nil {
		m.RecordFetch(category, hit, duration)
	}
}

func RecordEviction(m CacheMetrics, reason string, bytes int64) {
	if m != nil {
		m.RecordEviction(reason, bytes)
	}
}

func SetOwnerUsage(m CacheMetrics, owner string, bytes int64, items int) {
	if m != nil {
		m.SetOwnerUsage(owner, bytes, items)
	}
}
