// Package prometheus implements the metrics interfaces on the Prometheus
// client library.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/satchel-edu/satchel/pkg/metrics"
)

// cacheMetrics is the Prometheus implementation of metrics.CacheMetrics.
type cacheMetrics struct {
	submits        *prometheus.CounterVec
	submitBytes    *prometheus.HistogramVec
	submitDuration *prometheus.HistogramVec
	fetches        *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	evictions      *prometheus.CounterVec
	evictedBytes   *prometheus.CounterVec
	ownerBytes     *prometheus.GaugeVec
	ownerItems     *prometheus.GaugeVec
}

// NewCacheMetrics creates a Prometheus-backed CacheMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewCacheMetrics() metrics.CacheMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &cacheMetrics{
		submits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_cache_submits_total",
				Help: "Total number of content submissions by category",
			},
			[]string{"category"},
		),
		submitBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "satchel_cache_submit_bytes",
				Help: "Distribution of submitted payload sizes",
				Buckets: []float64{
					256,     // small progress snapshots
					1024,    // 1KB
					8192,    // 8KB
					65536,   // 64KB
					524288,  // 512KB
					2097152, // 2MB - large lesson bundles
				},
			},
			[]string{"category"},
		),
		submitDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "satchel_cache_submit_duration_milliseconds",
				Help:    "Duration of content submissions in milliseconds",
				Buckets: []float64{0.5, 1, 5, 10, 50, 100, 500},
			},
			[]string{"category"},
		),
		fetches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_cache_fetches_total",
				Help: "Total number of content lookups by category and status",
			},
			[]string{"category", "status"}, // status: "hit", "miss"
		),
		fetchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "satchel_cache_fetch_duration_milliseconds",
				Help:    "Duration of content lookups in milliseconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100},
			},
			[]string{"category"},
		),
		evictions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_cache_evictions_total",
				Help: "Total number of evicted items by reason",
			},
			[]string{"reason"}, // "expired", "capacity"
		),
		evictedBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_cache_evicted_bytes_total",
				Help: "Total bytes reclaimed by eviction, by reason",
			},
			[]string{"reason"},
		),
		ownerBytes: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "satchel_cache_owner_bytes",
				Help: "Current cached bytes per owner",
			},
			[]string{"owner"},
		),
		ownerItems: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "satchel_cache_owner_items",
				Help: "Current cached item count per owner",
			},
			[]string{"owner"},
		),
	}
}

func (m *cacheMetrics) RecordSubmit(category string, bytes int64, duration time.Duration) {
	m.submits.WithLabelValues(category).Inc()
	m.submitBytes.WithLabelValues(category).Observe(float64(bytes))
	m.submitDuration.WithLabelValues(category).Observe(float64(duration.Milliseconds()))
}

func (m *cacheMetrics) RecordFetch(category string, hit bool, duration time.Duration) {
	status := "miss"
	if hit {
		status = "hit"
	}
	m.fetches.WithLabelValues(category, status).Inc()
	m.fetchDuration.WithLabelValues(category).Observe(float64(duration.Milliseconds()))
}

func (m *cacheMetrics) RecordEviction(reason string, bytes int64) {
	m.evictions.WithLabelValues(reason).Inc()
	m.evictedBytes.WithLabelValues(reason).Add(float64(bytes))
}

func (m *cacheMetrics) SetOwnerUsage(owner string, bytes int64, items int) {
	m.ownerBytes.WithLabelValues(owner).Set(float64(bytes))
	m.ownerItems.WithLabelValues(owner).Set(float64(items))
}
