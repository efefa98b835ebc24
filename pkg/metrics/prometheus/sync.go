package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/satchel-edu/satchel/pkg/metrics"
)

// syncMetrics is the Prometheus implementation of metrics.SyncMetrics.
type syncMetrics struct {
	enqueues   *prometheus.CounterVec
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
}

// NewSyncMetrics creates a Prometheus-backed SyncMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewSyncMetrics() metrics.SyncMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &syncMetrics{
		enqueues: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_sync_enqueues_total",
				Help: "Total number of operations entering the sync queue",
			},
			[]string{"operation_type"},
		),
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_sync_operations_total",
				Help: "Total number of reconciled operations by type and outcome",
			},
			[]string{"operation_type", "outcome"}, // "completed", "failed", "conflict"
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "satchel_sync_operation_duration_milliseconds",
				Help:    "Duration of reconcile attempts in milliseconds",
				Buckets: []float64{10, 50, 100, 500, 1000, 5000, 30000},
			},
			[]string{"operation_type"},
		),
		retries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "satchel_sync_retries_total",
				Help: "Total number of retried remote calls",
			},
			[]string{"operation_type"},
		),
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "satchel_sync_queue_depth",
				Help: "Outstanding sync operations per owner",
			},
			[]string{"owner"},
		),
	}
}

func (m *syncMetrics) RecordEnqueue(operationType string) {
	m.enqueues.WithLabelValues(operationType).Inc()
}

func (m *syncMetrics) RecordOperation(operationType, outcome string, duration time.Duration) {
	m.operations.WithLabelValues(operationType, outcome).Inc()
	m.duration.WithLabelValues(operationType).Observe(float64(duration.Milliseconds()))
}

func (m *syncMetrics) RecordRetry(operationType string) {
	m.retries.WithLabelValues(operationType).Inc()
}

func (m *syncMetrics) SetQueueDepth(owner string, depth int) {
	m.queueDepth.WithLabelValues(owner).Set(float64(depth))
}
