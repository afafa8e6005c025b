package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "helix"

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

func statusLabel(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}

// KVMetrics holds metrics related to metadata KV operations.
type KVMetrics struct {
	// LatencyHistogram tracks KV operation latencies broken down by operation type and status.
	// Labels: operation (get, put, delete, list), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total KV operations by operation type and status.
	RequestsTotal *prometheus.CounterVec

	// RetriesTotal tracks CAS retries by operation type.
	RetriesTotal *prometheus.CounterVec
}

// KV operation label values. They match the metadata package operation names.
const (
	OpGet    = "get"
	OpPut    = "put"
	OpDelete = "delete"
	OpList   = "list"
)

// DefaultKVLatencyBuckets are latency buckets for metadata operations, which
// are typically sub-millisecond to tens of milliseconds.
var DefaultKVLatencyBuckets = []float64{
	0.0001, // 0.1ms
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.002,  // 2ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	2.5,    // 2.5s
	5.0,    // 5s
}

// NewKVMetrics creates KV metrics registered with the default registry.
func NewKVMetrics() *KVMetrics {
	return NewKVMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewKVMetricsWithRegistry creates KV metrics registered with a custom registry.
func NewKVMetricsWithRegistry(reg prometheus.Registerer) *KVMetrics {
	f := promauto.With(reg)
	return &KVMetrics{
		LatencyHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "operation_latency_seconds",
				Help:      "Metadata KV operation latency in seconds, broken down by operation type and status.",
				Buckets:   DefaultKVLatencyBuckets,
			},
			[]string{"operation", "status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "operations_total",
				Help:      "Total number of metadata KV operations, broken down by operation type and status.",
			},
			[]string{"operation", "status"},
		),
		RetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "retries_total",
				Help:      "Total number of metadata KV compare-and-set retries, broken down by operation type.",
			},
			[]string{"operation"},
		),
	}
}

// RecordOperation records a KV operation latency and increments the request counter.
// It implements metadata.MetricsRecorder.
func (m *KVMetrics) RecordOperation(operation string, durationSeconds float64, success bool) {
	status := statusLabel(success)
	m.LatencyHistogram.WithLabelValues(operation, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordRetry increments the retry counter for the given operation type.
func (m *KVMetrics) RecordRetry(operation string) {
	m.RetriesTotal.WithLabelValues(operation).Inc()
}
