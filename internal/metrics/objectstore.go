package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ObjectStoreMetrics holds metrics related to report object store operations.
type ObjectStoreMetrics struct {
	// LatencyHistogram tracks object store operation latencies broken down by operation and status.
	// Labels: operation (put, get, head, delete, list), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total object store operations by operation and status.
	RequestsTotal *prometheus.CounterVec

	// BytesTotal tracks total bytes transferred by direction.
	// Labels: direction (read, write)
	BytesTotal *prometheus.CounterVec
}

// Object store operation label values.
const (
	OpObjPut    = "put"
	OpObjGet    = "get"
	OpObjHead   = "head"
	OpObjDelete = "delete"
	OpObjList   = "list"
)

// Bytes direction label values.
const (
	DirectionRead  = "read"
	DirectionWrite = "write"
)

// DefaultObjectStoreLatencyBuckets are latency buckets for object store
// operations, from local disk writes up to slow S3 uploads.
var DefaultObjectStoreLatencyBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
	30.0,  // 30s
	60.0,  // 60s
}

// NewObjectStoreMetrics creates object store metrics registered with the default registry.
func NewObjectStoreMetrics() *ObjectStoreMetrics {
	return NewObjectStoreMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewObjectStoreMetricsWithRegistry creates object store metrics registered with a custom registry.
func NewObjectStoreMetricsWithRegistry(reg prometheus.Registerer) *ObjectStoreMetrics {
	f := promauto.With(reg)
	return &ObjectStoreMetrics{
		LatencyHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "objectstore",
				Name:      "operation_latency_seconds",
				Help:      "Object store operation latency in seconds, broken down by operation and status.",
				Buckets:   DefaultObjectStoreLatencyBuckets,
			},
			[]string{"operation", "status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "objectstore",
				Name:      "operations_total",
				Help:      "Total number of object store operations, broken down by operation and status.",
			},
			[]string{"operation", "status"},
		),
		BytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "objectstore",
				Name:      "bytes_total",
				Help:      "Total bytes transferred by direction (read/write).",
			},
			[]string{"direction"},
		),
	}
}

// RecordOperation records an object store operation latency and increments the request counter.
func (m *ObjectStoreMetrics) RecordOperation(operation string, durationSeconds float64, success bool) {
	status := statusLabel(success)
	m.LatencyHistogram.WithLabelValues(operation, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordObjectOperation records an operation and, on success, the bytes it
// moved. Puts count as writes and gets as reads. It implements
// objectstore.MetricsRecorder.
func (m *ObjectStoreMetrics) RecordObjectOperation(operation string, durationSeconds float64, success bool, bytes int64) {
	m.RecordOperation(operation, durationSeconds, success)
	if !success || bytes <= 0 {
		return
	}
	switch operation {
	case OpObjPut:
		m.BytesTotal.WithLabelValues(DirectionWrite).Add(float64(bytes))
	case OpObjGet:
		m.BytesTotal.WithLabelValues(DirectionRead).Add(float64(bytes))
	}
}
