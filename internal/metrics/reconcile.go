package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ReconcileMetrics holds metrics related to search index reconciliation.
type ReconcileMetrics struct {
	// IndexRequests counts search index requests.
	// Labels: operation (delete, update), status (success, failure)
	IndexRequests *prometheus.CounterVec

	// IndexDocuments counts documents carried by search index requests.
	// Labels: operation (delete, update), status (success, failure)
	IndexDocuments *prometheus.CounterVec

	// PendingDeletions is the depth of the pending deletion queue at the end
	// of the last pass.
	PendingDeletions prometheus.Gauge

	// PassDuration tracks reconciliation pass latency.
	// Labels: result (completed, skipped)
	PassDuration *prometheus.HistogramVec
}

// Index operation label values.
const (
	OpIndexDelete = "delete"
	OpIndexUpdate = "update"
)

// Pass result label values.
const (
	PassCompleted = "completed"
	PassSkipped   = "skipped"
)

// NewReconcileMetrics creates reconcile metrics registered with the default registry.
func NewReconcileMetrics() *ReconcileMetrics {
	return NewReconcileMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewReconcileMetricsWithRegistry creates reconcile metrics registered with a custom registry.
func NewReconcileMetricsWithRegistry(reg prometheus.Registerer) *ReconcileMetrics {
	f := promauto.With(reg)
	return &ReconcileMetrics{
		IndexRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "index_requests_total",
			Help:      "Total number of search index requests, broken down by operation and status.",
		}, []string{"operation", "status"}),
		IndexDocuments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "index_documents_total",
			Help:      "Total number of documents sent to the search index, broken down by operation and status.",
		}, []string{"operation", "status"}),
		PendingDeletions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "pending_deletions",
			Help:      "Number of pending deletion queue entries left after the last pass.",
		}),
		PassDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "pass_duration_seconds",
			Help:      "Reconciliation pass duration in seconds, broken down by result.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"result"}),
	}
}

// RecordIndexRequest records one search index request carrying docs documents.
func (m *ReconcileMetrics) RecordIndexRequest(operation string, docs int, success bool) {
	status := statusLabel(success)
	m.IndexRequests.WithLabelValues(operation, status).Inc()
	m.IndexDocuments.WithLabelValues(operation, status).Add(float64(docs))
}

// RecordPendingDeletions sets the pending deletion queue depth.
func (m *ReconcileMetrics) RecordPendingDeletions(n int64) {
	m.PendingDeletions.Set(float64(n))
}

// RecordPass records the duration of one pass.
func (m *ReconcileMetrics) RecordPass(durationSeconds float64, skipped bool) {
	result := PassCompleted
	if skipped {
		result = PassSkipped
	}
	m.PassDuration.WithLabelValues(result).Observe(durationSeconds)
}
