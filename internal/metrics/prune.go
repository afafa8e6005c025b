package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PruneMetrics holds metrics related to prune runs.
type PruneMetrics struct {
	// RowsScanned counts variant rows visited by the scan.
	RowsScanned prometheus.Counter

	// Decisions counts classifier decisions.
	// Labels: type (FULL, PARTIAL, SKIP)
	Decisions *prometheus.CounterVec

	// Partitions counts finished scan partitions.
	// Labels: status (success, failure)
	Partitions *prometheus.CounterVec

	// RunDuration tracks the wall time of whole runs.
	// Labels: mode (dry_run, live), status (success, failure)
	RunDuration *prometheus.HistogramVec

	// VerifierSamples counts report records checked by the dry-run verifier.
	VerifierSamples prometheus.Counter

	// VerifierViolations counts records that disagreed with the stored row.
	VerifierViolations prometheus.Counter
}

// Run mode label values.
const (
	ModeDryRun = "dry_run"
	ModeLive   = "live"
)

// DefaultRunDurationBuckets span quick test runs to multi-hour sweeps.
var DefaultRunDurationBuckets = []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200, 14400, 28800}

// NewPruneMetrics creates prune metrics registered with the default registry.
func NewPruneMetrics() *PruneMetrics {
	return NewPruneMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewPruneMetricsWithRegistry creates prune metrics registered with a custom registry.
func NewPruneMetricsWithRegistry(reg prometheus.Registerer) *PruneMetrics {
	f := promauto.With(reg)
	return &PruneMetrics{
		RowsScanned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "rows_scanned_total",
			Help:      "Total number of variant rows scanned by prune runs.",
		}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "decisions_total",
			Help:      "Total number of classifier decisions, broken down by decision type.",
		}, []string{"type"}),
		Partitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "partitions_total",
			Help:      "Total number of scan partitions processed, broken down by status.",
		}, []string{"status"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "run_duration_seconds",
			Help:      "Prune run duration in seconds, broken down by mode and status.",
			Buckets:   DefaultRunDurationBuckets,
		}, []string{"mode", "status"}),
		VerifierSamples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "verifier_samples_total",
			Help:      "Total number of report records checked by the dry-run verifier.",
		}),
		VerifierViolations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "verifier_violations_total",
			Help:      "Total number of report records contradicted by the stored rows.",
		}),
	}
}

// RecordRowsScanned adds n scanned rows.
func (m *PruneMetrics) RecordRowsScanned(n int64) {
	m.RowsScanned.Add(float64(n))
}

// RecordDecision counts one classifier decision.
func (m *PruneMetrics) RecordDecision(decision string) {
	m.Decisions.WithLabelValues(decision).Inc()
}

// RecordPartition counts one finished partition.
func (m *PruneMetrics) RecordPartition(success bool) {
	m.Partitions.WithLabelValues(statusLabel(success)).Inc()
}

// RecordRun records the duration and outcome of a run.
func (m *PruneMetrics) RecordRun(dryRun bool, durationSeconds float64, success bool) {
	mode := ModeLive
	if dryRun {
		mode = ModeDryRun
	}
	m.RunDuration.WithLabelValues(mode, statusLabel(success)).Observe(durationSeconds)
}

// RecordVerification records the outcome of a verifier pass.
func (m *PruneMetrics) RecordVerification(samples, violations int64) {
	m.VerifierSamples.Add(float64(samples))
	m.VerifierViolations.Add(float64(violations))
}
