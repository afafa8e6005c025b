package prune

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/helix-io/helix/internal/logging"
	"github.com/helix-io/helix/internal/metrics"
	"github.com/helix-io/helix/internal/reconcile"
	"github.com/helix-io/helix/internal/report"
	"github.com/helix-io/helix/internal/variant"
	"github.com/helix-io/helix/internal/variantstore"
)

// JobConfig configures the scan of the variant table.
type JobConfig struct {
	// Workers is the number of partitions scanned concurrently. Default: 8
	Workers int

	// BatchSize is the number of rows fetched per scan round trip. Default: 1000
	BatchSize int

	// PartitionWindow is the width of a partition in positions. Zero scans
	// each chromosome as one partition.
	PartitionWindow uint64
}

// DefaultJobConfig returns a default configuration.
func DefaultJobConfig() JobConfig {
	return JobConfig{Workers: 8, BatchSize: 1000, PartitionWindow: 10_000_000}
}

// JobResult holds the counters of a scan.
type JobResult struct {
	Partitions int
	Scanned    int64
	Full       int64
	Partial    int64
	Skipped    int64
	// Timestamp identifies the report run.
	Timestamp string
	Parts     []report.Part
}

// Reported returns the number of report records.
func (r JobResult) Reported() int64 {
	return r.Full + r.Partial
}

type jobCounters struct {
	scanned, full, partial, skipped atomic.Int64
}

// Job applies a Classifier to every row of the variant table, writes each
// decision to the report and, unless it is a dry run, applies it.
type Job struct {
	store      variantstore.Store
	queue      *reconcile.Queue
	classifier *Classifier
	writer     *report.Writer
	runID      string
	dryRun     bool
	config     JobConfig
	metrics    *metrics.PruneMetrics
}

// NewJob creates a scan job. A dry-run job only holds a read-only view of
// store and no queue, so no mutation can reach the table.
func NewJob(store variantstore.Store, queue *reconcile.Queue, classifier *Classifier, writer *report.Writer, runID string, dryRun bool, config JobConfig) *Job {
	if config.Workers <= 0 {
		config.Workers = 8
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if dryRun {
		store = variantstore.ReadOnly(store)
		queue = nil
	}
	return &Job{
		store:      store,
		queue:      queue,
		classifier: classifier,
		writer:     writer,
		runID:      runID,
		dryRun:     dryRun,
		config:     config,
	}
}

// WithMetrics enables metrics recording.
func (j *Job) WithMetrics(m *metrics.PruneMetrics) *Job {
	j.metrics = m
	return j
}

// Run scans every partition. Once a partition fails no further partition is
// started, partitions already running complete, and the error of the first
// failure is returned. The report is only finished when all partitions
// succeeded.
func (j *Job) Run(ctx context.Context) (JobResult, error) {
	logger := logging.FromCtx(ctx)
	start := time.Now()

	partitions, err := j.store.Partitions(ctx, j.config.PartitionWindow)
	if err != nil {
		return JobResult{}, fmt.Errorf("prune: list partitions: %w", err)
	}
	logger.Infof("scanning variant table", map[string]any{
		"partitions": len(partitions),
		"workers":    j.config.Workers,
		"dryRun":     j.dryRun,
	})

	var (
		counters jobCounters
		failed   atomic.Bool
		g        errgroup.Group
	)
	g.SetLimit(j.config.Workers)
	for _, p := range partitions {
		if failed.Load() {
			break
		}
		g.Go(func() error {
			if failed.Load() {
				return nil
			}
			err := j.guardPartition(ctx, p, &counters)
			if j.metrics != nil {
				j.metrics.RecordPartition(err == nil)
			}
			if err != nil {
				failed.Store(true)
				logger.Errorf("partition failed", map[string]any{
					"partition":        p.String(),
					logging.ErrorField: err.Error(),
				})
				return fmt.Errorf("prune: partition %s: %w", p, err)
			}
			return nil
		})
	}
	err = g.Wait()

	res := JobResult{
		Partitions: len(partitions),
		Scanned:    counters.scanned.Load(),
		Full:       counters.full.Load(),
		Partial:    counters.partial.Load(),
		Skipped:    counters.skipped.Load(),
		Timestamp:  j.writer.Timestamp(),
	}
	if err != nil {
		return res, err
	}
	if err := j.writer.Finish(ctx); err != nil {
		return res, fmt.Errorf("prune: finish report: %w", err)
	}
	res.Parts = j.writer.Parts()

	logger.Infof("variant table scanned", map[string]any{
		"scanned":    res.Scanned,
		"full":       res.Full,
		"partial":    res.Partial,
		"skipped":    res.Skipped,
		"reportRun":  res.Timestamp,
		"parts":      len(res.Parts),
		"durationMs": time.Since(start).Milliseconds(),
	})
	return res, nil
}

// guardPartition turns a panic of one partition into its error, so the run
// fails through the usual path and releases its locks.
func (j *Job) guardPartition(ctx context.Context, p variantstore.Partition, counters *jobCounters) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.runPartition(ctx, p, counters)
}

func (j *Job) runPartition(ctx context.Context, p variantstore.Partition, counters *jobCounters) error {
	logger := logging.FromCtx(ctx)
	logger.Debugf("partition started", map[string]any{"partition": p.String()})

	pw := j.writer.Partition(p.ID)
	var scanned int64
	err := j.store.Scan(ctx, p, j.config.BatchSize, func(row variant.Row) error {
		scanned++
		counters.scanned.Add(1)

		d, err := j.classifier.Classify(row)
		if err != nil {
			return err
		}
		if j.metrics != nil {
			j.metrics.RecordDecision(d.Label())
		}
		if d.Skip() {
			counters.skipped.Add(1)
			return nil
		}
		if err := pw.Write(ctx, d.Record()); err != nil {
			return err
		}
		if err := j.apply(ctx, d); err != nil {
			return fmt.Errorf("%s %s %v: %w", d.Type, d.Variant, d.Studies, err)
		}

		if d.Type == report.Full {
			counters.full.Add(1)
		} else {
			counters.partial.Add(1)
		}
		return nil
	})
	if j.metrics != nil {
		j.metrics.RecordRowsScanned(scanned)
	}
	if err != nil {
		return err
	}
	if err := pw.Close(ctx); err != nil {
		return err
	}

	logger.Debugf("partition finished", map[string]any{
		"partition": p.String(),
		"scanned":   scanned,
	})
	return nil
}

// apply mutates the row. A fully pruned variant is queued for index removal
// before its row goes, so a crash in between leaves a harmless extra entry.
func (j *Job) apply(ctx context.Context, d Decision) error {
	if j.dryRun {
		return nil
	}
	if d.Type == report.Full {
		if err := j.queue.Enqueue(ctx, d.Variant, j.runID); err != nil {
			return err
		}
	}
	return j.store.Apply(ctx, d.Mutation())
}
