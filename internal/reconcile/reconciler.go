package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/helix-io/helix/internal/logging"
	"github.com/helix-io/helix/internal/metrics"
	"github.com/helix-io/helix/internal/searchindex"
	"github.com/helix-io/helix/internal/variant"
	"github.com/helix-io/helix/internal/variantstore"
)

// Config configures a Reconciler.
type Config struct {
	// Workers is the number of concurrent index requests. Default: 4
	Workers int

	// BatchSize is the number of variants per index request. Default: 500
	BatchSize int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{Workers: 4, BatchSize: 500}
}

// Result summarizes one reconcile pass.
type Result struct {
	// Skipped is set when the search index was unreachable and nothing was done.
	Skipped bool

	Deleted         int64
	DeleteFailures  int64
	Refreshed       int64
	RefreshFailures int64
	// Changed counts re-indexed rows written again before their flag could
	// be cleared. They stay flagged for the next pass.
	Changed int64
}

// Failures returns the number of variants left for the next pass.
func (r Result) Failures() int64 {
	return r.DeleteFailures + r.RefreshFailures
}

// Reconciler drains the pending deletion queue into the search index and
// refreshes out-of-sync rows.
type Reconciler struct {
	store   variantstore.Store
	queue   *Queue
	index   searchindex.Index
	config  Config
	metrics *metrics.ReconcileMetrics
}

// New creates a Reconciler.
func New(store variantstore.Store, queue *Queue, index searchindex.Index, config Config) *Reconciler {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	return &Reconciler{
		store:  store,
		queue:  queue,
		index:  index,
		config: config,
	}
}

// WithMetrics enables metrics recording.
func (r *Reconciler) WithMetrics(m *metrics.ReconcileMetrics) *Reconciler {
	r.metrics = m
	return r
}

// Run performs one pass. Index failures are counted in the result and left
// for the next pass; the returned error reports only failures to read or
// write the variant store and queue, or cancellation.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	logger := logging.FromCtx(ctx)

	if !r.index.Reachable(ctx) {
		logger.Warn("search index unreachable, skipping reconciliation")
		if r.metrics != nil {
			r.metrics.RecordPass(time.Since(start).Seconds(), true)
		}
		return Result{Skipped: true}, nil
	}

	var res Result
	if err := r.drainDeletions(ctx, &res); err != nil {
		return res, err
	}
	if err := r.refreshOutOfSync(ctx, &res); err != nil {
		return res, err
	}

	if r.metrics != nil {
		r.metrics.RecordPass(time.Since(start).Seconds(), false)
		if n, err := r.queue.Len(ctx); err == nil {
			r.metrics.RecordPendingDeletions(n)
		}
	}
	logger.Infof("reconciliation pass finished", map[string]any{
		"deleted":         res.Deleted,
		"deleteFailures":  res.DeleteFailures,
		"refreshed":       res.Refreshed,
		"refreshFailures": res.RefreshFailures,
		"changed":         res.Changed,
		"durationMs":      time.Since(start).Milliseconds(),
	})
	return res, nil
}

func (r *Reconciler) recordRequest(op string, n int, err error) {
	if r.metrics != nil {
		r.metrics.RecordIndexRequest(op, n, err == nil)
	}
}

// drainDeletions pages through the queue and fans batches out to workers.
func (r *Reconciler) drainDeletions(ctx context.Context, res *Result) error {
	logger := logging.FromCtx(ctx)
	var deleted, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []Entry)

	g.Go(func() error {
		defer close(batches)
		return r.queue.Each(gctx, r.config.BatchSize, func(page []Entry) error {
			select {
			case batches <- page:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	for i := 0; i < r.config.Workers; i++ {
		g.Go(func() error {
			for batch := range batches {
				ids := make([]string, len(batch))
				for j, e := range batch {
					ids[j] = searchindex.DocumentID(e.Variant)
				}

				err := r.index.Delete(gctx, ids)
				r.recordRequest(metrics.OpIndexDelete, len(ids), err)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					failed.Add(int64(len(batch)))
					logger.Warnf("search index delete failed", map[string]any{
						"variants":         len(batch),
						"first":            ids[0],
						logging.ErrorField: err.Error(),
					})
					continue
				}

				// The queue entry goes only after the index confirmed the removal.
				for _, e := range batch {
					if err := r.queue.Remove(gctx, e.Variant); err != nil {
						return err
					}
				}
				deleted.Add(int64(len(batch)))
			}
			return nil
		})
	}

	err := g.Wait()
	res.Deleted = deleted.Load()
	res.DeleteFailures = failed.Load()
	if err != nil {
		return fmt.Errorf("reconcile: drain pending deletions: %w", err)
	}
	return nil
}

// refreshOutOfSync re-indexes rows flagged out of sync and clears the flag
// once the index accepted the new document.
func (r *Reconciler) refreshOutOfSync(ctx context.Context, res *Result) error {
	logger := logging.FromCtx(ctx)
	var refreshed, failed, changed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []variant.Row)

	g.Go(func() error {
		defer close(batches)
		batch := make([]variant.Row, 0, r.config.BatchSize)
		send := func() error {
			if len(batch) == 0 {
				return nil
			}
			select {
			case batches <- batch:
				batch = make([]variant.Row, 0, r.config.BatchSize)
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		err := r.store.ScanOutOfSync(gctx, r.config.BatchSize, func(row variant.Row) error {
			batch = append(batch, row)
			if len(batch) >= r.config.BatchSize {
				return send()
			}
			return nil
		})
		if err != nil {
			return err
		}
		return send()
	})

	for i := 0; i < r.config.Workers; i++ {
		g.Go(func() error {
			for batch := range batches {
				docs := make([]searchindex.Document, len(batch))
				for j, row := range batch {
					docs[j] = searchindex.DocumentFromRow(row)
				}

				err := r.index.Update(gctx, docs)
				r.recordRequest(metrics.OpIndexUpdate, len(docs), err)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					failed.Add(int64(len(batch)))
					logger.Warnf("search index update failed", map[string]any{
						"variants":         len(batch),
						"first":            docs[0].ID,
						logging.ErrorField: err.Error(),
					})
					continue
				}

				for _, row := range batch {
					// The flag is only cleared if the row still matches the
					// indexed document; a newer write keeps it for next pass.
					err := r.store.Apply(gctx, variantstore.Mutation{
						Variant:       row.Variant,
						DeleteColumns: []string{variant.IndexNotSyncColumn},
						Expect:        row.Columns,
					})
					if errors.Is(err, variantstore.ErrRowChanged) {
						changed.Add(1)
						continue
					}
					if err != nil {
						return err
					}
					refreshed.Add(1)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	res.Refreshed = refreshed.Load()
	res.RefreshFailures = failed.Load()
	res.Changed = changed.Load()
	if err != nil {
		return fmt.Errorf("reconcile: refresh out-of-sync rows: %w", err)
	}
	return nil
}
