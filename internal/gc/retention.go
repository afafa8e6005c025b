// Package gc enforces retention on prune report locations.
//
// Every prune run leaves a report run behind: its part files, a manifest
// and, when enabled, a parquet export. Retention deletes whole runs, oldest
// first, beyond a run count and age limit. The newest run is never deleted.
// Runs without a manifest that are older than the newest finished run were
// abandoned by a failed prune and are deleted regardless of the limits.
//
//	r := gc.NewRetention(store, loc, gc.RetentionConfig{KeepRuns: 10, MaxAge: 30 * 24 * time.Hour})
//	res, err := r.Enforce(ctx)
package gc

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/helix-io/helix/internal/logging"
	"github.com/helix-io/helix/internal/objectstore"
	"github.com/helix-io/helix/internal/report"
)

// RetentionConfig configures report retention.
type RetentionConfig struct {
	// KeepRuns is the number of newest runs that are always kept.
	// Default: 1
	KeepRuns int

	// MaxAge limits deletion to runs older than MaxAge. Zero deletes every
	// run beyond KeepRuns regardless of age.
	MaxAge time.Duration
}

// RetentionResult describes one retention pass.
type RetentionResult struct {
	Runs    int
	Deleted []string
	// Abandoned are the deleted runs that never finished.
	Abandoned []string
	Objects   int
	Bytes     int64
}

// Retention deletes old report runs from one location.
type Retention struct {
	store   objectstore.Store
	loc     objectstore.Location
	reports *report.Reader
	config  RetentionConfig
	now     func() time.Time
}

// NewRetention creates a Retention for the reports at loc.
func NewRetention(store objectstore.Store, loc objectstore.Location, config RetentionConfig) *Retention {
	if config.KeepRuns < 1 {
		config.KeepRuns = 1
	}
	return &Retention{
		store:   store,
		loc:     loc,
		reports: report.NewReader(store, loc),
		config:  config,
		now:     time.Now,
	}
}

// WithClock replaces the clock used to age runs.
func (r *Retention) WithClock(now func() time.Time) *Retention {
	r.now = now
	return r
}

// Abandoned returns the unfinished runs older than the newest finished run,
// oldest first. Newer ones may still be in progress and are left alone.
func (r *Retention) Abandoned(ctx context.Context) ([]string, error) {
	latest, err := r.reports.Latest(ctx)
	if errors.Is(err, report.ErrNoReport) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	incomplete, err := r.reports.Incomplete(ctx)
	if err != nil {
		return nil, err
	}
	var abandoned []string
	for _, ts := range incomplete {
		if ts < latest {
			abandoned = append(abandoned, ts)
		}
	}
	return abandoned, nil
}

// Expired returns the runs the policy would delete, oldest first.
func (r *Retention) Expired(ctx context.Context) ([]string, int, error) {
	runs, err := r.reports.Runs(ctx)
	if err != nil {
		return nil, 0, err
	}
	if len(runs) <= r.config.KeepRuns {
		return nil, len(runs), nil
	}

	candidates := runs[:len(runs)-r.config.KeepRuns]
	if r.config.MaxAge <= 0 {
		return candidates, len(runs), nil
	}

	cutoff := r.now().Add(-r.config.MaxAge)
	var expired []string
	for _, ts := range candidates {
		t, err := time.Parse(report.TimestampLayout, ts)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			expired = append(expired, ts)
		}
	}
	return expired, len(runs), nil
}

// Enforce deletes every expired run. A run whose objects could not all be
// deleted is left out of Deleted and reported in the returned error; the
// next pass retries it.
func (r *Retention) Enforce(ctx context.Context) (RetentionResult, error) {
	logger := logging.FromCtx(ctx)

	expired, total, err := r.Expired(ctx)
	if err != nil {
		return RetentionResult{}, err
	}
	abandoned, err := r.Abandoned(ctx)
	if err != nil {
		return RetentionResult{}, err
	}
	res := RetentionResult{Runs: total}

	var merr *multierror.Error
	for _, ts := range abandoned {
		objects, size, err := r.deleteRun(ctx, ts)
		res.Objects += objects
		res.Bytes += size
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("abandoned run %s: %w", ts, err))
			continue
		}
		res.Abandoned = append(res.Abandoned, ts)
	}
	for _, ts := range expired {
		objects, size, err := r.deleteRun(ctx, ts)
		res.Objects += objects
		res.Bytes += size
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("run %s: %w", ts, err))
			continue
		}
		res.Deleted = append(res.Deleted, ts)
	}

	if len(res.Deleted) > 0 || len(res.Abandoned) > 0 {
		logger.Infof("expired report runs deleted", map[string]any{
			"location":  r.loc.String(),
			"runs":      len(res.Deleted),
			"abandoned": len(res.Abandoned),
			"objects":   res.Objects,
			"bytes":     res.Bytes,
		})
	}
	if err := merr.ErrorOrNil(); err != nil {
		return res, fmt.Errorf("gc: %w", err)
	}
	return res, nil
}

// deleteRun deletes the manifest of one run, then its parquet export, then
// its parts. Once the manifest is gone the run is no longer listed; whatever
// a failed pass leaves behind is swept as an abandoned run.
func (r *Retention) deleteRun(ctx context.Context, ts string) (int, int64, error) {
	objects, err := r.store.List(ctx, r.loc.Join(report.RunPrefix(ts)))
	if err != nil {
		return 0, 0, err
	}

	var manifests, exports, parts []objectstore.ObjectMeta
	for _, obj := range objects {
		name := path.Base(obj.Key)
		if _, ok := report.ParseManifestName(name); ok {
			manifests = append(manifests, obj)
		} else if _, ok := report.ParsePartName(name); ok {
			parts = append(parts, obj)
		} else {
			exports = append(exports, obj)
		}
	}

	var (
		deleted int
		size    int64
	)
	for _, group := range [][]objectstore.ObjectMeta{manifests, exports, parts} {
		var merr *multierror.Error
		for _, obj := range group {
			if err := r.store.Delete(ctx, obj.Key); err != nil {
				merr = multierror.Append(merr, err)
				continue
			}
			deleted++
			size += obj.Size
		}
		if err := merr.ErrorOrNil(); err != nil {
			return deleted, size, err
		}
	}
	return deleted, size, nil
}
