package prune

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/helix-io/helix/internal/catalog"
	"github.com/helix-io/helix/internal/logging"
	"github.com/helix-io/helix/internal/metrics"
	"github.com/helix-io/helix/internal/objectstore"
	"github.com/helix-io/helix/internal/reconcile"
	"github.com/helix-io/helix/internal/report"
	"github.com/helix-io/helix/internal/variantstore"
)

var (
	// ErrPreconditionFailed is returned when a study blocks the run before
	// anything was touched.
	ErrPreconditionFailed = errors.New("prune: precondition failed")

	// ErrStaleStats is reported for a study whose default cohort stats are not READY.
	ErrStaleStats = errors.New("prune: default cohort stats not ready")

	// ErrAborted is returned when the exit hooks released the locks of a run
	// before it finished.
	ErrAborted = errors.New("prune: run aborted")
)

// releaseTimeout bounds the lock release performed from an exit hook.
const releaseTimeout = 10 * time.Second

// Config configures a Coordinator.
type Config struct {
	Job      JobConfig
	Verifier VerifierConfig
	Report   report.WriterOptions
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{Job: DefaultJobConfig(), Verifier: DefaultVerifierConfig()}
}

// Options are the arguments of one prune invocation.
type Options struct {
	DryRun bool
	// Resume takes over existing VariantPrune tasks instead of failing on them.
	Resume bool
	// Output is where the report is written.
	Output objectstore.Location
}

// Summary describes a finished or failed run.
type Summary struct {
	RunID  string
	DryRun bool
	Job    JobResult
	// Verify is set for dry runs that reached verification.
	Verify *VerifyResult
	// Reconcile is set for live runs whose reconciliation pass completed.
	Reconcile *reconcile.Result
}

// Coordinator runs prune invocations: it checks and takes the per-study
// locks, runs the scan, verifies dry runs, reconciles the search index after
// live runs and records the final task status.
type Coordinator struct {
	catalog    *catalog.Manager
	store      variantstore.Store
	queue      *reconcile.Queue
	objects    objectstore.Store
	hooks      *ExitHooks
	config     Config
	reconciler *reconcile.Reconciler
	metrics    *metrics.PruneMetrics
	now        func() time.Time
}

// NewCoordinator creates a Coordinator. Reports are written to objects.
func NewCoordinator(cat *catalog.Manager, store variantstore.Store, queue *reconcile.Queue, objects objectstore.Store, hooks *ExitHooks, config Config) *Coordinator {
	if hooks == nil {
		hooks = NewExitHooks()
	}
	return &Coordinator{
		catalog: cat,
		store:   store,
		queue:   queue,
		objects: objects,
		hooks:   hooks,
		config:  config,
		now:     time.Now,
	}
}

// WithReconciler enables the reconciliation step of live runs.
func (c *Coordinator) WithReconciler(r *reconcile.Reconciler) *Coordinator {
	c.reconciler = r
	return c
}

// WithMetrics enables metrics recording.
func (c *Coordinator) WithMetrics(m *metrics.PruneMetrics) *Coordinator {
	c.metrics = m
	return c
}

// WithClock replaces the clock used to name reports.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Prune runs one invocation. Precondition failures wrap ErrPreconditionFailed
// and leave every task as it was. Any later failure marks the acquired locks
// ERROR and is returned.
func (c *Coordinator) Prune(ctx context.Context, opts Options) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.NewString(), DryRun: opts.DryRun}

	logger := logging.FromCtx(ctx).WithCorrelationID(summary.RunID).With(map[string]any{"dryRun": opts.DryRun})
	ctx = logging.WithLoggerCtx(ctx, logger)

	err := c.prune(ctx, opts, &summary)
	if c.metrics != nil {
		c.metrics.RecordRun(opts.DryRun, time.Since(start).Seconds(), err == nil)
	}
	if err != nil {
		return summary, err
	}
	logger.Infof("prune finished", map[string]any{
		"reported":   summary.Job.Reported(),
		"durationMs": time.Since(start).Milliseconds(),
	})
	return summary, nil
}

func (c *Coordinator) prune(ctx context.Context, opts Options, summary *Summary) error {
	logger := logging.FromCtx(ctx)

	studies, err := c.catalog.ListStudies(ctx)
	if err != nil {
		return fmt.Errorf("prune: list studies: %w", err)
	}
	if err := c.checkPreconditions(ctx, studies, opts.Resume); err != nil {
		logger.Warnf("prune preconditions not met", map[string]any{logging.ErrorField: err.Error()})
		return err
	}

	locks := &lockSet{catalog: c.catalog, runID: summary.RunID}
	if !opts.DryRun {
		unregister := c.hooks.Register(func() {
			hookCtx, cancel := context.WithTimeout(logging.WithLoggerCtx(context.Background(), logger), releaseTimeout)
			defer cancel()
			_ = c.fail(hookCtx, locks, ErrAborted)
		})
		defer unregister()

		if err := locks.acquire(ctx, studies, opts.Resume); err != nil {
			return c.fail(ctx, locks, err)
		}
	}

	if err := c.run(ctx, opts, studies, summary); err != nil {
		return c.fail(ctx, locks, err)
	}

	released, err := locks.release(ctx, catalog.TaskReady, "")
	if !released {
		return ErrAborted
	}
	return err
}

// checkPreconditions checks every study before any lock is taken so that a
// run starts everywhere or nowhere.
func (c *Coordinator) checkPreconditions(ctx context.Context, studies []catalog.Study, resume bool) error {
	var merr *multierror.Error
	for _, s := range studies {
		if err := c.catalog.CheckCanRun(ctx, s.ID, catalog.OperationVariantPrune, resume); err != nil {
			merr = multierror.Append(merr, err)
		}
		// Studies without files have nothing to prune.
		if !s.HasIndexedFiles() {
			continue
		}
		if status := s.DefaultCohortStatus(); status != catalog.StatsReady {
			merr = multierror.Append(merr, fmt.Errorf("%w: study %d cohort %d is %s", ErrStaleStats, s.ID, s.DefaultCohort, status))
		}
	}
	if merr != nil {
		return fmt.Errorf("%w: %w", ErrPreconditionFailed, merr)
	}
	return nil
}

func (c *Coordinator) run(ctx context.Context, opts Options, studies []catalog.Study, summary *Summary) error {
	logger := logging.FromCtx(ctx)

	writer := report.NewWriter(c.objects, opts.Output, report.Timestamp(c.now()), c.config.Report)
	job := NewJob(c.store, c.queue, NewClassifier(studies), writer, summary.RunID, opts.DryRun, c.config.Job).
		WithMetrics(c.metrics)
	res, err := job.Run(ctx)
	summary.Job = res
	if err != nil {
		return err
	}

	if opts.DryRun {
		verifier := NewVerifier(c.store, report.NewReader(c.objects, opts.Output), c.config.Verifier).
			WithMetrics(c.metrics)
		vr, err := verifier.Verify(ctx, res.Timestamp)
		summary.Verify = &vr
		if errors.Is(err, ErrVerificationFailed) {
			if ierr := c.invalidateStats(ctx, studies, vr.Studies); ierr != nil {
				return fmt.Errorf("%w (invalidating stats: %w)", err, ierr)
			}
		}
		return err
	}

	if c.reconciler == nil {
		return nil
	}
	rr, err := c.reconciler.Run(ctx)
	if err != nil {
		// The rows are already gone; the queue keeps the work for the next pass.
		logger.Warnf("reconciliation failed, leaving work for the next pass", map[string]any{logging.ErrorField: err.Error()})
		return nil
	}
	summary.Reconcile = &rr
	return nil
}

// invalidateStats marks the default cohort of every listed study INVALID, so
// that no live run acts on the stats a failed verification just disproved.
// Recomputing the stats sets them READY again.
func (c *Coordinator) invalidateStats(ctx context.Context, studies []catalog.Study, ids []int) error {
	logger := logging.FromCtx(ctx)
	byID := make(map[int]catalog.Study, len(studies))
	for _, s := range studies {
		byID[s.ID] = s
	}

	var merr *multierror.Error
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			continue
		}
		if err := c.catalog.SetCohortStatsStatus(ctx, id, s.DefaultCohort, catalog.StatsInvalid); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("study %d: %w", id, err))
			continue
		}
		logger.Warnf("default cohort stats marked INVALID", map[string]any{"study": id, "cohort": s.DefaultCohort})
	}
	return merr.ErrorOrNil()
}

// fail marks every acquired lock ERROR and returns cause. It is the only
// failure path, shared by a failing run and the exit hook.
func (c *Coordinator) fail(ctx context.Context, locks *lockSet, cause error) error {
	logger := logging.FromCtx(ctx)
	logger.Errorf("prune failed", map[string]any{logging.ErrorField: cause.Error()})

	if _, err := locks.release(ctx, catalog.TaskError, cause.Error()); err != nil {
		logger.Errorf("failed to mark prune tasks ERROR", map[string]any{logging.ErrorField: err.Error()})
		return multierror.Append(cause, err)
	}
	return cause
}

// lockSet is the set of VariantPrune tasks held by one run. It is released
// exactly once, by whichever of the run and the exit hook gets there first.
type lockSet struct {
	catalog *catalog.Manager
	runID   string

	mu       sync.Mutex
	studies  []int
	released bool
}

func (l *lockSet) acquire(ctx context.Context, studies []catalog.Study, resume bool) error {
	logger := logging.FromCtx(ctx)
	for _, s := range studies {
		task, err := l.catalog.RegisterRunning(ctx, s.ID, catalog.OperationVariantPrune, l.runID, resume)
		if err != nil {
			return fmt.Errorf("prune: lock study %d: %w", s.ID, err)
		}
		l.mu.Lock()
		l.studies = append(l.studies, s.ID)
		l.mu.Unlock()
		logger.Infof("study locked", map[string]any{"study": s.ID, "attempt": task.Attempts})
	}
	return nil
}

// release moves every held task to status. It reports false if the set was
// already released.
func (l *lockSet) release(ctx context.Context, status catalog.TaskStatus, message string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return false, nil
	}
	l.released = true

	logger := logging.FromCtx(ctx)
	var merr *multierror.Error
	for _, id := range l.studies {
		if _, err := l.catalog.UpdateStatus(ctx, id, catalog.OperationVariantPrune, l.runID, status, message); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("study %d: %w", id, err))
			continue
		}
		logger.Infof("study lock released", map[string]any{"study": id, "status": string(status)})
	}
	return true, merr.ErrorOrNil()
}
