package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/helix-io/helix/internal/logging"
)

// WorkerConfig configures the background reconcile worker.
type WorkerConfig struct {
	// Interval between passes. Default: 5m
	Interval time.Duration
}

// Worker runs reconcile passes on a fixed interval until stopped.
type Worker struct {
	reconciler *Reconciler
	config     WorkerConfig
	logger     *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	passes  int64
}

// NewWorker creates a worker around r.
func NewWorker(r *Reconciler, config WorkerConfig, logger *logging.Logger) *Worker {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &Worker{reconciler: r, config: config, logger: logger}
}

// Start runs a pass immediately and then one per interval.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	ctx, cancel := context.WithCancel(logging.WithLoggerCtx(context.Background(), w.logger))
	w.running = true
	w.cancel = cancel
	w.doneCh = make(chan struct{})

	go w.run(ctx, w.doneCh)
}

// Stop cancels the current pass and waits for the worker to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancel()
	done := w.doneCh
	w.mu.Unlock()

	<-done

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

// Passes returns the number of completed passes.
func (w *Worker) Passes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.passes
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *Worker) pass(ctx context.Context) {
	if _, err := w.reconciler.Run(ctx); err != nil && ctx.Err() == nil {
		w.logger.Errorf("reconcile pass failed", map[string]any{logging.ErrorField: err.Error()})
	}
	w.mu.Lock()
	w.passes++
	w.mu.Unlock()
}
