package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/helix-io/helix/internal/config"
	"github.com/helix-io/helix/internal/logging"
	"github.com/helix-io/helix/internal/metadata"
	"github.com/helix-io/helix/internal/metadata/oxia"
	"github.com/helix-io/helix/internal/metrics"
	"github.com/helix-io/helix/internal/objectstore"
	"github.com/helix-io/helix/internal/objectstore/local"
	s3store "github.com/helix-io/helix/internal/objectstore/s3"
	"github.com/helix-io/helix/internal/reconcile"
	"github.com/helix-io/helix/internal/searchindex"
	"github.com/helix-io/helix/internal/searchindex/solr"
	"github.com/helix-io/helix/internal/searchindex/sqlite"
	"github.com/helix-io/helix/internal/variantstore"
)

// app holds what every command needs: config, logger, metrics and the
// resources to close on exit.
type app struct {
	cfg    *config.Config
	logger *logging.Logger

	registry      *prometheus.Registry
	kvMetrics     *metrics.KVMetrics
	objectMetrics *metrics.ObjectStoreMetrics
	metricsServer *metrics.Server

	closers []func() error
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stderr)

	reg := prometheus.NewRegistry()
	a := &app{
		cfg:           cfg,
		logger:        logger,
		registry:      reg,
		kvMetrics:     metrics.NewKVMetricsWithRegistry(reg),
		objectMetrics: metrics.NewObjectStoreMetricsWithRegistry(reg),
	}

	if cfg.Observability.MetricsAddr != "" {
		a.metricsServer = metrics.NewServerWithRegistry(cfg.Observability.MetricsAddr, reg)
		if err := a.metricsServer.Start(); err != nil {
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
		a.closers = append(a.closers, a.metricsServer.Close)
		logger.Infof("metrics server listening", map[string]any{"addr": a.metricsServer.Addr()})
	}
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warnf("close failed", map[string]any{logging.ErrorField: err.Error()})
		}
	}
	a.closers = nil
}

func (a *app) context(parent context.Context) context.Context {
	return logging.WithLoggerCtx(parent, a.logger)
}

func (a *app) openMetadata(ctx context.Context) (metadata.MetadataStore, error) {
	var store metadata.MetadataStore
	switch a.cfg.Metadata.Backend {
	case config.MetadataMemory:
		a.logger.Warn("using the in-memory metadata store, nothing is persisted")
		store = metadata.NewMockStore()
	default:
		s, err := oxia.New(ctx, oxia.Config{
			ServiceAddress: a.cfg.Metadata.OxiaEndpoint,
			Namespace:      a.cfg.Metadata.Namespace,
			RequestTimeout: a.cfg.Metadata.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to oxia: %w", err)
		}
		store = s
	}
	a.closers = append(a.closers, store.Close)
	return metadata.NewInstrumentedStore(store, a.kvMetrics), nil
}

func (a *app) openObjectStore(ctx context.Context, loc objectstore.Location) (objectstore.Store, error) {
	var store objectstore.Store
	if loc.IsS3() {
		s, err := s3store.New(ctx, s3store.Config{
			Bucket:          loc.Bucket,
			Region:          a.cfg.ObjectStore.Region,
			Endpoint:        a.cfg.ObjectStore.Endpoint,
			AccessKeyID:     a.cfg.ObjectStore.AccessKey,
			SecretAccessKey: a.cfg.ObjectStore.SecretKey,
			UsePathStyle:    a.cfg.ObjectStore.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", loc, err)
		}
		store = s
	} else {
		s, err := local.New(loc.Prefix)
		if err != nil {
			return nil, err
		}
		store = s
	}
	a.closers = append(a.closers, store.Close)
	return objectstore.NewInstrumentedStore(store, a.objectMetrics), nil
}

// openSearchIndex returns nil when no search index is configured.
func (a *app) openSearchIndex(ctx context.Context) (searchindex.Index, error) {
	si := a.cfg.SearchIndex
	switch si.Backend {
	case config.SearchIndexSolr:
		client, err := solr.New(solr.Config{
			URL:               si.URL,
			Collection:        si.Collection,
			RequestsPerSecond: si.RequestsPerSecond,
			MaxRetries:        si.MaxRetries,
			Timeout:           si.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.SearchIndexSQLite:
		idx, err := sqlite.Open(ctx, si.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		return idx, nil
	default:
		return nil, nil
	}
}

func (a *app) newReconciler(store variantstore.Store, queue *reconcile.Queue, index searchindex.Index) *reconcile.Reconciler {
	return reconcile.New(store, queue, index, reconcile.Config{
		Workers:   a.cfg.Reconcile.Workers,
		BatchSize: a.cfg.Reconcile.BatchSize,
	}).WithMetrics(metrics.NewReconcileMetricsWithRegistry(a.registry))
}

// onSignal calls fn once on SIGINT or SIGTERM. The returned function stops
// listening.
func onSignal(fn func(os.Signal)) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			fn(sig)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
