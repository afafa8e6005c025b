// Package metrics holds the Prometheus collectors of helixd, all under the
// "helix" namespace.
//
// Each collector set has a constructor on the default registerer and a
// ...WithRegistry variant. helixd builds a fresh registry per command so a
// single process can run several commands (as the CLI tests do).
//
//	reg := prometheus.NewRegistry()
//	meta := metadata.NewInstrumentedStore(store, metrics.NewKVMetricsWithRegistry(reg))
//	coord := prune.NewCoordinator(cat, rows, queue, objects, hooks, cfg).WithMetrics(metrics.NewPruneMetricsWithRegistry(reg))
//
//	srv := metrics.NewServerWithRegistry(":9090", reg)
//	if err := srv.Start(); err != nil {
//		return err
//	}
//	defer srv.Close()
package metrics
