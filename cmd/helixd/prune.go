package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/helix-io/helix/internal/catalog"
	"github.com/helix-io/helix/internal/gc"
	"github.com/helix-io/helix/internal/logging"
	"github.com/helix-io/helix/internal/metrics"
	"github.com/helix-io/helix/internal/objectstore"
	"github.com/helix-io/helix/internal/prune"
	"github.com/helix-io/helix/internal/reconcile"
	"github.com/helix-io/helix/internal/report"
	"github.com/helix-io/helix/internal/variantstore"
)

type pruneOptions struct {
	dryRun    bool
	resume    bool
	outputDir string
}

func pruneCmd(configPath *string) *cobra.Command {
	var opts pruneOptions

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove the data of studies that no longer have files on a variant",
		Long: `Scan the whole variant table and classify every row:

  FULL     every study on the row is emptied; the row is deleted
  PARTIAL  some studies are emptied; their columns are deleted
  SKIP     nothing to do

Every affected variant is written to a report under --output-dir. A dry run
writes the report, verifies a sample of it against the table and changes
nothing else.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPrune(cmdContext(cmd), *configPath, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "write the report and verify it without modifying anything")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "take over existing prune tasks instead of failing on them")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", "", "report location, a directory or s3://bucket/prefix (default: report.outputDir)")
	return cmd
}

func runPrune(ctx context.Context, configPath string, opts pruneOptions, out io.Writer) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	ctx = a.context(ctx)

	if opts.outputDir == "" {
		opts.outputDir = a.cfg.Report.OutputDir
	}
	loc, err := objectstore.ParseLocation(opts.outputDir)
	if err != nil {
		return err
	}
	codec, err := report.ParseCodec(a.cfg.Report.Codec)
	if err != nil {
		return err
	}

	meta, err := a.openMetadata(ctx)
	if err != nil {
		return err
	}
	objects, err := a.openObjectStore(ctx, loc)
	if err != nil {
		return err
	}
	store := variantstore.New(meta)
	queue := reconcile.NewQueue(meta)

	cfg := prune.Config{
		Job: prune.JobConfig{
			Workers:         a.cfg.Prune.Workers,
			BatchSize:       a.cfg.Prune.BatchSize,
			PartitionWindow: a.cfg.Prune.PartitionWindow,
		},
		Verifier: prune.VerifierConfig{
			Limit:     a.cfg.Prune.VerifierLimit,
			Workers:   a.cfg.Prune.VerifierWorkers,
			BatchSize: a.cfg.Prune.VerifierBatchSize,
		},
		Report: report.WriterOptions{
			Codec:       codec,
			PartRecords: a.cfg.Report.PartRecords,
		},
	}

	// Kafka only carries the records of live runs.
	if a.cfg.Kafka.Enabled && !opts.dryRun {
		publisher, err := report.NewKafkaPublisher(ctx, report.KafkaConfig{
			Brokers:  a.cfg.Kafka.Brokers,
			Topic:    a.cfg.Kafka.Topic,
			ClientID: a.cfg.Kafka.ClientID,
		})
		if err != nil {
			return err
		}
		defer publisher.Close()
		cfg.Report.Publisher = publisher
	}

	hooks := prune.NewExitHooks()
	coord := prune.NewCoordinator(catalog.NewManager(meta), store, queue, objects, hooks, cfg).
		WithMetrics(metrics.NewPruneMetricsWithRegistry(a.registry))

	if !opts.dryRun {
		index, err := a.openSearchIndex(ctx)
		if err != nil {
			return err
		}
		if index != nil {
			coord.WithReconciler(a.newReconciler(store, queue, index))
		}
	}

	stop := onSignal(func(sig os.Signal) {
		a.logger.Warnf("interrupted, releasing prune locks", map[string]any{"signal": sig.String()})
		hooks.Run()
		os.Exit(130)
	})
	defer stop()
	defer hooks.RunOnPanic()

	summary, err := coord.Prune(ctx, prune.Options{
		DryRun: opts.dryRun,
		Resume: opts.resume,
		Output: loc,
	})
	printSummary(out, loc, summary)
	if err != nil {
		return err
	}

	if a.cfg.Report.Parquet {
		stats, err := report.ExportParquet(ctx, report.NewReader(objects, loc), summary.Job.Timestamp, objects, loc.Join(report.ParquetName(summary.Job.Timestamp)))
		if err != nil {
			return fmt.Errorf("parquet export: %w", err)
		}
		logging.FromCtx(ctx).Infof("parquet report written", map[string]any{
			"key":     stats.Key,
			"records": stats.RecordCount,
			"size":    humanize.Bytes(uint64(stats.SizeBytes)),
		})
	}

	if a.cfg.Report.KeepRuns > 0 {
		retention := gc.NewRetention(objects, loc, gc.RetentionConfig{
			KeepRuns: a.cfg.Report.KeepRuns,
			MaxAge:   a.cfg.Report.MaxAge,
		})
		// Old reports are kept when retention fails; the run itself succeeded.
		if _, err := retention.Enforce(ctx); err != nil {
			logging.FromCtx(ctx).Warnf("report retention failed", map[string]any{logging.ErrorField: err.Error()})
		}
	}
	return nil
}

func printSummary(out io.Writer, loc objectstore.Location, s prune.Summary) {
	mode := "live"
	if s.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(out, "prune %s (%s)\n", s.RunID, mode)
	if s.Job.Timestamp == "" {
		return
	}
	fmt.Fprintf(out, "  report:     %s run %s, %d parts\n", loc, s.Job.Timestamp, len(s.Job.Parts))
	fmt.Fprintf(out, "  partitions: %s\n", humanize.Comma(int64(s.Job.Partitions)))
	fmt.Fprintf(out, "  scanned:    %s\n", humanize.Comma(s.Job.Scanned))
	fmt.Fprintf(out, "  full:       %s\n", humanize.Comma(s.Job.Full))
	fmt.Fprintf(out, "  partial:    %s\n", humanize.Comma(s.Job.Partial))
	fmt.Fprintf(out, "  skipped:    %s\n", humanize.Comma(s.Job.Skipped))
	if v := s.Verify; v != nil {
		fmt.Fprintf(out, "  verified:   %s of %s records, %s violations\n",
			humanize.Comma(v.Checked), humanize.Comma(v.Records), humanize.Comma(v.Violations))
	}
	if r := s.Reconcile; r != nil {
		if r.Skipped {
			fmt.Fprintln(out, "  reconcile:  skipped, search index unreachable")
		} else {
			fmt.Fprintf(out, "  reconcile:  %s deleted, %s refreshed, %s left for the next pass\n",
				humanize.Comma(r.Deleted), humanize.Comma(r.Refreshed), humanize.Comma(r.Failures()))
		}
	}
}
