package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/helix-io/helix/internal/gc"
	"github.com/helix-io/helix/internal/objectstore"
	"github.com/helix-io/helix/internal/report"
)

func reportCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect and export prune reports",
	}
	cmd.AddCommand(reportRunsCmd(configPath))
	cmd.AddCommand(reportCountCmd(configPath))
	cmd.AddCommand(reportExportCmd(configPath))
	cmd.AddCommand(reportGCCmd(configPath))
	return cmd
}

// openReports opens the report location given on the command line.
func openReports(ctx context.Context, a *app, dir string) (*report.Reader, objectstore.Store, objectstore.Location, error) {
	loc, err := objectstore.ParseLocation(dir)
	if err != nil {
		return nil, nil, loc, err
	}
	store, err := a.openObjectStore(ctx, loc)
	if err != nil {
		return nil, nil, loc, err
	}
	return report.NewReader(store, loc), store, loc, nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func reportRunsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "runs <dir>",
		Short: "List the report runs in a location, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := a.context(cmdContext(cmd))

			r, _, _, err := openReports(ctx, a, args[0])
			if err != nil {
				return err
			}
			runs, err := r.Runs(ctx)
			if err != nil {
				return err
			}
			for _, ts := range runs {
				fmt.Fprintln(cmd.OutOrStdout(), ts)
			}
			return nil
		},
	}
}

// resolveRun returns run, or the latest run when run is empty.
func resolveRun(ctx context.Context, r *report.Reader, run string) (string, error) {
	if run != "" {
		return run, nil
	}
	return r.Latest(ctx)
}

func reportCountCmd(configPath *string) *cobra.Command {
	var run string

	cmd := &cobra.Command{
		Use:   "count <dir>",
		Short: "Count the records of a report run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := a.context(cmdContext(cmd))

			r, _, _, err := openReports(ctx, a, args[0])
			if err != nil {
				return err
			}
			ts, err := resolveRun(ctx, r, run)
			if err != nil {
				return err
			}
			parts, err := r.Parts(ctx, ts)
			if err != nil {
				return err
			}
			count, err := r.Count(ctx, ts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s records in %d parts\n", ts, humanize.Comma(count), len(parts))
			return nil
		},
	}
	cmd.Flags().StringVar(&run, "run", "", "report run timestamp (default: latest)")
	return cmd
}

func reportExportCmd(configPath *string) *cobra.Command {
	var run, out string

	cmd := &cobra.Command{
		Use:   "export <dir>",
		Short: "Convert a report run to a single Parquet file",
		Long: `Convert a report run to Parquet. Without --parquet the file is written next
to the run as variant_prune_report.<timestamp>.parquet.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := a.context(cmdContext(cmd))

			r, store, loc, err := openReports(ctx, a, args[0])
			if err != nil {
				return err
			}
			ts, err := resolveRun(ctx, r, run)
			if err != nil {
				return err
			}

			dst, key := store, loc.Join(report.ParquetName(ts))
			if out != "" {
				outLoc, err := objectstore.ParseLocation(out)
				if err != nil {
					return err
				}
				if outLoc.IsS3() {
					if dst, err = a.openObjectStore(ctx, objectstore.Location{Bucket: outLoc.Bucket}); err != nil {
						return err
					}
					key = outLoc.Prefix
				} else {
					if dst, err = a.openObjectStore(ctx, objectstore.Location{Prefix: filepath.Dir(out)}); err != nil {
						return err
					}
					key = filepath.Base(out)
				}
			}

			stats, err := report.ExportParquet(ctx, r, ts, dst, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %s records, %s\n",
				stats.Key, humanize.Comma(stats.RecordCount), humanize.Bytes(uint64(stats.SizeBytes)))
			return nil
		},
	}
	cmd.Flags().StringVar(&run, "run", "", "report run timestamp (default: latest)")
	cmd.Flags().StringVar(&out, "parquet", "", "output file or s3://bucket/key")
	return cmd
}

func reportGCCmd(configPath *string) *cobra.Command {
	var (
		keep   int
		maxAge time.Duration
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "gc <dir>",
		Short: "Delete old report runs",
		Long: `Delete report runs beyond the newest --keep, limited to runs older than
--max-age when it is set. The newest run is never deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := a.context(cmdContext(cmd))

			loc, err := objectstore.ParseLocation(args[0])
			if err != nil {
				return err
			}
			store, err := a.openObjectStore(ctx, loc)
			if err != nil {
				return err
			}
			retention := gc.NewRetention(store, loc, gc.RetentionConfig{KeepRuns: keep, MaxAge: maxAge})

			if dryRun {
				expired, _, err := retention.Expired(ctx)
				if err != nil {
					return err
				}
				for _, ts := range expired {
					fmt.Fprintf(cmd.OutOrStdout(), "would delete %s\n", ts)
				}
				abandoned, err := retention.Abandoned(ctx)
				if err != nil {
					return err
				}
				for _, ts := range abandoned {
					fmt.Fprintf(cmd.OutOrStdout(), "would delete unfinished %s\n", ts)
				}
				return nil
			}

			res, err := retention.Enforce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d of %d runs (%d objects, %s)\n",
				len(res.Deleted), res.Runs, res.Objects, humanize.Bytes(uint64(res.Bytes)))
			if len(res.Abandoned) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d unfinished runs\n", len(res.Abandoned))
			}
			return err
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 10, "number of newest runs to keep")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "only delete runs older than this")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the runs that would be deleted")
	return cmd
}
