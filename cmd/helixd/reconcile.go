package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/helix-io/helix/internal/reconcile"
	"github.com/helix-io/helix/internal/variantstore"
)

func reconcileCmd(configPath *string) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Bring the search index in line with the variant table",
		Long: `Delete the documents of variants removed by prune and refresh documents of
rows flagged out of sync. With --watch the pass repeats every
reconcile.interval until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconcile(cmdContext(cmd), *configPath, watch, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running passes on reconcile.interval")
	return cmd
}

func runReconcile(ctx context.Context, configPath string, watch bool, out io.Writer) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	ctx = a.context(ctx)

	index, err := a.openSearchIndex(ctx)
	if err != nil {
		return err
	}
	if index == nil {
		return errors.New("reconcile: no search index configured (searchIndex.backend is none)")
	}
	meta, err := a.openMetadata(ctx)
	if err != nil {
		return err
	}
	queue := reconcile.NewQueue(meta)
	r := a.newReconciler(variantstore.New(meta), queue, index)

	if !watch {
		res, err := r.Run(ctx)
		if err != nil {
			return err
		}
		if res.Skipped {
			fmt.Fprintln(out, "search index unreachable, nothing done")
			return nil
		}
		fmt.Fprintf(out, "deleted %s, refreshed %s, failed %s\n",
			humanize.Comma(res.Deleted), humanize.Comma(res.Refreshed), humanize.Comma(res.Failures()))
		return nil
	}

	w := reconcile.NewWorker(r, reconcile.WorkerConfig{Interval: a.cfg.Reconcile.Interval}, a.logger)
	stopped := make(chan struct{})
	stop := onSignal(func(sig os.Signal) {
		a.logger.Infof("shutting down reconcile worker", map[string]any{"signal": sig.String()})
		close(stopped)
	})
	defer stop()

	w.Start()
	a.logger.Infof("reconcile worker started", map[string]any{"interval": a.cfg.Reconcile.Interval.String()})
	select {
	case <-stopped:
	case <-ctx.Done():
	}
	w.Stop()

	pending, err := queue.Len(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s passes, %s deletions pending\n", humanize.Comma(w.Passes()), humanize.Comma(pending))
	return nil
}
