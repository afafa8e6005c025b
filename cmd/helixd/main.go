// Command helixd prunes emptied study data from the helix variant table and
// keeps the search index in step with it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "helixd",
		Short: "Variant table maintenance: prune, reconcile, reports",
		Long: `helixd removes the data of studies that no longer have files on a variant.

Commands:
  prune       Classify every variant row and delete emptied study data
  reconcile   Drain pending search index deletions and refresh stale documents
  report      Inspect and export prune reports
  version     Print version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (default: $HELIX_CONFIG)")

	root.AddCommand(pruneCmd(&configPath))
	root.AddCommand(reconcileCmd(&configPath))
	root.AddCommand(reportCmd(&configPath))
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "helixd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		},
	}
}
