package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docsmcp/docsmcp/internal/store"
)

func newRefreshCmd() *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "refresh <library>",
		Short: "Re-check an indexed version against its source",
		Long: `Re-crawl an indexed version using conditional requests: unchanged
pages are skipped, changed pages re-indexed, and deleted pages removed.

Examples:
  docsmcp refresh react --version 18.2.0
  docsmcp refresh mylib`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cleanup := setupLogging(cfg, flagVerbose)
			defer cleanup()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.close()

			library := args[0]
			jobID, err := a.manager.EnqueueRefresh(ctx, library, version)
			if err != nil {
				return err
			}
			job, err := a.runToCompletion(ctx, jobID, nil)
			if err != nil {
				return err
			}

			label := libraryLabel(library, version)
			switch job.Status {
			case store.StatusCompleted:
				fmt.Fprintf(cmd.OutOrStdout(), "refreshed %s\n", label)
				return nil
			case store.StatusCancelled:
				return fmt.Errorf("refresh of %s was cancelled", label)
			default:
				return fmt.Errorf("refresh of %s failed: %s", label, job.Error)
			}
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Version to refresh (empty for unversioned)")
	return cmd
}
