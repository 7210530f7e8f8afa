package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/docsmcp/docsmcp/internal/store"
)

func newJobsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show queued and running indexing work",
		Long: `List versions whose indexing is queued or in flight, as recorded
in the store. The store is single-writer, so this runs against an
idle store; use the HTTP API of a running 'docsmcp serve' to inspect
its live jobs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cleanup := setupLogging(cfg, flagVerbose)
			defer cleanup()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			active, err := a.store.GetVersionsByStatus(ctx,
				store.StatusQueued, store.StatusRunning, store.StatusUpdating)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" || !stdoutIsTTY() {
				return printJSON(out, map[string]any{"active": active})
			}
			if len(active) == 0 {
				fmt.Fprintln(out, "no active jobs")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LIBRARY\tVERSION\tSTATUS\tPROGRESS\tSOURCE")
			for _, v := range active {
				name := v.Name
				if name == "" {
					name = "(unversioned)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
					v.LibraryName, name, v.Status,
					v.ProgressPages, v.ProgressMaxPages, v.SourceURL)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}
