package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed libraries and versions",
		Args:  cobra.NoArgs,
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

			libraries, err := a.store.ListLibraries(ctx)
			if err != nil {
				return err
			}
			stats, err := a.store.Stats(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" || !stdoutIsTTY() {
				return printJSON(out, map[string]any{
					"libraries": libraries,
					"stats":     stats,
				})
			}

			if len(libraries) == 0 {
				fmt.Fprintln(out, "nothing indexed yet; run 'docsmcp scrape' first")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LIBRARY\tVERSION\tSTATUS\tPAGES\tCHUNKS\tINDEXED")
			for _, lib := range libraries {
				for _, v := range lib.Versions {
					name := v.Name
					if name == "" {
						name = "(unversioned)"
					}
					indexed := "-"
					if v.IndexedAt != nil {
						indexed = humanize.Time(*v.IndexedAt)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
						lib.Name, name, v.Status, v.PageCount, v.ChunkCount, indexed)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\n%d libraries, %d pages, %d chunks, %s on disk\n",
				stats.Libraries, stats.Pages, stats.Chunks,
				humanize.Bytes(uint64(stats.SizeBytes)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}
