package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docsmcp/docsmcp/internal/retriever"
)

func newSearchCmd() *cobra.Command {
	var (
		version string
		limit   int
		format  string
	)

	cmd := &cobra.Command{
		Use:   "search <library> <query>...",
		Short: "Search indexed documentation",
		Long: `Run a hybrid semantic + keyword query against an indexed library
and print assembled passages.

Examples:
  docsmcp search react "useEffect cleanup" --version 18.2.0
  docsmcp search mylib error handling --limit 3 --format json`,
		Args: cobra.MinimumNArgs(2),
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

			library := args[0]
			query := strings.Join(args[1:], " ")
			results, err := a.ret.Search(ctx, library, version, query, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" || !stdoutIsTTY() {
				return printJSON(out, map[string][]retriever.Result{"results": results})
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "no results")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%d. %s (score %.4f)\n\n", i+1, r.URL, r.Score)
				fmt.Fprintln(out, r.Content)
				if i < len(results)-1 {
					fmt.Fprintln(out, "\n---")
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Version to search (empty resolves to latest or unversioned)")
	cmd.Flags().IntVarP(&limit, "limit", "n", retriever.DefaultLimit, "Maximum number of results")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")

	return cmd
}
