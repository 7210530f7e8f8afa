package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docsmcp/docsmcp/internal/errors"
	"github.com/docsmcp/docsmcp/internal/fetcher"
	"github.com/docsmcp/docsmcp/internal/pipeline"
)

func newFetchCmd() *cobra.Command {
	var noRedirects bool

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a single page and print it as Markdown",
		Long: `Fetch one URL (https:// or file://), convert it to Markdown, and
print it to stdout without touching the index.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cleanup := setupLogging(cfg, flagVerbose)
			defer cleanup()

			fetch := fetcher.NewAutoDetect(
				fetcher.NewHTTP(fetcher.WithTimeout(cfg.FetchTimeout)),
				fetcher.NewFile(),
			)
			res, err := fetch.Fetch(cmd.Context(), args[0], fetcher.Options{
				FollowRedirects: !noRedirects,
			})
			if err != nil {
				return err
			}
			if res.Status == fetcher.StatusGone {
				return errors.NotFound("page %s not found", args[0])
			}

			markdown, err := pipeline.NewProse(nil).Markdown(res.Content, res.MimeType, res.Source)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), markdown)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noRedirects, "no-redirects", false, "Fail on redirects instead of following them")
	return cmd
}
