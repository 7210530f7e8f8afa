package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docsmcp/docsmcp/internal/scraper"
	"github.com/docsmcp/docsmcp/internal/store"
)

type scrapeFlags struct {
	version        string
	maxPages       int
	maxDepth       int
	scope          string
	maxConcurrency int
	include        []string
	exclude        []string
	manifest       string
}

func (f *scrapeFlags) options() scraper.Options {
	return scraper.Options{
		MaxPages:        f.maxPages,
		MaxDepth:        f.maxDepth,
		Scope:           f.scope,
		MaxConcurrency:  f.maxConcurrency,
		IncludePatterns: f.include,
		ExcludePatterns: f.exclude,
	}
}

func newScrapeCmd() *cobra.Command {
	var flags scrapeFlags

	cmd := &cobra.Command{
		Use:   "scrape <url> <library>",
		Short: "Crawl and index a documentation source",
		Long: `Crawl a documentation website or local file tree and index it
under a library name and optional version.

Examples:
  docsmcp scrape https://react.dev/reference/ react --version 18.2.0
  docsmcp scrape file:///home/me/docs/ mylib
  docsmcp scrape --manifest sources.yaml`,
		Args: cobra.RangeArgs(0, 2),
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

			if flags.manifest != "" {
				return runManifest(ctx, cmd, a, flags.manifest)
			}
			if len(args) != 2 {
				return fmt.Errorf("expected <url> <library> arguments (or --manifest)")
			}
			return runScrape(ctx, cmd, a, args[0], args[1], flags.version, flags.options())
		},
	}

	cmd.Flags().StringVar(&flags.version, "version", "", "Version to index under (empty for unversioned)")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "Page budget (default 1000)")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", 0, "Link depth limit (default 3)")
	cmd.Flags().StringVar(&flags.scope, "scope", "", "Crawl scope: subpages, hostname, or domain")
	cmd.Flags().IntVar(&flags.maxConcurrency, "max-concurrency", 0, "Concurrent fetches per job (default 3)")
	cmd.Flags().StringSliceVar(&flags.include, "include", nil, "Only crawl URLs matching these patterns (regexp or glob)")
	cmd.Flags().StringSliceVar(&flags.exclude, "exclude", nil, "Skip URLs matching these patterns (regexp or glob)")
	cmd.Flags().StringVar(&flags.manifest, "manifest", "", "Index every source listed in a YAML manifest")

	return cmd
}

func runScrape(ctx context.Context, cmd *cobra.Command, a *app, url, library, version string, opts scraper.Options) error {
	jobID, err := a.manager.EnqueueScrape(ctx, library, version, url, opts)
	if err != nil {
		return err
	}

	progress := func(done, total int) {
		if stdoutIsTTY() {
			fmt.Fprintf(cmd.OutOrStdout(), "\r%s: %d/%d pages", library, done, total)
		}
	}
	job, err := a.runToCompletion(ctx, jobID, progress)
	if err != nil {
		return err
	}
	if stdoutIsTTY() {
		fmt.Fprintln(cmd.OutOrStdout())
	}

	switch job.Status {
	case store.StatusCompleted:
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %s %d pages\n", libraryLabel(library, version), job.Pages)
		return nil
	case store.StatusCancelled:
		return fmt.Errorf("scrape of %s was cancelled", libraryLabel(library, version))
	default:
		return fmt.Errorf("scrape of %s failed: %s", libraryLabel(library, version), job.Error)
	}
}

func runManifest(ctx context.Context, cmd *cobra.Command, a *app, path string) error {
	m, err := scraper.LoadManifest(path)
	if err != nil {
		return err
	}
	var firstErr error
	for _, src := range m.Sources {
		err := runScrape(ctx, cmd, a, src.URL, src.Library, src.Version, src.Options)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return firstErr
}

func libraryLabel(library, version string) string {
	if version == "" {
		return library
	}
	return library + "@" + version
}
