// Package cmd provides the CLI commands for docsmcp.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docsmcp/docsmcp/internal/config"
	"github.com/docsmcp/docsmcp/internal/logging"
	"github.com/docsmcp/docsmcp/internal/version"
)

var (
	flagStorePath string
	flagLogLevel  string
	flagVerbose   bool
)

// NewRootCmd creates the docsmcp root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docsmcp",
		Short: "Documentation indexer and search server for AI assistants",
		Long: `docsmcp scrapes documentation websites and local file trees,
indexes them per library and version, and answers hybrid
semantic + keyword queries over MCP, HTTP, or the command line.

Start by indexing something:

  docsmcp scrape https://react.dev/reference/ react --version 18.2.0

then search it:

  docsmcp search react "useEffect cleanup" --version 18.2.0

or expose everything to an AI client:

  docsmcp serve`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("docsmcp version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagStorePath, "store", "", "Path to the database file (default $DOCSMCP_STORE_PATH or ~/.docsmcp/docsmcp.db)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Minimum log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Mirror logs to stderr")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newJobsCmd())

	return cmd
}

// Execute runs the CLI with signal-driven cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// loadConfig applies the persistent flags on top of the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagStorePath != "" {
		cfg.StorePath = flagStorePath
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	cfg.StorePath = expandHome(cfg.StorePath)
	return cfg, nil
}

// setupLogging routes logs to the rotating file; stderr mirroring is
// opt-in so CLI output stays clean.
func setupLogging(cfg *config.Config, toStderr bool) func() {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	if cfg.LogFile != "" {
		logCfg.FilePath = expandHome(cfg.LogFile)
	}
	logCfg.WriteToStderr = toStderr
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		// Fall back to stderr-only logging.
		logCfg.FilePath = ""
		logCfg.WriteToStderr = true
		cleanup, _ = logging.SetupDefault(logCfg)
	}
	if cleanup == nil {
		cleanup = func() {}
	}
	return cleanup
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}
