package cmd

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/docsmcp/docsmcp/internal/mcp"
	"github.com/docsmcp/docsmcp/internal/watcher"
	"github.com/docsmcp/docsmcp/internal/web"
)

func newServeCmd() *cobra.Command {
	var (
		webAddr string
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio",
		Long: `Serve the documentation index to AI clients over the Model
Context Protocol on stdin/stdout. Optionally exposes the operator
HTTP API and watches local file sources for changes.

Examples:
  docsmcp serve
  docsmcp serve --web 127.0.0.1:6280
  docsmcp serve --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// stdout carries the protocol; logs go to the file only.
			cleanup := setupLogging(cfg, false)
			defer cleanup()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.close()

			server, err := mcp.NewServer(a.store, a.ret, a.manager, a.fetch, nil)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return server.Serve(gctx) })

			addr := webAddr
			if addr == "" {
				addr = cfg.WebAddr
			}
			if addr != "" {
				api := web.New(a.store, a.ret, a.manager, nil)
				g.Go(func() error { return api.ListenAndServe(gctx, addr) })
			}

			if watch {
				w, err := watcher.New(a.store, a.manager, nil, watcher.DefaultDebounce)
				if err != nil {
					return err
				}
				g.Go(func() error { return w.Start(gctx) })
			}

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&webAddr, "web", "", "Also serve the HTTP API on this address (e.g. 127.0.0.1:6280)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Auto-refresh versions indexed from file:// sources on change")

	return cmd
}
