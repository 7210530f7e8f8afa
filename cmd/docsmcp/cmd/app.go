package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/docsmcp/docsmcp/internal/config"
	"github.com/docsmcp/docsmcp/internal/embed"
	"github.com/docsmcp/docsmcp/internal/fetcher"
	"github.com/docsmcp/docsmcp/internal/jobs"
	"github.com/docsmcp/docsmcp/internal/pipeline"
	"github.com/docsmcp/docsmcp/internal/retriever"
	"github.com/docsmcp/docsmcp/internal/scraper"
	"github.com/docsmcp/docsmcp/internal/store"
)

// app bundles the wired subsystems behind one lifecycle.
type app struct {
	cfg     *config.Config
	store   *store.Store
	fetch   fetcher.Fetcher
	pipes   *pipeline.Selector
	manager *jobs.Manager
	ret     *retriever.Retriever
}

// newApp builds the store, embedder, and job manager from config. The
// worker pool only spins up when withJobs is set; read-only commands
// skip it.
func newApp(ctx context.Context, cfg *config.Config, withJobs bool) (*app, error) {
	embedder, err := embed.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	storeOpts := []store.Option{store.WithLogger(slog.Default())}
	if embedder != nil {
		storeOpts = append(storeOpts, store.WithEmbedder(embedder, store.EmbeddingSpec{
			Provider:  cfg.Provider(),
			Model:     cfg.Model(),
			Dimension: embedder.Dimensions(),
			Spec:      cfg.EmbeddingModel,
		}))
	}
	st, err := store.Open(cfg.StorePath, storeOpts...)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		store: st,
		fetch: fetcher.NewAutoDetect(fetcher.NewHTTP(fetcher.WithTimeout(cfg.FetchTimeout)), fetcher.NewFile()),
		pipes: pipeline.NewSelector(nil),
		ret:   retriever.New(st, slog.Default()),
	}
	a.manager = jobs.NewManager(st, scraper.NewCrawler(a.fetch, a.pipes, slog.Default()), jobs.NewBus(), slog.Default(), cfg.Concurrency)
	if withJobs {
		if err := a.manager.Start(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.manager != nil {
		a.manager.Stop()
	}
	_ = a.fetch.Close()
	_ = a.pipes.Close()
	_ = a.store.Close()
}

// runToCompletion waits for one job to reach a terminal state, relaying
// progress events to the callback.
func (a *app) runToCompletion(ctx context.Context, jobID string, onProgress func(done, total int)) (*jobs.Job, error) {
	events, unsubscribe := a.manager.Bus().Subscribe()
	defer unsubscribe()

	for {
		job, err := a.manager.GetJob(jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			_ = a.manager.Cancel(jobID)
			return a.manager.GetJob(jobID)
		case ev := <-events:
			if ev.Type == jobs.EventJobProgress && ev.JobID == jobID && onProgress != nil {
				onProgress(ev.Pages, ev.MaxPages)
			}
		case <-time.After(250 * time.Millisecond):
			// Re-poll even if bus events were dropped.
		}
	}
}
