package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmcp/docsmcp/internal/fetcher"
	"github.com/docsmcp/docsmcp/internal/jobs"
	"github.com/docsmcp/docsmcp/internal/pipeline"
	"github.com/docsmcp/docsmcp/internal/scraper"
	"github.com/docsmcp/docsmcp/internal/store"
)

func TestLocalRoot(t *testing.T) {
	root, ok := localRoot("file:///home/me/docs/")
	require.True(t, ok)
	assert.Equal(t, "/home/me/docs", root)

	_, ok = localRoot("https://docs.example/")
	assert.False(t, ok)
	_, ok = localRoot("file://")
	assert.False(t, ok)
}

func TestWatcherEnqueuesRefreshOnChange(t *testing.T) {
	dir := t.TempDir()
	guide := filepath.Join(dir, "guide.md")
	require.NoError(t, os.WriteFile(guide, []byte("# Guide\n\nhello\n"), 0o644))

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	crawler := scraper.NewCrawler(fetcher.NewAutoDetect(), pipeline.NewSelector(nil), nil)
	manager := jobs.NewManager(st, crawler, jobs.NewBus(), nil, 1)
	require.NoError(t, manager.Start(context.Background()))
	t.Cleanup(manager.Stop)

	ctx := context.Background()
	id, err := manager.EnqueueScrape(ctx, "local", "", "file://"+dir+"/", scraper.Options{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, err := manager.GetJob(id)
		return err == nil && j.Status == store.StatusCompleted
	}, 10*time.Second, 10*time.Millisecond)

	w, err := New(st, manager, nil, 50*time.Millisecond)
	require.NoError(t, err)

	watchCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(watchCtx)
	}()

	// Give the watcher time to register the tree.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(guide, []byte("# Guide\n\nchanged\n"), 0o644))

	require.Eventually(t, func() bool {
		for _, j := range manager.ListJobs() {
			if j.Type == jobs.JobTypeRefresh && j.Status == store.StatusCompleted {
				return true
			}
		}
		return false
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherIgnoresNonLocalSources(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	crawler := scraper.NewCrawler(fetcher.NewAutoDetect(), pipeline.NewSelector(nil), nil)
	manager := jobs.NewManager(st, crawler, jobs.NewBus(), nil, 1)

	w, err := New(st, manager, nil, 0)
	require.NoError(t, err)
	require.NoError(t, w.rescan(context.Background()))
	assert.Empty(t, w.targets)
	require.NoError(t, w.Close())
}
