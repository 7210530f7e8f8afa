// Package watcher keeps file:// sourced versions fresh: filesystem
// events are debounced per version and turned into refresh jobs.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/docsmcp/docsmcp/internal/jobs"
	"github.com/docsmcp/docsmcp/internal/store"
)

// DefaultDebounce batches rapid edit bursts into one refresh.
const DefaultDebounce = 2 * time.Second

type target struct {
	library string
	version string
	root    string
}

// Watcher mirrors local documentation trees into the index.
type Watcher struct {
	store    *store.Store
	manager  *jobs.Manager
	logger   *slog.Logger
	debounce time.Duration

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	targets []target
	timers  map[string]*time.Timer // keyed by root
	stopped bool
}

func New(st *store.Store, manager *jobs.Manager, logger *slog.Logger, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		store:    st,
		manager:  manager,
		logger:   logger,
		debounce: debounce,
		fsw:      fsw,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Start registers all completed file:// versions and begins watching.
// New versions are picked up through library change events on the job
// bus. Blocks until the context ends.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.rescan(ctx); err != nil {
		return err
	}

	events, unsubscribe := w.manager.Bus().Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return w.Close()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleFsEvent(ctx, ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == jobs.EventLibraryChange {
				if err := w.rescan(ctx); err != nil {
					w.logger.Warn("rescan failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}

// Close stops the filesystem watcher and pending timers.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.stopped = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}

// rescan aligns the watch set with the completed file:// versions in
// the catalog.
func (w *Watcher) rescan(ctx context.Context) error {
	libraries, err := w.store.ListLibraries(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	known := make(map[string]struct{}, len(w.targets))
	for _, t := range w.targets {
		known[t.root] = struct{}{}
	}

	for _, lib := range libraries {
		for _, v := range lib.Versions {
			root, ok := localRoot(v.SourceURL)
			if !ok || v.Status != store.StatusCompleted {
				continue
			}
			if _, seen := known[root]; seen {
				continue
			}
			if err := w.watchTree(root); err != nil {
				w.logger.Warn("cannot watch source",
					slog.String("root", root), slog.String("error", err.Error()))
				continue
			}
			w.targets = append(w.targets, target{library: lib.Name, version: v.Name, root: root})
			known[root] = struct{}{}
			w.logger.Info("watching local source",
				slog.String("library", lib.Name),
				slog.String("version", v.Name),
				slog.String("root", root))
		}
	}
	return nil
}

// watchTree adds the root and every subdirectory: fsnotify watches are
// not recursive.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) handleFsEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// New directories join the watch set immediately so edits inside
	// them are not missed.
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.logger.Warn("cannot watch new directory",
					slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	for _, t := range w.targets {
		if !strings.HasPrefix(ev.Name, t.root) {
			continue
		}
		w.scheduleRefresh(ctx, t)
		return
	}
}

// scheduleRefresh arms (or re-arms) the per-root debounce timer.
// Caller holds w.mu.
func (w *Watcher) scheduleRefresh(ctx context.Context, t target) {
	if timer, ok := w.timers[t.root]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[t.root] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, t.root)
		stopped := w.stopped
		w.mu.Unlock()
		if stopped || ctx.Err() != nil {
			return
		}
		jobID, err := w.manager.EnqueueRefresh(ctx, t.library, t.version)
		if err != nil {
			w.logger.Warn("auto refresh failed to enqueue",
				slog.String("library", t.library),
				slog.String("version", t.version),
				slog.String("error", err.Error()))
			return
		}
		w.logger.Info("auto refresh enqueued",
			slog.String("library", t.library),
			slog.String("version", t.version),
			slog.String("job_id", jobID))
	})
}

// localRoot extracts the directory behind a file:// source URL.
func localRoot(sourceURL string) (string, bool) {
	if !strings.HasPrefix(sourceURL, "file://") {
		return "", false
	}
	root := strings.TrimPrefix(sourceURL, "file://")
	root = strings.TrimSuffix(root, "/")
	if root == "" {
		return "", false
	}
	return root, true
}
