// Package jobs schedules indexing work: a FIFO queue drained by a
// fixed worker pool, one active job per library version, with status
// persisted through the version state machine.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docsmcp/docsmcp/internal/errors"
	"github.com/docsmcp/docsmcp/internal/fetcher"
	"github.com/docsmcp/docsmcp/internal/pipeline"
	"github.com/docsmcp/docsmcp/internal/scraper"
	"github.com/docsmcp/docsmcp/internal/store"
)

// JobType distinguishes a full crawl from a differential refresh.
type JobType string

const (
	JobTypeScrape  JobType = "scrape"
	JobTypeRefresh JobType = "refresh"
)

// DefaultConcurrency is the worker pool size.
const DefaultConcurrency = 3

const queueCapacity = 256

// Job is one unit of indexing work. Status mirrors the version status
// in the store for the lifetime of the job.
type Job struct {
	ID         string
	Type       JobType
	Library    string
	Version    string
	VersionID  int64
	SourceURL  string
	Options    scraper.Options
	Status     store.VersionStatus
	Error      string
	Pages      int
	MaxPages   int
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	replace   bool // full re-scrape of a completed version
	cancelled bool
	cancel    context.CancelFunc
}

func (j *Job) snapshot() *Job {
	c := *j
	c.cancel = nil
	return &c
}

// Manager owns the job queue and worker pool.
type Manager struct {
	store       *store.Store
	crawler     *scraper.Crawler
	bus         *Bus
	logger      *slog.Logger
	concurrency int

	mu        sync.Mutex
	jobs      map[string]*Job
	order     []string
	byVersion map[int64]*Job

	queue chan *Job
	wg    sync.WaitGroup
	stop  context.CancelFunc
}

func NewManager(st *store.Store, crawler *scraper.Crawler, bus *Bus, logger *slog.Logger, concurrency int) *Manager {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = NewBus()
	}
	return &Manager{
		store:       st,
		crawler:     crawler,
		bus:         bus,
		logger:      logger,
		concurrency: concurrency,
		jobs:        make(map[string]*Job),
		byVersion:   make(map[int64]*Job),
		queue:       make(chan *Job, queueCapacity),
	}
}

// Bus exposes the event bus for subscribers.
func (m *Manager) Bus() *Bus { return m.bus }

// Start recovers jobs interrupted by a previous process and launches
// the worker pool.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	m.stop = cancel

	orphans, err := m.store.ResetOrphaned(ctx)
	if err != nil {
		return err
	}
	for _, v := range orphans {
		if v.SourceURL == "" {
			// Nothing to resume without a source; park the version.
			if err := m.store.UpdateVersionStatus(ctx, v.ID, store.StatusCancelled, "interrupted job had no source url"); err != nil {
				return err
			}
			continue
		}
		opts, err := scraper.UnmarshalOptions(v.ScraperOptions)
		if err != nil {
			m.logger.Warn("dropping recovered job with corrupt options",
				slog.String("library", v.LibraryName), slog.String("version", v.Name))
			opts = scraper.Options{}
		}
		if err := m.enqueue(&Job{
			ID:        uuid.NewString(),
			Type:      JobTypeScrape,
			Library:   v.LibraryName,
			Version:   v.Name,
			VersionID: v.ID,
			SourceURL: v.SourceURL,
			Options:   opts,
			Status:    store.StatusQueued,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}

	for i := 0; i < m.concurrency; i++ {
		m.wg.Add(1)
		go m.worker(runCtx)
	}
	return nil
}

// Stop cancels running jobs and waits for the workers to drain.
func (m *Manager) Stop() {
	if m.stop != nil {
		m.stop()
	}
	m.wg.Wait()
}

// EnqueueScrape queues a full crawl for library@version. If a job for
// the version is already queued or running, its id is returned instead
// of queuing a duplicate.
func (m *Manager) EnqueueScrape(ctx context.Context, library, version, sourceURL string, opts scraper.Options) (string, error) {
	if sourceURL == "" {
		return "", errors.Validation("source url is required")
	}
	if err := opts.Validate(); err != nil {
		return "", err
	}

	versionID, err := m.store.ResolveVersion(ctx, library, version)
	if err != nil {
		return "", err
	}

	// The lock spans dedupe check through enqueue so two concurrent
	// calls for the same version cannot both queue a job.
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byVersion[versionID]; ok {
		return existing.ID, nil
	}

	v, err := m.store.GetVersionByID(ctx, versionID)
	if err != nil {
		return "", err
	}

	raw, err := opts.Marshal()
	if err != nil {
		return "", errors.Validation("cannot serialize scraper options: %v", err)
	}
	if err := m.store.StoreScraperOptions(ctx, versionID, sourceURL, raw); err != nil {
		return "", err
	}

	// A completed version goes through UPDATING; everything else queues
	// directly.
	target := store.StatusQueued
	replace := false
	if v.Status == store.StatusCompleted {
		target = store.StatusUpdating
		replace = true
	}
	if err := m.store.UpdateVersionStatus(ctx, versionID, target, ""); err != nil {
		return "", err
	}

	job := &Job{
		ID:        uuid.NewString(),
		Type:      JobTypeScrape,
		Library:   v.LibraryName,
		Version:   v.Name,
		VersionID: versionID,
		SourceURL: sourceURL,
		Options:   opts,
		Status:    target,
		CreatedAt: time.Now().UTC(),
		replace:   replace,
	}
	if err := m.enqueueLocked(job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// EnqueueRefresh queues a differential re-check of a completed version
// using its stored source URL and scraper options.
func (m *Manager) EnqueueRefresh(ctx context.Context, library, version string) (string, error) {
	versionID, err := m.store.GetVersionID(ctx, library, version)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byVersion[versionID]; ok {
		return existing.ID, nil
	}

	v, err := m.store.GetVersionByID(ctx, versionID)
	if err != nil {
		return "", err
	}
	if v.Status != store.StatusCompleted {
		return "", errors.Validation("version %s@%s is %s, only completed versions can be refreshed",
			library, version, v.Status)
	}
	if v.SourceURL == "" {
		return "", errors.Validation("version %s@%s has no stored source url", library, version)
	}
	opts, err := scraper.UnmarshalOptions(v.ScraperOptions)
	if err != nil {
		return "", err
	}

	if err := m.store.UpdateVersionStatus(ctx, versionID, store.StatusUpdating, ""); err != nil {
		return "", err
	}

	job := &Job{
		ID:        uuid.NewString(),
		Type:      JobTypeRefresh,
		Library:   v.LibraryName,
		Version:   v.Name,
		VersionID: versionID,
		SourceURL: v.SourceURL,
		Options:   opts,
		Status:    store.StatusUpdating,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.enqueueLocked(job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (m *Manager) enqueue(job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enqueueLocked(job)
}

// enqueueLocked records and queues a job. Callers must hold m.mu.
func (m *Manager) enqueueLocked(job *Job) error {
	select {
	case m.queue <- job:
	default:
		return errors.New(errors.KindTransient, "job queue is full")
	}
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	m.byVersion[job.VersionID] = job

	m.bus.Publish(Event{
		Type:    EventJobEnqueued,
		JobID:   job.ID,
		Library: job.Library,
		Version: job.Version,
	})
	return nil
}

// Cancel stops a job. Queued jobs are cancelled before they start;
// running jobs get their context cancelled and finish as CANCELLED.
// Cancelling an already finished job is a no-op.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return errors.NotFound("job %s not found", jobID)
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.cancelled = true
	if job.cancel != nil {
		job.cancel()
	}
	return nil
}

// GetJob returns a snapshot of one job.
func (m *Manager) GetJob(jobID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, errors.NotFound("job %s not found", jobID)
	}
	return job.snapshot(), nil
}

// ListJobs returns snapshots of all jobs in enqueue order, optionally
// filtered by status.
func (m *Manager) ListJobs(statuses ...store.VersionStatus) []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.order))
	for _, id := range m.order {
		job := m.jobs[id]
		if len(statuses) > 0 {
			match := false
			for _, s := range statuses {
				if job.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, job.snapshot())
	}
	return out
}

// ClearCompleted drops finished jobs from the history and returns how
// many were removed.
func (m *Manager) ClearCompleted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	removed := 0
	for _, id := range m.order {
		if m.jobs[id].Status.IsTerminal() {
			delete(m.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return removed
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.queue:
			m.run(ctx, job)
		}
	}
}

func (m *Manager) run(ctx context.Context, job *Job) {
	m.mu.Lock()
	if job.cancelled {
		m.mu.Unlock()
		m.finish(ctx, job, store.StatusCancelled, "cancelled before start")
		return
	}
	jctx, cancel := context.WithCancel(ctx)
	job.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	if err := m.transition(ctx, job, store.StatusRunning, ""); err != nil {
		m.logger.Error("job could not start",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
		m.finalizeLocal(job, store.StatusFailed, err.Error())
		return
	}
	now := time.Now().UTC()
	m.mu.Lock()
	job.StartedAt = &now
	m.mu.Unlock()

	summary, err := m.execute(jctx, job)
	switch {
	case err == nil:
		m.logger.Info("job completed",
			slog.String("job_id", job.ID),
			slog.String("library", job.Library),
			slog.String("version", job.Version),
			slog.Int("pages", summary.Ingested),
			slog.Int("deleted", summary.Deleted),
			slog.Int("errors", summary.PageError))
		m.finish(ctx, job, store.StatusCompleted, "")
	case errors.IsKind(err, errors.KindCanceled) || jctx.Err() != nil:
		m.finish(ctx, job, store.StatusCancelled, "")
	default:
		m.logger.Error("job failed",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
		m.finish(ctx, job, store.StatusFailed, err.Error())
	}
}

// execute runs the crawl itself, wiring crawler callbacks to the store.
func (m *Manager) execute(ctx context.Context, job *Job) (*scraper.Summary, error) {
	req := scraper.Request{
		StartURL: job.SourceURL,
		Options:  job.Options,
	}

	if job.Type == JobTypeRefresh {
		pages, err := m.store.GetPagesByVersionID(ctx, job.VersionID)
		if err != nil {
			return nil, err
		}
		known := make(map[string]scraper.PageState, len(pages))
		for _, p := range pages {
			known[p.URL] = scraper.PageState{
				PageID:       p.ID,
				Etag:         p.Etag,
				LastModified: p.LastModified,
				Depth:        p.Depth,
			}
		}
		req.Known = known
	} else if job.replace {
		// Re-scraping a completed version starts from a clean slate.
		if _, err := m.store.DeletePages(ctx, job.Library, job.Version); err != nil {
			return nil, err
		}
	}

	req.OnIngest = func(ctx context.Context, depth int, res *fetcher.Result, scraped *pipeline.ScrapeResult) error {
		return m.store.AddDocuments(ctx, job.Library, job.Version, &store.DocumentPayload{
			URL:          scraped.URL,
			Title:        scraped.Title,
			ContentType:  scraped.ContentType,
			Etag:         res.Etag,
			LastModified: res.LastModified,
			Depth:        depth,
			Chunks:       scraped.Chunks,
		})
	}
	req.OnDelete = func(ctx context.Context, pageID int64, url string) error {
		return m.store.DeletePage(ctx, pageID)
	}
	req.OnProgress = func(done, total int) {
		m.mu.Lock()
		job.Pages = done
		job.MaxPages = total
		m.mu.Unlock()
		if err := m.store.UpdateVersionProgress(ctx, job.VersionID, done, total); err != nil {
			m.logger.Warn("progress update failed", slog.String("error", err.Error()))
		}
		m.bus.Publish(Event{
			Type:     EventJobProgress,
			JobID:    job.ID,
			Library:  job.Library,
			Version:  job.Version,
			Pages:    done,
			MaxPages: total,
		})
	}

	return m.crawler.Crawl(ctx, req)
}

// transition moves both the persisted version status and the in-memory
// job, publishing the change.
func (m *Manager) transition(ctx context.Context, job *Job, to store.VersionStatus, errMsg string) error {
	if err := m.store.UpdateVersionStatus(ctx, job.VersionID, to, errMsg); err != nil {
		return err
	}
	m.mu.Lock()
	from := job.Status
	job.Status = to
	job.Error = errMsg
	m.mu.Unlock()
	m.bus.Publish(Event{
		Type:      EventJobStatusChange,
		JobID:     job.ID,
		Library:   job.Library,
		Version:   job.Version,
		OldStatus: from,
		NewStatus: to,
		Error:     errMsg,
	})
	return nil
}

// finish records the terminal status. The store write uses a fresh
// context so cancellation of the job cannot lose the terminal state.
func (m *Manager) finish(ctx context.Context, job *Job, to store.VersionStatus, errMsg string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.transition(wctx, job, to, errMsg); err != nil {
		m.logger.Error("terminal status write failed",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
		m.finalizeLocal(job, to, errMsg)
		return
	}
	m.release(job)
	m.bus.Publish(Event{
		Type:    EventLibraryChange,
		Library: job.Library,
		Version: job.Version,
	})
}

// finalizeLocal marks the in-memory job terminal when the store write
// already failed.
func (m *Manager) finalizeLocal(job *Job, to store.VersionStatus, errMsg string) {
	m.mu.Lock()
	job.Status = to
	job.Error = errMsg
	m.mu.Unlock()
	m.release(job)
}

func (m *Manager) release(job *Job) {
	now := time.Now().UTC()
	m.mu.Lock()
	job.FinishedAt = &now
	if m.byVersion[job.VersionID] == job {
		delete(m.byVersion, job.VersionID)
	}
	m.mu.Unlock()
}
