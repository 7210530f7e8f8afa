package scraper

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/docsmcp/docsmcp/internal/errors"
	"github.com/docsmcp/docsmcp/internal/fetcher"
	"github.com/docsmcp/docsmcp/internal/pipeline"
)

// PageState carries the stored conditional-request state for a URL
// during refresh.
type PageState struct {
	PageID       int64
	Etag         string
	LastModified string
	Depth        int
}

// Request describes one crawl. The sink callbacks connect the crawler
// to the store without the scraper depending on it.
type Request struct {
	StartURL string
	Options  Options

	// Known maps URL to stored page state; non-nil switches the crawl
	// into refresh mode (conditional requests, 404 deletions).
	Known map[string]PageState

	// OnIngest persists one freshly processed page.
	OnIngest func(ctx context.Context, depth int, res *fetcher.Result, scraped *pipeline.ScrapeResult) error
	// OnDelete handles a refresh 404 for a previously stored page.
	OnDelete func(ctx context.Context, pageID int64, url string) error
	// OnProgress reports pages done against the page budget.
	OnProgress func(done, total int)
}

// Summary is the crawl outcome.
type Summary struct {
	Visited   int
	Ingested  int
	Skipped   int // unchanged pages during refresh
	Deleted   int
	PageError int
}

// Crawler walks a documentation source breadth-first.
type Crawler struct {
	fetch  fetcher.Fetcher
	pipes  *pipeline.Selector
	logger *slog.Logger
}

func NewCrawler(f fetcher.Fetcher, pipes *pipeline.Selector, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{fetch: f, pipes: pipes, logger: logger}
}

type crawlItem struct {
	url   string
	depth int
}

// pageBudget enforces the max_pages cap across concurrent page
// goroutines. A slot must be claimed before ingesting; pages in flight
// when the budget runs out are fetched but not ingested.
type pageBudget struct {
	used atomic.Int32
	max  int32
}

func (b *pageBudget) claim() bool {
	for {
		n := b.used.Load()
		if n >= b.max {
			return false
		}
		if b.used.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (b *pageBudget) release() { b.used.Add(-1) }

func (b *pageBudget) exhausted() bool { return b.used.Load() >= b.max }

// Crawl runs a breadth-first traversal from req.StartURL. Cancellation
// is honored between fetches; pages already persisted stay persisted.
func (c *Crawler) Crawl(ctx context.Context, req Request) (*Summary, error) {
	opts := req.Options.Normalized()
	scope, err := newScopeFilter(req.StartURL, opts.Scope)
	if err != nil {
		return nil, err
	}
	patterns, err := newFilter(opts)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		visited  = map[string]struct{}{req.StartURL: {}}
		frontier = []crawlItem{{url: req.StartURL, depth: 0}}
		summary  Summary
		budget   = &pageBudget{max: int32(opts.MaxPages)}
	)

	// Refresh mode: every stored page is checked directly, at its
	// recorded depth. A 304 on a parent would otherwise hide its
	// children from the traversal.
	for known, state := range req.Known {
		if _, seen := visited[known]; seen {
			continue
		}
		visited[known] = struct{}{}
		frontier = append(frontier, crawlItem{url: known, depth: state.Depth})
	}

	ignoreErrors := opts.IgnoreErrors != nil && *opts.IgnoreErrors

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return &summary, err
		}

		var next []crawlItem
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.MaxConcurrency)

		for _, item := range frontier {
			if budget.exhausted() {
				break
			}
			g.Go(func() error {
				links, outcome, err := c.visit(gctx, req, opts, budget, item)

				mu.Lock()
				defer mu.Unlock()
				summary.Visited++
				switch outcome {
				case outcomeIngested:
					summary.Ingested++
				case outcomeSkipped:
					summary.Skipped++
				case outcomeDeleted:
					summary.Deleted++
				}
				if err != nil {
					if errors.IsKind(err, errors.KindCanceled) || gctx.Err() != nil {
						return err
					}
					summary.PageError++
					if !ignoreErrors {
						return err
					}
					c.logger.Warn("page failed, skipping",
						slog.String("url", item.url), slog.String("error", err.Error()))
					return nil
				}

				if req.OnProgress != nil {
					req.OnProgress(summary.Ingested, opts.MaxPages)
				}
				if item.depth >= opts.MaxDepth {
					return nil
				}
				for _, link := range links {
					if _, seen := visited[link]; seen {
						continue
					}
					if !scope.admits(link) || !patterns.admits(link) {
						continue
					}
					visited[link] = struct{}{}
					next = append(next, crawlItem{url: link, depth: item.depth + 1})
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return &summary, err
		}
		frontier = next
	}

	return &summary, nil
}

type visitOutcome int

const (
	outcomeError visitOutcome = iota
	outcomeIngested
	outcomeSkipped
	outcomeDeleted
	outcomeOverBudget
)

func (c *Crawler) visit(ctx context.Context, req Request, opts Options, budget *pageBudget, item crawlItem) ([]string, visitOutcome, error) {
	fopts := fetcher.Options{
		FollowRedirects: opts.FollowRedirects == nil || *opts.FollowRedirects,
		Headers:         opts.Headers,
	}

	known, isKnown := req.Known[item.url]
	if isKnown {
		fopts.IfNoneMatch = known.Etag
		fopts.IfModifiedSince = known.LastModified
	}

	res, err := c.fetch.Fetch(ctx, item.url, fopts)
	if err != nil {
		return nil, outcomeError, err
	}

	switch res.Status {
	case fetcher.StatusNotModified:
		// Unchanged: chunks stay, but traversal still needs the links.
		// They were discovered on the original crawl; stored pages at
		// deeper depths are re-checked through req.Known seeding.
		return nil, outcomeSkipped, nil

	case fetcher.StatusGone:
		if isKnown && req.OnDelete != nil {
			if err := req.OnDelete(ctx, known.PageID, item.url); err != nil {
				return nil, outcomeError, err
			}
			return nil, outcomeDeleted, nil
		}
		return nil, outcomeError, errors.NotFound("page %s not found", item.url)
	}

	// A followed redirect makes the destination canonical: the old URL
	// is deleted and the final one ingested.
	if res.Source != item.url && isKnown && req.OnDelete != nil {
		if err := req.OnDelete(ctx, known.PageID, item.url); err != nil {
			return nil, outcomeError, err
		}
	}

	// The frontier launch gate is advisory; pages already in flight
	// when the budget fills must not ingest past it.
	if !budget.claim() {
		return nil, outcomeOverBudget, nil
	}

	scraped, err := c.pipes.Process(ctx, res.Content, res.MimeType, res.Source)
	if err != nil {
		budget.release()
		return nil, outcomeError, err
	}

	if err := req.OnIngest(ctx, item.depth, res, scraped); err != nil {
		budget.release()
		return nil, outcomeError, err
	}
	return scraped.Links, outcomeIngested, nil
}

// scopeFilter bounds discovered links relative to the start URL.
type scopeFilter struct {
	scope    string
	host     string
	domain   string
	pathBase string
	scheme   string
}

func newScopeFilter(startURL, scope string) (*scopeFilter, error) {
	u, err := url.Parse(startURL)
	if err != nil || u.Host == "" && u.Scheme != "file" {
		return nil, errors.Validation("invalid start url %q", startURL)
	}

	base := u.Path
	if !strings.HasSuffix(base, "/") {
		if idx := strings.LastIndex(base, "/"); idx >= 0 {
			base = base[:idx+1]
		}
	}

	return &scopeFilter{
		scope:    scope,
		host:     u.Hostname(),
		domain:   registrableDomain(u.Hostname()),
		pathBase: base,
		scheme:   u.Scheme,
	}, nil
}

func (s *scopeFilter) admits(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if s.scheme == "file" {
		// File trees only descend below the start directory.
		return u.Scheme == "file" && strings.HasPrefix(u.Path, s.pathBase)
	}

	switch s.scope {
	case ScopeDomain:
		return registrableDomain(u.Hostname()) == s.domain
	case ScopeHostname:
		return u.Hostname() == s.host
	default: // subpages
		return u.Hostname() == s.host && strings.HasPrefix(u.Path, s.pathBase)
	}
}

// registrableDomain approximates the eTLD+1 with the last two labels.
func registrableDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
