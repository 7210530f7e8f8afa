package fetcher

import (
	"context"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/docsmcp/docsmcp/internal/errors"
)

const (
	defaultUserAgent = "docsmcp/1.0 (+https://github.com/docsmcp/docsmcp)"
	maxBodyBytes     = 32 << 20
	defaultRetries   = 3
)

// HTTPFetcher fetches http:// and https:// URLs with retry, a circuit
// breaker against persistently failing hosts, and a polite global rate
// limit.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// HTTPOption configures the HTTP fetcher.
type HTTPOption func(*HTTPFetcher)

// WithTimeout bounds each request attempt.
func WithTimeout(d time.Duration) HTTPOption {
	return func(f *HTTPFetcher) { f.client.Timeout = d }
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) HTTPOption {
	return func(f *HTTPFetcher) { f.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// NewHTTP builds an HTTP fetcher. Redirect following is decided per
// request through Options, so the client never follows on its own.
func NewHTTP(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter: rate.NewLimiter(rate.Limit(8), 4),
	}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "http-fetch",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
	})
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFetcher) CanFetch(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// Fetch retrieves url. Transient failures (timeouts, 5xx, 429) retry
// with exponential backoff up to MaxRetries; permanent failures return
// immediately. 304 and 404 are reported as results, not errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, opts Options) (*Result, error) {
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		res, err := f.attempt(ctx, url, opts, 0)
		if err == nil {
			return res, nil
		}
		if !errors.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, errors.Permanent(lastErr, "fetch of %s failed after %d retries", url, retries)
}

// attempt performs one request, following redirects manually up to depth 10.
func (f *HTTPFetcher) attempt(ctx context.Context, url string, opts Options, redirects int) (*Result, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := f.breaker.Execute(func() (any, error) {
		return f.doRequest(ctx, url, opts)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, errors.Transient(err, "circuit breaker open for %s", url)
		}
		return nil, err
	}
	resp := out.(*http.Response)

	if isRedirect(resp.StatusCode) {
		loc := resp.Header.Get("Location")
		_ = resp.Body.Close()
		if !opts.FollowRedirects {
			return nil, errors.Permanent(
				fmt.Errorf("status %d to %s", resp.StatusCode, loc),
				"redirect not followed for %s", url)
		}
		if redirects >= 10 {
			return nil, errors.Permanent(nil, "too many redirects from %s", url)
		}
		if loc == "" {
			return nil, errors.Permanent(nil, "redirect without location from %s", url)
		}
		next := resolveRedirect(url, loc)
		return f.attempt(ctx, next, opts, redirects+1)
	}

	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &Result{Source: url, Status: StatusNotModified}, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &Result{Source: url, Status: StatusGone}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.Transient(fmt.Errorf("status %d", resp.StatusCode),
			"server error fetching %s", url)
	case resp.StatusCode >= 400:
		return nil, errors.Permanent(fmt.Errorf("status %d", resp.StatusCode),
			"client error fetching %s", url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Transient(err, "failed to read body of %s", url)
	}

	mimeType, charset := parseContentType(resp.Header.Get("Content-Type"))
	return &Result{
		Source:       url,
		Content:      body,
		MimeType:     mimeType,
		Charset:      charset,
		Etag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		Status:       StatusOK,
	}, nil
}

func (f *HTTPFetcher) doRequest(ctx context.Context, url string, opts Options) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Permanent(err, "invalid url %q", url)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if opts.IfNoneMatch != "" {
		req.Header.Set("If-None-Match", opts.IfNoneMatch)
	}
	if opts.IfModifiedSince != "" {
		req.Header.Set("If-Modified-Since", opts.IfModifiedSince)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// DNS and TLS failures come through here too; treating them as
		// transient lets the backoff absorb flaky resolvers, and the
		// retry cap converts persistent ones into a permanent failure.
		return nil, errors.Transient(err, "request to %s failed", url)
	}
	return resp, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolveRedirect(base, location string) string {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	req, err := http.NewRequest(http.MethodGet, base, nil)
	if err != nil {
		return location
	}
	ref, err := req.URL.Parse(location)
	if err != nil {
		return location
	}
	return ref.String()
}

func parseContentType(header string) (mimeType, charset string) {
	if header == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(header)
	if err != nil {
		return header, ""
	}
	return mt, params["charset"]
}
