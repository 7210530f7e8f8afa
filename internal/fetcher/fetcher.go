// Package fetcher retrieves raw content for the indexing pipeline.
// Variants cover HTTP(S) sites and local file trees; AutoDetect picks
// the first variant that can serve a URL.
package fetcher

import (
	"context"

	"github.com/docsmcp/docsmcp/internal/errors"
)

// Status classifies the outcome of a fetch for the refresh engine.
type Status int

const (
	// StatusOK means fresh content was returned.
	StatusOK Status = 200
	// StatusNotModified means the conditional request matched; content is empty.
	StatusNotModified Status = 304
	// StatusGone means the resource no longer exists. During refresh this
	// is a deletion signal, not an error.
	StatusGone Status = 404
)

// Result is the outcome of one fetch.
type Result struct {
	// Source is the canonical URL: after redirects it is the final
	// location, not the requested one.
	Source       string
	Content      []byte
	MimeType     string
	Charset      string
	Etag         string
	LastModified string
	Status       Status
}

// Options tune a single fetch.
type Options struct {
	FollowRedirects bool
	MaxRetries      int
	Headers         map[string]string
	// IfNoneMatch and IfModifiedSince make the request conditional;
	// a match yields StatusNotModified with no content.
	IfNoneMatch     string
	IfModifiedSince string
}

// Fetcher retrieves content for URLs it recognizes.
type Fetcher interface {
	CanFetch(url string) bool
	Fetch(ctx context.Context, url string, opts Options) (*Result, error)
	Close() error
}

// AutoDetect delegates to the first fetcher whose CanFetch accepts the URL.
type AutoDetect struct {
	fetchers []Fetcher
}

// NewAutoDetect builds the standard composite: HTTP first, then files.
func NewAutoDetect(fetchers ...Fetcher) *AutoDetect {
	if len(fetchers) == 0 {
		fetchers = []Fetcher{NewHTTP(), NewFile()}
	}
	return &AutoDetect{fetchers: fetchers}
}

func (a *AutoDetect) CanFetch(url string) bool {
	for _, f := range a.fetchers {
		if f.CanFetch(url) {
			return true
		}
	}
	return false
}

func (a *AutoDetect) Fetch(ctx context.Context, url string, opts Options) (*Result, error) {
	for _, f := range a.fetchers {
		if f.CanFetch(url) {
			return f.Fetch(ctx, url, opts)
		}
	}
	return nil, errors.Validation("no fetcher accepts url %q", url)
}

func (a *AutoDetect) Close() error {
	var first error
	for _, f := range a.fetchers {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
