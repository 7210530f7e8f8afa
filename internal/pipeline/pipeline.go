// Package pipeline turns fetched bytes into hierarchically structured
// chunks. Three variants cover prose (HTML, Markdown, plain text),
// source code (tree-sitter languages), and JSON/config files; a
// selector picks by MIME type.
package pipeline

import (
	"context"

	"github.com/docsmcp/docsmcp/internal/errors"
	"github.com/docsmcp/docsmcp/internal/store"
)

// ScrapeResult is the pipeline output for one fetched resource.
type ScrapeResult struct {
	URL         string
	Title       string
	ContentType string
	Chunks      []store.IngestChunk
	// Links are the discovered outbound URLs (prose pipeline only).
	Links []string
}

// Pipeline maps raw bytes to a structured scrape result.
type Pipeline interface {
	CanProcess(mimeType string) bool
	Process(ctx context.Context, content []byte, mimeType, sourceURL string) (*ScrapeResult, error)
	Close() error
}

// Selector routes content to the first pipeline that accepts its MIME
// type, defaulting to prose for anything unrecognized.
type Selector struct {
	pipelines []Pipeline
	fallback  Pipeline
}

// NewSelector builds the standard pipeline set. ExcludeSelectors are
// passed to the prose sanitizer.
func NewSelector(excludeSelectors []string) *Selector {
	prose := NewProse(excludeSelectors)
	return &Selector{
		pipelines: []Pipeline{NewCode(), NewJSON(), prose},
		fallback:  prose,
	}
}

// Select returns the pipeline for a MIME type.
func (s *Selector) Select(mimeType string) Pipeline {
	for _, p := range s.pipelines {
		if p.CanProcess(mimeType) {
			return p
		}
	}
	return s.fallback
}

// Process routes and runs in one step.
func (s *Selector) Process(ctx context.Context, content []byte, mimeType, sourceURL string) (*ScrapeResult, error) {
	if len(content) == 0 {
		return nil, errors.Validation("empty content from %s", sourceURL)
	}
	return s.Select(mimeType).Process(ctx, content, mimeType, sourceURL)
}

// Close releases every pipeline.
func (s *Selector) Close() error {
	var first error
	for _, p := range s.pipelines {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
