// Package embed provides the provider-backed embedding layer: batch
// embedding with size-aware retry, a fixed-dimension adapter, and an
// LRU query cache. Providers: OpenAI-compatible endpoints (OpenAI,
// Azure, Vertex, SageMaker), Google Gemini, and AWS Bedrock.
package embed

import (
	"context"
	"time"
)

// Embedder is the capability exposed to the store and retriever. All
// implementations return vectors of a fixed dimension.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	ModelName() string
}

// provider is the raw per-provider call. It embeds one batch with no
// retry or splitting; the batcher layers those on top.
type provider interface {
	embedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	batchSize() int
}

const (
	defaultBatchSize = 32
	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 30 * time.Second
)

// batcher turns a provider into an Embedder: inputs are chopped into
// provider-sized batches and each batch goes through the size-aware
// retry policy under a per-call timeout.
type batcher struct {
	p       provider
	timeout time.Duration
}

func newBatcher(p provider, timeout time.Duration) *batcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &batcher{p: p, timeout: timeout}
}

func (b *batcher) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	size := b.p.batchSize()
	if size <= 0 {
		size = defaultBatchSize
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := b.embedWithTimeout(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (b *batcher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.embedWithTimeout(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (b *batcher) embedWithTimeout(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return embedWithRetry(ctx, b.p, texts)
}

func (b *batcher) Dimensions() int   { return b.p.Dimensions() }
func (b *batcher) ModelName() string { return b.p.ModelName() }
