package embed

import (
	"context"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/docsmcp/docsmcp/internal/errors"
)

type geminiProvider struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGemini builds an Embedder over the Google Gemini embedding API.
// The native width of text-embedding-004 is 768; callers wanting a
// different store dimension wrap the result with NewFixedDimension.
func NewGemini(ctx context.Context, apiKey, model string, dims int, timeout time.Duration) (Embedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Embedding(err, "failed to create gemini client")
	}
	return newBatcher(&geminiProvider{client: client, model: model, dims: dims}, timeout), nil
}

func (p *geminiProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := p.client.EmbeddingModel(p.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch = batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(res.Embeddings) != len(texts) {
		return nil, errors.New(errors.KindEmbedding,
			"gemini returned %d embeddings for %d inputs", len(res.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (p *geminiProvider) Dimensions() int   { return p.dims }
func (p *geminiProvider) ModelName() string { return p.model }
func (p *geminiProvider) batchSize() int    { return 100 }
