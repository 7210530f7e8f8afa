package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/docsmcp/docsmcp/internal/errors"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
// Azure, Vertex, and SageMaker deployments are served through the same
// client by pointing BaseURL at their OpenAI-compatible surface and
// setting the auth header they expect.
type OpenAIConfig struct {
	BaseURL string // e.g. https://api.openai.com/v1
	APIKey  string
	Model   string
	// Dimensions requests an MRL truncation from the provider when > 0
	// and the model supports it.
	Dimensions        int
	RequestDimensions bool
	// AuthHeader overrides the credential header. Empty means
	// "Authorization: Bearer <key>"; Azure uses "api-key".
	AuthHeader string
	Query      string // extra query string, e.g. api-version=2024-02-01
	BatchSize  int
	Timeout    time.Duration
}

type openAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI builds an Embedder over an OpenAI-compatible endpoint.
func NewOpenAI(cfg OpenAIConfig) Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return newBatcher(&openAIProvider{
		cfg:    cfg,
		client: &http.Client{},
	}, cfg.Timeout)
}

type openAIRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *openAIProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := openAIRequest{Model: p.cfg.Model, Input: texts}
	if p.cfg.RequestDimensions {
		reqBody.Dimensions = p.cfg.Dimensions
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode embeddings request: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/embeddings"
	if p.cfg.Query != "" {
		url += "?" + p.cfg.Query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.AuthHeader != "" {
		req.Header.Set(p.cfg.AuthHeader, p.cfg.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Transient(err, "embeddings request to %s failed", p.cfg.BaseURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, errors.Transient(err, "failed to read embeddings response")
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil && resp.StatusCode == http.StatusOK {
		return nil, errors.Embedding(err, "malformed embeddings response")
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if parsed.Error != nil {
			// The provider message is the retry policy's input: size
			// rejections are recognized by their message text.
			msg = parsed.Error.Message
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, errors.Transient(fmt.Errorf("%s", msg),
				"embeddings endpoint returned %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("embeddings endpoint returned %d: %s", resp.StatusCode, msg)
	}

	if len(parsed.Data) != len(texts) {
		return nil, errors.New(errors.KindEmbedding,
			"endpoint returned %d embeddings for %d inputs", len(parsed.Data), len(texts))
	}
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	out := make([][]float32, len(texts))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (p *openAIProvider) Dimensions() int { return p.cfg.Dimensions }

func (p *openAIProvider) ModelName() string { return p.cfg.Model }

func (p *openAIProvider) batchSize() int {
	if p.cfg.BatchSize > 0 {
		return p.cfg.BatchSize
	}
	return defaultBatchSize
}
