package embed

import (
	"context"
	"os"
	"strings"

	"github.com/docsmcp/docsmcp/internal/config"
	"github.com/docsmcp/docsmcp/internal/errors"
)

// New builds the configured embedder stack: provider, fixed-dimension
// adapter, query cache. Returns nil when no embedding model is
// configured (the store degrades to FTS-only search).
//
// Credential absence is a construction-time failure enumerating every
// missing variable for the selected provider.
func New(ctx context.Context, cfg *config.Config) (Embedder, error) {
	if cfg.EmbeddingModel == "" {
		return nil, nil
	}

	provider := strings.ToLower(cfg.Provider())
	model := cfg.Model()
	dims := cfg.EmbeddingDimension
	timeout := cfg.EmbedTimeout

	var (
		inner Embedder
		err   error
	)
	switch provider {
	case "openai":
		key, missing := requireEnv("OPENAI_API_KEY")
		if len(missing) > 0 {
			return nil, missingCredentials(provider, missing)
		}
		inner = NewOpenAI(OpenAIConfig{
			BaseURL:           os.Getenv("OPENAI_API_BASE"),
			APIKey:            key[0],
			Model:             model,
			Dimensions:        dims,
			RequestDimensions: strings.HasPrefix(model, "text-embedding-3"),
			Timeout:           timeout,
		})

	case "azure":
		vals, missing := requireEnv("AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT")
		if len(missing) > 0 {
			return nil, missingCredentials(provider, missing)
		}
		apiVersion := os.Getenv("AZURE_OPENAI_API_VERSION")
		if apiVersion == "" {
			apiVersion = "2024-02-01"
		}
		inner = NewOpenAI(OpenAIConfig{
			BaseURL:    strings.TrimRight(vals[1], "/") + "/openai/deployments/" + model,
			APIKey:     vals[0],
			Model:      model,
			Dimensions: dims,
			AuthHeader: "api-key",
			Query:      "api-version=" + apiVersion,
			Timeout:    timeout,
		})

	case "vertex":
		// Vertex serves an OpenAI-compatible embeddings surface; the
		// token is a short-lived access token minted by the operator.
		vals, missing := requireEnv("GOOGLE_VERTEX_BASE_URL", "GOOGLE_VERTEX_ACCESS_TOKEN")
		if len(missing) > 0 {
			return nil, missingCredentials(provider, missing)
		}
		inner = NewOpenAI(OpenAIConfig{
			BaseURL:    vals[0],
			APIKey:     vals[1],
			Model:      model,
			Dimensions: dims,
			Timeout:    timeout,
		})

	case "sagemaker":
		vals, missing := requireEnv("SAGEMAKER_BASE_URL", "SAGEMAKER_API_KEY")
		if len(missing) > 0 {
			return nil, missingCredentials(provider, missing)
		}
		inner = NewOpenAI(OpenAIConfig{
			BaseURL:    vals[0],
			APIKey:     vals[1],
			Model:      model,
			Dimensions: dims,
			Timeout:    timeout,
		})

	case "gemini", "google":
		key := os.Getenv("GOOGLE_API_KEY")
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			return nil, missingCredentials(provider, []string{"GOOGLE_API_KEY"})
		}
		// The current Gemini text embedding family is 768-wide natively.
		inner, err = NewGemini(ctx, key, model, 768, timeout)
		if err != nil {
			return nil, err
		}

	case "bedrock", "aws":
		if os.Getenv("AWS_REGION") == "" && os.Getenv("AWS_DEFAULT_REGION") == "" {
			return nil, missingCredentials(provider, []string{"AWS_REGION"})
		}
		inner, err = NewBedrock(ctx, model, dims, timeout)
		if err != nil {
			return nil, err
		}

	default:
		return nil, errors.Validation("unknown embedding provider %q (from %q)",
			provider, cfg.EmbeddingModel)
	}

	adapted := NewFixedDimension(inner, dims)
	return NewCached(adapted, DefaultCacheSize)
}

func requireEnv(names ...string) (values []string, missing []string) {
	for _, name := range names {
		v := os.Getenv(name)
		if v == "" {
			missing = append(missing, name)
			continue
		}
		values = append(values, v)
	}
	if len(missing) > 0 {
		return nil, missing
	}
	return values, nil
}

func missingCredentials(provider string, missing []string) error {
	return errors.Validation("embedding provider %q requires environment variables: %s",
		provider, strings.Join(missing, ", "))
}
