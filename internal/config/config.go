// Package config loads process configuration from the environment.
//
// docsmcp is configured exclusively through DOCSMCP_* variables plus the
// provider credential variables consumed by the embedder factory. A local
// .env file is honored for development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the process-wide configuration.
type Config struct {
	// StorePath is the path to the SQLite database file.
	StorePath string `envconfig:"STORE_PATH" default:"~/.docsmcp/docsmcp.db"`

	// EmbeddingModel selects the embedding provider and model as
	// "provider:model", e.g. "openai:text-embedding-3-small".
	// Empty disables embeddings (FTS-only search).
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:""`

	// EmbeddingDimension is the fixed vector dimension for the store.
	EmbeddingDimension int `envconfig:"EMBEDDING_DIMENSION" default:"1536"`

	// Concurrency is the pipeline manager worker pool size.
	Concurrency int `envconfig:"CONCURRENCY" default:"3"`

	// FetchTimeout bounds a single page fetch.
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`

	// EmbedTimeout bounds a single embedding API call.
	EmbedTimeout time.Duration `envconfig:"EMBED_TIMEOUT" default:"30s"`

	// WebAddr is the operator HTTP UI listen address. Empty disables it.
	WebAddr string `envconfig:"WEB_ADDR" default:""`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// LogFile is the log file path. Empty uses the default location.
	LogFile string `envconfig:"LOG_FILE" default:""`
}

// Load reads configuration from the environment, honoring a .env file
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("docsmcp", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return fmt.Errorf("store path must not be empty")
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.EmbeddingDimension)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.EmbeddingModel != "" && !strings.Contains(c.EmbeddingModel, ":") {
		return fmt.Errorf("embedding model %q must be of the form provider:model", c.EmbeddingModel)
	}
	return nil
}

// Provider returns the provider half of the embedding model spec.
func (c *Config) Provider() string {
	provider, _, _ := strings.Cut(c.EmbeddingModel, ":")
	return provider
}

// Model returns the model half of the embedding model spec.
func (c *Config) Model() string {
	_, model, _ := strings.Cut(c.EmbeddingModel, ":")
	return model
}
