package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1536, cfg.EmbeddingDimension)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DOCSMCP_EMBEDDING_MODEL", "openai:text-embedding-3-small")
	t.Setenv("DOCSMCP_CONCURRENCY", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Provider())
	assert.Equal(t, "text-embedding-3-small", cfg.Model())
	assert.Equal(t, 5, cfg.Concurrency)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad model spec", func(c *Config) { c.EmbeddingModel = "openai" }, "provider:model"},
		{"zero dimension", func(c *Config) { c.EmbeddingDimension = 0 }, "dimension"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"empty store path", func(c *Config) { c.StorePath = "" }, "store path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
