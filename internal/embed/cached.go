package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the query-embedding cache.
const DefaultCacheSize = 512

// cached memoizes query embeddings in an LRU keyed by content hash.
// Repeated searches for the same text skip the provider round trip.
// Document embedding is not cached: ingest texts rarely repeat and
// would evict the useful query entries.
type cached struct {
	Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached wraps inner with a query-embedding LRU of the given size.
func NewCached(inner Embedder, size int) (Embedder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &cached{Embedder: inner, cache: c}, nil
}

func (c *cached) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}

	vec, err := c.Embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.cache.Add(key, stored)
	return vec, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
