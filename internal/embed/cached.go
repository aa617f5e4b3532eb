package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder wraps an Embedder with an in-process LRU cache.
// Keys hash the input together with the model name, so a model change
// never serves stale vectors.
type CachedEmbedder struct {
	embedder Embedder
	cache    *lru.Cache[string, []float32]
	hits     atomic.Uint64
	misses   atomic.Uint64
	logger   *slog.Logger
}

// NewCachedEmbedder wraps the given embedder with an LRU cache of the
// given capacity.
func NewCachedEmbedder(embedder Embedder, capacity int, logger *slog.Logger) (*CachedEmbedder, error) {
	if capacity <= 0 {
		capacity = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{
		embedder: embedder,
		cache:    cache,
		logger:   logger,
	}, nil
}

// Embed returns a cached embedding when available, otherwise delegates.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey("text", []byte(text))
	if vec, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return vec, nil
	}
	c.misses.Add(1)

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedImage returns a cached image embedding when available.
func (c *CachedEmbedder) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	key := c.cacheKey("image", image)
	if vec, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return vec, nil
	}
	c.misses.Add(1)

	vec, err := c.embedder.EmbedImage(ctx, image)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// cacheKey derives a stable key from kind, model, and content.
func (c *CachedEmbedder) cacheKey(kind string, content []byte) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(c.embedder.ModelName()))
	h.Write([]byte{0})
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// Dimensions returns the wrapped embedder's dimension.
func (c *CachedEmbedder) Dimensions() int { return c.embedder.Dimensions() }

// ModelName returns the wrapped embedder's model name.
func (c *CachedEmbedder) ModelName() string { return c.embedder.ModelName() }

// Available delegates to the wrapped embedder.
func (c *CachedEmbedder) Available(ctx context.Context) error {
	return c.embedder.Available(ctx)
}

// Close logs final cache stats and closes the wrapped embedder.
func (c *CachedEmbedder) Close() error {
	stats := c.Stats()
	c.logger.Debug("embedding_cache_closed",
		slog.Uint64("hits", stats.Hits),
		slog.Uint64("misses", stats.Misses),
		slog.Int("size", stats.Size))
	return c.embedder.Close()
}

// Stats returns a snapshot of cache effectiveness counters.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.cache.Len(),
	}
}
