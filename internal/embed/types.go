// Package embed produces fixed-dimension unit-norm embeddings for product
// text and images. The concrete provider sits behind the Embedder interface
// so callers never depend on the transport.
package embed

import "context"

// Embedder generates vector embeddings for text and images.
// All returned vectors have exactly Dimensions() elements and unit L2 norm.
type Embedder interface {
	// Embed generates an embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedImage generates an embedding for raw image bytes.
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the text model identifier.
	ModelName() string

	// Available reports whether the provider is reachable.
	Available(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// CacheStats reports embedding cache effectiveness.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// HitRate returns the cache hit rate in [0, 1].
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
