// Package store persists the product catalog and maintains the retrieval
// indexes: an HNSW graph over combined embeddings for semantic search and
// a lexical index (FTS5 or bleve) for the fuzzy fallback path.
package store

import (
	"context"

	"github.com/storefind/storefind/internal/catalog"
)

// VectorHit is one nearest-neighbor match from the vector index.
type VectorHit struct {
	// ID is the product's internal identifier.
	ID int64
	// Similarity is the cosine similarity in [-1, 1].
	Similarity float64
}

// VectorIndex is an approximate nearest-neighbor index over combined
// product embeddings. Implementations must be safe for concurrent use.
type VectorIndex interface {
	// Add inserts or replaces the vector for a product.
	Add(id int64, vec []float32) error

	// Remove deletes a product's vector. Unknown ids are a no-op.
	Remove(id int64)

	// Search returns up to k nearest neighbors ordered by similarity
	// descending, ties broken by ascending id.
	Search(vec []float32, k int) []VectorHit

	// Len returns the number of indexed vectors.
	Len() int
}

// LexicalHit is one match from the lexical index.
type LexicalHit struct {
	ID    int64
	Score float64
}

// LexicalIndex is the fuzzy-fallback text index over product titles,
// descriptions, and tags.
type LexicalIndex interface {
	// Index adds or replaces a product document.
	Index(ctx context.Context, p *catalog.Product) error

	// Delete removes a product document. Unknown ids are a no-op.
	Delete(ctx context.Context, id int64) error

	// Search returns up to limit matches ordered by score descending.
	// Scores are normalized to (0, 1].
	Search(ctx context.Context, query string, limit int) ([]LexicalHit, error)

	// Close releases index resources.
	Close() error
}
