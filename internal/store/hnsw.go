package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/storefind/storefind/internal/catalog"
	serrors "github.com/storefind/storefind/internal/errors"
)

// HNSWIndex is an in-memory HNSW graph over combined embeddings.
// Removal is lazy: the graph node stays but loses its id mapping, which
// sidesteps coder/hnsw graph corruption when deleting the last node.
// Searches over-fetch to compensate for orphaned nodes.
type HNSWIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	dim     int
	idMap   map[int64]uint64
	keyMap  map[uint64]int64
	nextKey uint64
}

// HNSWConfig tunes the graph. Zero values take library defaults.
type HNSWConfig struct {
	Dim      int
	M        int
	EfSearch int
}

// NewHNSWIndex creates an empty index using cosine distance.
func NewHNSWIndex(cfg HNSWConfig) *HNSWIndex {
	if cfg.Dim <= 0 {
		cfg.Dim = catalog.EmbeddingDimensions
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 40
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWIndex{
		graph:  graph,
		dim:    cfg.Dim,
		idMap:  make(map[int64]uint64),
		keyMap: make(map[uint64]int64),
	}
}

// Add inserts or replaces the vector for a product. Vectors must already
// be unit norm.
func (h *HNSWIndex) Add(id int64, vec []float32) error {
	if len(vec) != h.dim {
		return serrors.Integrity(fmt.Sprintf(
			"vector has dimension %d, index requires %d", len(vec), h.dim), nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Replacing a product orphans its old graph node.
	if oldKey, ok := h.idMap[id]; ok {
		delete(h.keyMap, oldKey)
	}

	key := h.nextKey
	h.nextKey++

	stored := make([]float32, len(vec))
	copy(stored, vec)
	h.graph.Add(hnsw.MakeNode(key, stored))

	h.idMap[id] = key
	h.keyMap[key] = id
	return nil
}

// Remove lazily deletes a product's vector.
func (h *HNSWIndex) Remove(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if key, ok := h.idMap[id]; ok {
		delete(h.keyMap, key)
		delete(h.idMap, id)
	}
}

// Search returns up to k nearest neighbors ordered by similarity
// descending, ties broken by ascending id.
func (h *HNSWIndex) Search(vec []float32, k int) []VectorHit {
	if k <= 0 || len(vec) != h.dim {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.idMap) == 0 {
		return nil
	}

	query := catalog.Normalize(vec)

	// Over-fetch so orphaned nodes do not shrink the page.
	fetch := k + (h.graph.Len() - len(h.idMap))
	nodes := h.graph.Search(query, fetch)

	hits := make([]VectorHit, 0, k)
	for _, node := range nodes {
		id, ok := h.keyMap[node.Key]
		if !ok {
			continue
		}
		hits = append(hits, VectorHit{
			ID:         id,
			Similarity: catalog.Dot(query, node.Value),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Len returns the number of live vectors.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idMap)
}

// Orphans returns the count of lazily deleted graph nodes, for
// compaction decisions.
func (h *HNSWIndex) Orphans() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph.Len() - len(h.idMap)
}
