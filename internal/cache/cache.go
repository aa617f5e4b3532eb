// Package cache provides the TTL result cache backed by BadgerDB, plus a
// singleflight guard so concurrent identical queries hit the backend once.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	serrors "github.com/storefind/storefind/internal/errors"
)

// Namespaces partition cached payloads so each gets its own TTL and can
// be invalidated independently. The key schema is
// storefind/<namespace>/v1/<fingerprint>; bumping the version segment
// invalidates the whole cache across deployments.
const (
	NamespaceSemanticSearch    = "semantic_search"
	NamespaceFuzzySearch       = "fuzzy_search"
	NamespacePopularAggregates = "popular_aggregates"
	NamespaceFacets            = "facets"
)

const keyVersion = "v1"

// TTLs holds the per-namespace lifetimes. Zero values fall back to
// defaults at construction.
type TTLs struct {
	SemanticSearch    time.Duration
	FuzzySearch       time.Duration
	PopularAggregates time.Duration
	Facets            time.Duration
}

// Stats is a snapshot of cache effectiveness counters and key counts.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`

	// TotalKeys counts live entries across all namespaces.
	TotalKeys int `json:"total_keys"`
	// Namespaces counts live entries per namespace.
	Namespaces map[string]int `json:"namespaces,omitempty"`
}

// HitRate returns the hit rate in [0, 1].
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ResultCache stores serialized responses in BadgerDB with native TTL
// expiry. Safe for concurrent use.
type ResultCache struct {
	db     *badger.DB
	ttls   TTLs
	hits   atomic.Uint64
	misses atomic.Uint64
	logger *slog.Logger
}

// Options configures a ResultCache.
type Options struct {
	// Path is the Badger directory. Empty means in-memory, for tests.
	Path   string
	TTLs   TTLs
	Logger *slog.Logger
}

// New opens the result cache.
func New(opts Options) (*ResultCache, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	applyTTLDefaults(&opts.TTLs)

	var badgerOpts badger.Options
	if opts.Path == "" {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(opts.Path)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeCacheUnavailable, "open result cache", err)
	}
	return &ResultCache{db: db, ttls: opts.TTLs, logger: opts.Logger}, nil
}

func applyTTLDefaults(t *TTLs) {
	if t.SemanticSearch <= 0 {
		t.SemanticSearch = 5 * time.Minute
	}
	if t.FuzzySearch <= 0 {
		t.FuzzySearch = 5 * time.Minute
	}
	if t.PopularAggregates <= 0 {
		t.PopularAggregates = time.Hour
	}
	if t.Facets <= 0 {
		t.Facets = 15 * time.Minute
	}
}

func (c *ResultCache) key(namespace, fingerprint string) []byte {
	return []byte(fmt.Sprintf("storefind/%s/%s/%s", namespace, keyVersion, fingerprint))
}

func (c *ResultCache) ttlFor(namespace string) time.Duration {
	switch namespace {
	case NamespaceSemanticSearch:
		return c.ttls.SemanticSearch
	case NamespaceFuzzySearch:
		return c.ttls.FuzzySearch
	case NamespacePopularAggregates:
		return c.ttls.PopularAggregates
	case NamespaceFacets:
		return c.ttls.Facets
	default:
		return 5 * time.Minute
	}
}

// Get returns the cached payload for (namespace, fingerprint), or
// (nil, false) on a miss. Expired entries are misses.
func (c *ResultCache) Get(namespace, fingerprint string) ([]byte, bool) {
	var payload []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(namespace, fingerprint))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("cache_read_failed", slog.String("namespace", namespace), slog.Any("error", err))
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return payload, true
}

// Set stores a payload under the namespace's TTL. Cache write failures
// are logged, never surfaced; the cache is an optimization.
func (c *ResultCache) Set(namespace, fingerprint string, payload []byte) {
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(c.key(namespace, fingerprint), payload).
			WithTTL(c.ttlFor(namespace))
		return txn.SetEntry(entry)
	})
	if err != nil {
		c.logger.Warn("cache_write_failed", slog.String("namespace", namespace), slog.Any("error", err))
	}
}

// Invalidate drops every entry in a namespace. Used when the catalog
// changes underneath cached results.
func (c *ResultCache) Invalidate(namespace string) error {
	prefix := []byte(fmt.Sprintf("storefind/%s/", namespace))
	return c.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats returns hit/miss counters and live key counts per namespace.
// Expired entries still awaiting compaction may be included.
func (c *ResultCache) Stats() Stats {
	stats := Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Namespaces: make(map[string]int),
	}
	for _, ns := range []string{
		NamespaceSemanticSearch,
		NamespaceFuzzySearch,
		NamespacePopularAggregates,
		NamespaceFacets,
	} {
		stats.Namespaces[ns] = c.countKeys(ns)
		stats.TotalKeys += stats.Namespaces[ns]
	}
	return stats
}

func (c *ResultCache) countKeys(namespace string) int {
	count := 0
	_ = c.db.View(func(txn *badger.Txn) error {
		opts := badger.IteratorOptions{Prefix: []byte(fmt.Sprintf("storefind/%s/", namespace))}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count
}

// Close closes the underlying database.
func (c *ResultCache) Close() error {
	return c.db.Close()
}
