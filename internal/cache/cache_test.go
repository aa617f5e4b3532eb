package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/storefind/storefind/internal/errors"
)

func newTestCache(t *testing.T, ttls TTLs) *ResultCache {
	t.Helper()
	c, err := New(Options{TTLs: ttls})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheRoundTrip(t *testing.T) {
	c := newTestCache(t, TTLs{})

	_, ok := c.Get(NamespaceSemanticSearch, "fp-1")
	assert.False(t, ok)

	c.Set(NamespaceSemanticSearch, "fp-1", []byte(`{"results":[]}`))
	payload, ok := c.Get(NamespaceSemanticSearch, "fp-1")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"results":[]}`), payload)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.TotalKeys)
	assert.Equal(t, 1, stats.Namespaces[NamespaceSemanticSearch])
	assert.Equal(t, 0, stats.Namespaces[NamespaceFuzzySearch])
}

func TestCacheNamespacesAreIsolated(t *testing.T) {
	c := newTestCache(t, TTLs{})
	c.Set(NamespaceSemanticSearch, "fp-1", []byte("semantic"))
	c.Set(NamespaceFuzzySearch, "fp-1", []byte("fuzzy"))

	got, ok := c.Get(NamespaceFuzzySearch, "fp-1")
	require.True(t, ok)
	assert.Equal(t, []byte("fuzzy"), got)
}

func TestCacheExpires(t *testing.T) {
	c := newTestCache(t, TTLs{SemanticSearch: 50 * time.Millisecond})
	c.Set(NamespaceSemanticSearch, "fp-1", []byte("payload"))

	_, ok := c.Get(NamespaceSemanticSearch, "fp-1")
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get(NamespaceSemanticSearch, "fp-1")
	assert.False(t, ok, "expired entries must read as misses")
}

func TestInvalidateDropsNamespaceOnly(t *testing.T) {
	c := newTestCache(t, TTLs{})
	c.Set(NamespaceSemanticSearch, "fp-1", []byte("a"))
	c.Set(NamespaceSemanticSearch, "fp-2", []byte("b"))
	c.Set(NamespaceFacets, "fp-1", []byte("c"))

	require.NoError(t, c.Invalidate(NamespaceSemanticSearch))

	_, ok := c.Get(NamespaceSemanticSearch, "fp-1")
	assert.False(t, ok)
	_, ok = c.Get(NamespaceSemanticSearch, "fp-2")
	assert.False(t, ok)
	_, ok = c.Get(NamespaceFacets, "fp-1")
	assert.True(t, ok)
}

func TestFlightCollapsesConcurrentComputes(t *testing.T) {
	f := NewFlightCache(newTestCache(t, TTLs{}))

	var computes atomic.Int64
	release := make(chan struct{})
	compute := func() ([]byte, error) {
		computes.Add(1)
		<-release
		return []byte("shared"), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload, _, err := f.GetOrCompute(context.Background(), NamespaceSemanticSearch, "fp-1", compute)
			require.NoError(t, err)
			results[i] = payload
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), computes.Load(), "identical in-flight queries must share one computation")
	for _, r := range results {
		assert.Equal(t, []byte("shared"), r)
	}
}

func TestFlightCancelledCallerDoesNotAbortPeers(t *testing.T) {
	f := NewFlightCache(newTestCache(t, TTLs{}))

	release := make(chan struct{})
	compute := func() ([]byte, error) {
		<-release
		return []byte("done"), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancelledErr := make(chan error, 1)
	go func() {
		_, _, err := f.GetOrCompute(ctx, NamespaceSemanticSearch, "fp-1", compute)
		cancelledErr <- err
	}()

	peerResult := make(chan []byte, 1)
	go func() {
		payload, _, err := f.GetOrCompute(context.Background(), NamespaceSemanticSearch, "fp-1", compute)
		require.NoError(t, err)
		peerResult <- payload
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	require.True(t, serrors.IsCancelled(<-cancelledErr))

	close(release)
	assert.Equal(t, []byte("done"), <-peerResult, "peer must still receive the shared result")
}

func TestFlightServesCacheHitWithoutCompute(t *testing.T) {
	f := NewFlightCache(newTestCache(t, TTLs{}))
	f.cache.Set(NamespaceSemanticSearch, "fp-1", []byte("cached"))

	payload, fromCache, err := f.GetOrCompute(context.Background(), NamespaceSemanticSearch, "fp-1",
		func() ([]byte, error) {
			t.Fatal("compute must not run on a cache hit")
			return nil, nil
		})
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, []byte("cached"), payload)
}
