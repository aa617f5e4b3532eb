package store

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefind/storefind/internal/catalog"
	serrors "github.com/storefind/storefind/internal/errors"
)

const testDim = 8

func unitVec(axis int) []float32 {
	v := make([]float32, testDim)
	v[axis%testDim] = 1
	return v
}

func testProduct(externalID, title string, price float64) *catalog.Product {
	return &catalog.Product{
		ExternalID:        externalID,
		StoreID:           "store-1",
		Title:             title,
		Price:             price,
		Status:            catalog.StatusActive,
		StockStatus:       catalog.StockInStock,
		CombinedEmbedding: unitVec(int(price)),
	}
}

func newTestCatalog(t *testing.T) *CatalogStore {
	t.Helper()
	s, err := NewCatalogStore(":memory:", testDim, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertKeepsInternalIDStable(t *testing.T) {
	s := newTestCatalog(t)
	ctx := context.Background()

	p := testProduct("ext-1", "leather boots", 120)
	id1, err := s.Upsert(ctx, p)
	require.NoError(t, err)

	p.Title = "dark leather boots"
	id2, err := s.Upsert(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "update must not re-key the product")

	got, err := s.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "dark leather boots", got.Title)
}

func TestUpsertValidates(t *testing.T) {
	s := newTestCatalog(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, &catalog.Product{Title: "no external id"})
	assert.Equal(t, serrors.ErrCodeInvalidInput, serrors.CodeOf(err))

	bad := testProduct("ext-2", "bad vector", 10)
	bad.CombinedEmbedding = make([]float32, testDim+1)
	_, err = s.Upsert(ctx, bad)
	assert.Equal(t, serrors.ErrCodeIntegrity, serrors.CodeOf(err))

	notUnit := testProduct("ext-3", "not unit", 10)
	notUnit.CombinedEmbedding = make([]float32, testDim)
	notUnit.CombinedEmbedding[0] = 2
	_, err = s.Upsert(ctx, notUnit)
	assert.Equal(t, serrors.ErrCodeIntegrity, serrors.CodeOf(err))
}

func TestDeleteReturnsInternalID(t *testing.T) {
	s := newTestCatalog(t)
	ctx := context.Background()

	id, err := s.Upsert(ctx, testProduct("ext-1", "boots", 10))
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, "store-1", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, id, deleted)

	_, err = s.Delete(ctx, "store-1", "ext-1")
	assert.Equal(t, serrors.ErrCodeNotFound, serrors.CodeOf(err))
}

func TestFetchByIDsPushesDownPredicates(t *testing.T) {
	s := newTestCatalog(t)
	ctx := context.Background()

	cheap, err := s.Upsert(ctx, testProduct("ext-1", "cheap boots", 20))
	require.NoError(t, err)
	pricey, err := s.Upsert(ctx, testProduct("ext-2", "pricey boots", 300))
	require.NoError(t, err)

	maxPrice := 100.0
	got, err := s.FetchByIDs(ctx, []int64{cheap, pricey}, catalog.Filter{MaxPrice: &maxPrice})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cheap boots", got[0].Title)
}

func TestFetchByIDsPreservesOrder(t *testing.T) {
	s := newTestCatalog(t)
	ctx := context.Background()

	a, _ := s.Upsert(ctx, testProduct("ext-1", "a", 1))
	b, _ := s.Upsert(ctx, testProduct("ext-2", "b", 2))
	c, _ := s.Upsert(ctx, testProduct("ext-3", "c", 3))

	got, err := s.FetchByIDs(ctx, []int64{c, a, b}, catalog.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{c, a, b},
		[]int64{got[0].InternalID, got[1].InternalID, got[2].InternalID})
}

func TestStoreScopeIncludesGlobalProducts(t *testing.T) {
	s := newTestCatalog(t)
	ctx := context.Background()

	global := testProduct("ext-g", "global boots", 10)
	global.StoreID = ""
	gid, err := s.Upsert(ctx, global)
	require.NoError(t, err)
	sid, err := s.Upsert(ctx, testProduct("ext-s", "scoped boots", 20))
	require.NoError(t, err)

	got, err := s.FetchByIDs(ctx, []int64{gid, sid}, catalog.Filter{StoreID: "store-1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.FetchByIDs(ctx, []int64{gid, sid}, catalog.Filter{StoreID: "store-2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, gid, got[0].InternalID)
}

func TestBulkUpsertIsTransactional(t *testing.T) {
	s := newTestCatalog(t)
	ctx := context.Background()

	err := s.BulkUpsert(ctx, []*catalog.Product{
		testProduct("ext-1", "good", 1),
		{Title: "missing external id"},
	})
	require.Error(t, err)

	n, err := s.Count(ctx, catalog.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "failed batch must leave no rows behind")
}

func TestHNSWSearchOrdersBySimilarity(t *testing.T) {
	idx := NewHNSWIndex(HNSWConfig{Dim: 3})

	require.NoError(t, idx.Add(1, []float32{1, 0, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 1, 0}))
	norm := float32(1 / math.Sqrt2)
	require.NoError(t, idx.Add(3, []float32{norm, norm, 0}))

	hits := idx.Search([]float32{1, 0, 0}, 3)
	require.Len(t, hits, 3)
	assert.Equal(t, int64(1), hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)
	assert.Equal(t, int64(3), hits[1].ID)
	assert.Equal(t, int64(2), hits[2].ID)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Similarity, hits[i].Similarity)
	}
}

func TestHNSWRemoveIsLazyButInvisible(t *testing.T) {
	idx := NewHNSWIndex(HNSWConfig{Dim: 3})
	require.NoError(t, idx.Add(1, []float32{1, 0, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 1, 0}))

	idx.Remove(1)
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, 1, idx.Orphans())

	hits := idx.Search([]float32{1, 0, 0}, 2)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(2), hits[0].ID)
}

func TestHNSWReplaceUpdatesVector(t *testing.T) {
	idx := NewHNSWIndex(HNSWConfig{Dim: 3})
	require.NoError(t, idx.Add(1, []float32{1, 0, 0}))
	require.NoError(t, idx.Add(1, []float32{0, 1, 0}))
	assert.Equal(t, 1, idx.Len())

	hits := idx.Search([]float32{0, 1, 0}, 1)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)
}

func TestHNSWRejectsWrongDimension(t *testing.T) {
	idx := NewHNSWIndex(HNSWConfig{Dim: 3})
	err := idx.Add(1, []float32{1, 0})
	assert.Equal(t, serrors.ErrCodeIntegrity, serrors.CodeOf(err))
}

func TestFTS5SearchFindsTokens(t *testing.T) {
	s := newTestCatalog(t)
	idx, err := NewFTS5Index(s.DB())
	require.NoError(t, err)
	ctx := context.Background()

	boots := testProduct("ext-1", "dark leather boots", 1)
	boots.Tags = []string{"winter", "leather"}
	id1, err := s.Upsert(ctx, boots)
	require.NoError(t, err)
	require.NoError(t, idx.Index(ctx, boots))

	scarf := testProduct("ext-2", "wool scarf", 2)
	_, err = s.Upsert(ctx, scarf)
	require.NoError(t, err)
	require.NoError(t, idx.Index(ctx, scarf))

	hits, err := idx.Search(ctx, "leather boots", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, id1, hits[0].ID)
	for _, h := range hits {
		assert.Greater(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}
}

func TestFTS5DeleteRemovesDocument(t *testing.T) {
	s := newTestCatalog(t)
	idx, err := NewFTS5Index(s.DB())
	require.NoError(t, err)
	ctx := context.Background()

	p := testProduct("ext-1", "suede loafers", 1)
	_, err = s.Upsert(ctx, p)
	require.NoError(t, err)
	require.NoError(t, idx.Index(ctx, p))
	require.NoError(t, idx.Delete(ctx, p.InternalID))

	hits, err := idx.Search(ctx, "loafers", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFTS5IgnoresOperatorInjection(t *testing.T) {
	s := newTestCatalog(t)
	idx, err := NewFTS5Index(s.DB())
	require.NoError(t, err)

	hits, err := idx.Search(context.Background(), `boots" OR rowid:1 NEAR(`, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBleveSearchToleratesTypos(t *testing.T) {
	idx, err := NewBleveIndex(t.TempDir() + "/lexical.bleve")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	ctx := context.Background()

	p := testProduct("ext-1", "leather boots", 1)
	p.InternalID = 42
	require.NoError(t, idx.Index(ctx, p))

	hits, err := idx.Search(ctx, "lether boots", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, int64(42), hits[0].ID)
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3.75}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Nil(t, encodeVector(nil))
	assert.Nil(t, decodeVector(nil))
}
