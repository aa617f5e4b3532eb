package catalog

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Run("scales to unit length", func(t *testing.T) {
		v := Normalize([]float32{3, 4})
		assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
		assert.InDelta(t, 0.8, float64(v[1]), 1e-6)
		assert.InDelta(t, 1.0, Norm(v), UnitNormTolerance)
	})

	t.Run("zero vector unchanged", func(t *testing.T) {
		v := Normalize([]float32{0, 0, 0})
		assert.Equal(t, []float32{0, 0, 0}, v)
	})
}

func TestCombine(t *testing.T) {
	text := Normalize([]float32{1, 0, 0, 0})
	image := Normalize([]float32{0, 1, 0, 0})

	t.Run("nil image yields text vector", func(t *testing.T) {
		combined, err := Combine(text, nil, 0.7)
		require.NoError(t, err)
		assert.Equal(t, text, combined)
	})

	t.Run("convex combination is unit norm", func(t *testing.T) {
		combined, err := Combine(text, image, 0.7)
		require.NoError(t, err)
		require.NoError(t, CheckUnitNorm(combined))
		// Text axis should dominate at 0.7 weight.
		assert.Greater(t, combined[0], combined[1])
	})

	t.Run("dimension mismatch rejected", func(t *testing.T) {
		_, err := Combine(text, []float32{1, 0}, 0.5)
		require.Error(t, err)
	})

	t.Run("weight outside unit interval rejected", func(t *testing.T) {
		_, err := Combine(text, image, 1.5)
		require.Error(t, err)
	})
}

func TestDot(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{math.Sqrt2 / 2, math.Sqrt2 / 2}
	assert.InDelta(t, math.Sqrt2/2, Dot(a, b), 1e-6)
	assert.InDelta(t, 1.0, Dot(a, a), 1e-6)
}

func TestNormalizeTags(t *testing.T) {
	p := &Product{Tags: []string{"Leather", " boots ", "leather", "", "Boots"}}
	p.NormalizeTags()
	assert.Equal(t, []string{"leather", "boots"}, p.Tags)
}

func TestFilterMatches(t *testing.T) {
	price := func(v float64) *float64 { return &v }
	p := &Product{
		StoreID:     "store-1",
		Price:       49.99,
		Status:      StatusActive,
		StockStatus: StockInStock,
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter matches", Filter{}, true},
		{"store match", Filter{StoreID: "store-1"}, true},
		{"store mismatch", Filter{StoreID: "store-2"}, false},
		{"price in range", Filter{MinPrice: price(10), MaxPrice: price(50)}, true},
		{"price below min", Filter{MinPrice: price(60)}, false},
		{"price above max", Filter{MaxPrice: price(40)}, false},
		{"status mismatch", Filter{Status: StatusArchived}, false},
		{"stock match", Filter{StockStatus: StockInStock}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(p))
		})
	}

	t.Run("global product matches any store scope", func(t *testing.T) {
		global := &Product{Price: 5, Status: StatusActive}
		assert.True(t, Filter{StoreID: "store-9"}.Matches(global))
	})
}

func TestFilterCanonical(t *testing.T) {
	price := func(v float64) *float64 { return &v }
	a := Filter{StoreID: "s", MinPrice: price(1), MaxPrice: price(9.5)}
	b := Filter{MaxPrice: price(9.5), MinPrice: price(1), StoreID: "s"}
	assert.Equal(t, a.Canonical(), b.Canonical())
	assert.Empty(t, Filter{}.Canonical())
}
