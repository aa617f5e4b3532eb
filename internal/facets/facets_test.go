package facets

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefind/storefind/internal/catalog"
)

func product(vendor string, price float64, tags []string, attrs map[string]string) *catalog.Product {
	return &catalog.Product{
		Vendor:      vendor,
		ProductType: "boots",
		Price:       price,
		Tags:        tags,
		Attributes:  attrs,
		StockStatus: catalog.StockInStock,
	}
}

func TestBuildCountsDimensions(t *testing.T) {
	f := Build([]*catalog.Product{
		product("acme", 30, []string{"winter", "leather"}, map[string]string{"color": "black"}),
		product("acme", 45, []string{"winter"}, map[string]string{"color": "black"}),
		product("zenith", 200, []string{"summer"}, map[string]string{"color": "brown"}),
	}, nil)

	require.Len(t, f.Vendors, 2)
	assert.Equal(t, Count{Value: "acme", Count: 2}, f.Vendors[0])

	require.Contains(t, f.Attributes, "color")
	assert.Equal(t, Count{Value: "black", Count: 2}, f.Attributes["color"][0])

	assert.Equal(t, []Count{
		{Value: "25-50", Count: 2},
		{Value: "100-250", Count: 1},
	}, f.PriceBuckets)

	assert.Equal(t, 3, f.Metadata.TotalProducts)
	// vendors, product types, tags, stock, price buckets, color.
	assert.Equal(t, 6, f.Metadata.FacetCount)
}

func TestTopKTiesBreakByValue(t *testing.T) {
	counts := map[string]int{"zeta": 2, "alpha": 2, "mid": 5}
	got := topK(counts)
	assert.Equal(t, []Count{
		{Value: "mid", Count: 5},
		{Value: "alpha", Count: 2},
		{Value: "zeta", Count: 2},
	}, got)
}

func TestTopKTruncates(t *testing.T) {
	counts := map[string]int{}
	for i := 0; i < 25; i++ {
		counts[fmt.Sprintf("tag-%02d", i)] = i + 1
	}
	got := topK(counts)
	assert.Len(t, got, TopK)
	assert.Equal(t, 25, got[0].Count)
}

func TestPriceBucketLabels(t *testing.T) {
	tests := []struct {
		price float64
		want  string
	}{
		{0, "0-25"},
		{24.99, "0-25"},
		{25, "25-50"},
		{99, "50-100"},
		{250, "250-500"},
		{1200, "500+"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, priceBucket(tt.price, DefaultPriceBuckets), "price %v", tt.price)
	}
}

func TestBuildCustomPriceBuckets(t *testing.T) {
	f := Build([]*catalog.Product{
		product("acme", 8, nil, nil),
		product("acme", 30, nil, nil),
		product("zenith", 90, nil, nil),
	}, []float64{10, 50})

	assert.Equal(t, []Count{
		{Value: "0-10", Count: 1},
		{Value: "10-50", Count: 1},
		{Value: "50+", Count: 1},
	}, f.PriceBuckets)
}

func TestBuildEmptyInput(t *testing.T) {
	f := Build(nil, nil)
	assert.Empty(t, f.Vendors)
	assert.Empty(t, f.PriceBuckets)
	assert.Nil(t, f.Attributes)
	assert.Zero(t, f.Metadata.TotalProducts)
	assert.Zero(t, f.Metadata.FacetCount)
}
