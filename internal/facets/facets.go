// Package facets aggregates result sets into per-dimension value counts
// for storefront filter UIs.
package facets

import (
	"sort"
	"strconv"

	"github.com/storefind/storefind/internal/catalog"
)

// Count is one facet value with its result count.
type Count struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Facets holds the aggregated dimensions for one result set.
type Facets struct {
	Vendors      []Count            `json:"vendors,omitempty"`
	ProductTypes []Count            `json:"product_types,omitempty"`
	Tags         []Count            `json:"tags,omitempty"`
	Attributes   map[string][]Count `json:"attributes,omitempty"`
	PriceBuckets []Count            `json:"price_buckets,omitempty"`
	StockStatus  []Count            `json:"stock_status,omitempty"`
	Metadata     Metadata           `json:"metadata"`
}

// Metadata summarizes an aggregation.
type Metadata struct {
	// TotalProducts is the number of products aggregated over.
	TotalProducts int `json:"total_products"`
	// FacetCount is the number of non-empty dimensions.
	FacetCount int `json:"facet_count"`
}

// Attribute dimensions surfaced as facets when present on products.
var facetAttributes = []string{"color", "material", "size", "brand", "style", "season"}

// DefaultPriceBuckets are the price range edges used when no override is
// configured. The last bucket is open-ended.
var DefaultPriceBuckets = []float64{25, 50, 100, 250, 500}

// TopK bounds each facet list.
const TopK = 10

// Build aggregates facets over the given products. edges overrides the
// price bucket boundaries; empty means DefaultPriceBuckets.
func Build(products []*catalog.Product, edges []float64) Facets {
	if len(edges) == 0 {
		edges = DefaultPriceBuckets
	}
	vendors := map[string]int{}
	types := map[string]int{}
	tags := map[string]int{}
	stock := map[string]int{}
	attrs := map[string]map[string]int{}
	prices := map[string]int{}

	for _, p := range products {
		if p.Vendor != "" {
			vendors[p.Vendor]++
		}
		if p.ProductType != "" {
			types[p.ProductType]++
		}
		for _, tag := range p.Tags {
			tags[tag]++
		}
		if p.StockStatus != "" {
			stock[string(p.StockStatus)]++
		}
		for _, dim := range facetAttributes {
			if v, ok := p.Attributes[dim]; ok && v != "" {
				if attrs[dim] == nil {
					attrs[dim] = map[string]int{}
				}
				attrs[dim][v]++
			}
		}
		prices[priceBucket(p.Price, edges)]++
	}

	f := Facets{
		Vendors:      topK(vendors),
		ProductTypes: topK(types),
		Tags:         topK(tags),
		StockStatus:  topK(stock),
		PriceBuckets: orderedPriceBuckets(prices, edges),
	}
	if len(attrs) > 0 {
		f.Attributes = make(map[string][]Count, len(attrs))
		for dim, counts := range attrs {
			f.Attributes[dim] = topK(counts)
		}
	}

	f.Metadata.TotalProducts = len(products)
	for _, dim := range [][]Count{f.Vendors, f.ProductTypes, f.Tags, f.StockStatus, f.PriceBuckets} {
		if len(dim) > 0 {
			f.Metadata.FacetCount++
		}
	}
	f.Metadata.FacetCount += len(f.Attributes)
	return f
}

// priceBucket labels a price with its range, e.g. "25-50" or "500+".
func priceBucket(price float64, edges []float64) string {
	lower := 0.0
	for _, edge := range edges {
		if price < edge {
			return formatEdge(lower) + "-" + formatEdge(edge)
		}
		lower = edge
	}
	return formatEdge(edges[len(edges)-1]) + "+"
}

func formatEdge(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// topK sorts counts descending, ties by value ascending, and truncates.
func topK(counts map[string]int) []Count {
	if len(counts) == 0 {
		return nil
	}
	out := make([]Count, 0, len(counts))
	for v, n := range counts {
		out = append(out, Count{Value: v, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > TopK {
		out = out[:TopK]
	}
	return out
}

// orderedPriceBuckets keeps buckets in price order rather than count
// order, dropping empty ones.
func orderedPriceBuckets(counts map[string]int, edges []float64) []Count {
	if len(counts) == 0 {
		return nil
	}
	var out []Count
	lower := 0.0
	for _, edge := range edges {
		label := formatEdge(lower) + "-" + formatEdge(edge)
		if n := counts[label]; n > 0 {
			out = append(out, Count{Value: label, Count: n})
		}
		lower = edge
	}
	open := formatEdge(edges[len(edges)-1]) + "+"
	if n := counts[open]; n > 0 {
		out = append(out, Count{Value: open, Count: n})
	}
	return out
}
