// Package catalog defines the product data model shared across the search
// service. It contains plain value types only; persistence lives in
// internal/store and depends on this package, never the other way around.
package catalog

import (
	"sort"
	"strings"
	"time"
)

// EmbeddingDimensions is the dimensionality of all product vectors.
// The embedding provider, the vector index, and the persisted columns
// must agree on this value; a mismatch is an integrity error.
const EmbeddingDimensions = 1536

// StockStatus represents product availability.
type StockStatus string

const (
	StockInStock    StockStatus = "in_stock"
	StockOutOfStock StockStatus = "out_of_stock"
	StockPreorder   StockStatus = "preorder"
)

// ProductStatus represents the catalog lifecycle state of a product.
type ProductStatus string

const (
	StatusActive   ProductStatus = "active"
	StatusDraft    ProductStatus = "draft"
	StatusArchived ProductStatus = "archived"
)

// Product is the searchable unit. Rows are created by the ingestion
// pipeline; the search core reads them and recomputes embeddings.
type Product struct {
	// ExternalID is the storefront catalog id (unique).
	ExternalID string `json:"external_id"`

	// InternalID is the monotonic numeric id assigned by the store.
	// Zero until the product has been persisted.
	InternalID int64 `json:"internal_id,omitempty"`

	// StoreID scopes the product to a store. Empty means global.
	StoreID string `json:"store_id,omitempty"`

	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Vendor         string   `json:"vendor,omitempty"`
	ProductType    string   `json:"product_type,omitempty"`
	Price          float64  `json:"price"`
	Tags           []string `json:"tags,omitempty"`
	SEOTitle       string   `json:"seo_title,omitempty"`
	SEODescription string   `json:"seo_description,omitempty"`

	// Attributes holds sizes, colors, materials, weight, dimensions and
	// other small values keyed by attribute name.
	Attributes map[string]string `json:"attributes,omitempty"`

	StockStatus StockStatus   `json:"stock_status,omitempty"`
	SKU         string        `json:"sku,omitempty"`
	Barcode     string        `json:"barcode,omitempty"`
	Status      ProductStatus `json:"status,omitempty"`
	ImageURL    string        `json:"image_url,omitempty"`

	// TextEmbedding and ImageEmbedding are unit-normalized vectors of
	// EmbeddingDimensions. ImageEmbedding may be nil. Vectors are
	// derived, never accepted over the wire.
	TextEmbedding  []float32 `json:"-"`
	ImageEmbedding []float32 `json:"-"`

	// CombinedEmbedding is the category-weighted convex combination of
	// text and image vectors, re-normalized. This is the retrieval vector.
	// When ImageEmbedding is nil, it equals TextEmbedding.
	CombinedEmbedding []float32 `json:"-"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// NormalizeTags lowercases, trims, and deduplicates the tag set in place,
// preserving first-seen order.
func (p *Product) NormalizeTags() {
	seen := make(map[string]struct{}, len(p.Tags))
	out := p.Tags[:0]
	for _, t := range p.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	p.Tags = out
}

// Filter restricts a catalog search. Nil price bounds mean an open end.
type Filter struct {
	// StoreID restricts results to one store scope. Empty means no scope
	// filter (both global and store-scoped rows match).
	StoreID string

	// MinPrice and MaxPrice form a closed interval. Nil means unbounded.
	MinPrice *float64
	MaxPrice *float64

	// Status restricts by product status. Empty means any.
	Status ProductStatus

	// StockStatus restricts by availability. Empty means any.
	StockStatus StockStatus

	// Attributes holds exact-match attribute constraints, e.g.
	// color=black. Nil means no attribute constraints.
	Attributes map[string]string
}

// IsZero reports whether the filter imposes no restrictions.
func (f Filter) IsZero() bool {
	return f.StoreID == "" && f.MinPrice == nil && f.MaxPrice == nil &&
		f.Status == "" && f.StockStatus == "" && len(f.Attributes) == 0
}

// Matches reports whether a product satisfies every predicate in the filter.
func (f Filter) Matches(p *Product) bool {
	if f.StoreID != "" && p.StoreID != "" && p.StoreID != f.StoreID {
		return false
	}
	if f.MinPrice != nil && p.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && p.Price > *f.MaxPrice {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.StockStatus != "" && p.StockStatus != f.StockStatus {
		return false
	}
	for k, want := range f.Attributes {
		if !strings.EqualFold(p.Attributes[k], want) {
			return false
		}
	}
	return true
}

// Canonical returns the filter as a sorted key=value list suitable for
// fingerprinting. Two logically equal filters canonicalize identically.
func (f Filter) Canonical() []string {
	var parts []string
	if f.StoreID != "" {
		parts = append(parts, "store="+f.StoreID)
	}
	if f.MinPrice != nil {
		parts = append(parts, "min_price="+formatPrice(*f.MinPrice))
	}
	if f.MaxPrice != nil {
		parts = append(parts, "max_price="+formatPrice(*f.MaxPrice))
	}
	if f.Status != "" {
		parts = append(parts, "status="+string(f.Status))
	}
	if f.StockStatus != "" {
		parts = append(parts, "stock="+string(f.StockStatus))
	}
	for k, v := range f.Attributes {
		parts = append(parts, "attr:"+strings.ToLower(k)+"="+strings.ToLower(v))
	}
	sort.Strings(parts)
	return parts
}

// Clone returns a deep copy the caller can mutate without aliasing.
func (f Filter) Clone() Filter {
	out := f
	if f.MinPrice != nil {
		v := *f.MinPrice
		out.MinPrice = &v
	}
	if f.MaxPrice != nil {
		v := *f.MaxPrice
		out.MaxPrice = &v
	}
	if f.Attributes != nil {
		out.Attributes = make(map[string]string, len(f.Attributes))
		for k, v := range f.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// Hit is a product with its retrieval similarity.
type Hit struct {
	Product    *Product
	Similarity float64
}
