// Package search orchestrates the full query pipeline: validation,
// admission, caching, embedding, vector retrieval, fuzzy fallback,
// adaptive rescue, facets, and analytics write-behind.
package search

import (
	"time"

	"github.com/storefind/storefind/internal/catalog"
	"github.com/storefind/storefind/internal/facets"
)

// Search types. Semantic embeds the query text, image embeds the image
// the query URL points at, fuzzy goes straight to the lexical index.
const (
	SearchTypeSemantic = "semantic"
	SearchTypeFuzzy    = "fuzzy"
	SearchTypeImage    = "image"
)

// Request is one search call.
type Request struct {
	// Query is the raw user query. Validated and normalized before use.
	// Optional for image searches, where it only feeds the fuzzy
	// fallback.
	Query string `json:"query"`

	// SearchType selects the retrieval path. Empty means semantic.
	SearchType string `json:"search_type,omitempty"`

	// ImageURL is the image to search by. Required for image searches.
	ImageURL string `json:"image_url,omitempty"`

	// StoreID scopes results. Empty searches the global catalog.
	StoreID string `json:"store_id,omitempty"`

	// Caller identifies the client for inbound rate limiting, typically
	// an API key id or an anonymized address.
	Caller string `json:"-"`

	// Page is 1-based. Zero means page 1.
	Page int `json:"page,omitempty"`
	// PageSize is bounded by the configured maximum. Zero means default.
	PageSize int `json:"page_size,omitempty"`

	MinPrice    *float64 `json:"min_price,omitempty"`
	MaxPrice    *float64 `json:"max_price,omitempty"`
	InStockOnly bool     `json:"in_stock_only,omitempty"`

	// Attributes holds exact-match constraints, e.g. color=black.
	Attributes map[string]string `json:"attributes,omitempty"`

	// SimilarityThreshold overrides the configured default when > 0.
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	// ClientIP is anonymized before any event leaves the request path.
	ClientIP string `json:"-"`
	// UserAgent is sanitized before any event leaves the request path.
	UserAgent string `json:"-"`
}

// Filter derives the catalog filter from the request.
func (r *Request) Filter() catalog.Filter {
	f := catalog.Filter{
		StoreID:  r.StoreID,
		MinPrice: r.MinPrice,
		MaxPrice: r.MaxPrice,
		Status:   catalog.StatusActive,
	}
	if r.InStockOnly {
		f.StockStatus = catalog.StockInStock
	}
	if len(r.Attributes) > 0 {
		f.Attributes = r.Attributes
	}
	return f
}

// Result is one product in a response.
type Result struct {
	ExternalID  string   `json:"id"`
	InternalID  int64    `json:"internal_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Vendor      string   `json:"vendor,omitempty"`
	ProductType string   `json:"product_type,omitempty"`
	Price       float64  `json:"price"`
	Tags        []string `json:"tags,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	Similarity  float64  `json:"similarity"`
	SearchType  string   `json:"search_type"`
}

// Filters echoes the constraints the result set was produced under,
// including the resolved similarity threshold.
type Filters struct {
	MinPrice            *float64 `json:"min_price,omitempty"`
	MaxPrice            *float64 `json:"max_price,omitempty"`
	StoreScope          string   `json:"store_scope,omitempty"`
	SimilarityThreshold float64  `json:"similarity_threshold"`
}

// Pagination describes the response window.
type Pagination struct {
	Page         int `json:"page"`
	PageSize     int `json:"page_size"`
	TotalResults int `json:"total_results"`
	TotalPages   int `json:"total_pages"`
}

// Metadata describes how the response was produced. CacheHit and
// Duration are set per call and excluded from the cached payload, so a
// hit returns byte-identical result data.
type Metadata struct {
	Query        string   `json:"query"`
	SearchType   string   `json:"search_type"`
	Intent       string   `json:"intent,omitempty"`
	Difficulty   string   `json:"difficulty,omitempty"`
	FallbackUsed bool     `json:"fallback_used,omitempty"`
	Strategies   []string `json:"strategies,omitempty"`
	ResultCount  int      `json:"result_count"`
	Fingerprint  string   `json:"fingerprint"`

	CacheHit bool          `json:"-"`
	Duration time.Duration `json:"-"`
}

// Response is the assembled search result.
type Response struct {
	Results    []Result       `json:"results"`
	Pagination Pagination     `json:"pagination"`
	Filters    Filters        `json:"filters"`
	Facets     *facets.Facets `json:"facets,omitempty"`
	Metadata   Metadata       `json:"metadata"`
}
