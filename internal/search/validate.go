package search

import (
	"fmt"
	"strings"
	"unicode"

	serrors "github.com/storefind/storefind/internal/errors"
)

// normalizeQuery trims, collapses internal whitespace, and lowercases.
func normalizeQuery(q string) string {
	fields := strings.Fields(q)
	return strings.ToLower(strings.Join(fields, " "))
}

// validate normalizes the request in place and rejects malformed input.
// Runs before admission so garbage never consumes rate budget.
func (s *Service) validate(req *Request) error {
	switch req.SearchType {
	case "":
		req.SearchType = SearchTypeSemantic
	case SearchTypeSemantic, SearchTypeFuzzy, SearchTypeImage:
	default:
		return serrors.InvalidInput("unknown search type: " + req.SearchType)
	}

	req.Query = normalizeQuery(req.Query)
	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if req.SearchType == SearchTypeImage {
		if req.ImageURL == "" {
			return serrors.InvalidInput("image search requires image_url")
		}
	} else if req.Query == "" {
		return serrors.New(serrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	if len(req.Query) > s.maxQueryLength {
		return serrors.New(serrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query exceeds %d characters", s.maxQueryLength), nil)
	}
	for _, r := range req.Query {
		if unicode.IsControl(r) {
			return serrors.InvalidInput("query contains control characters")
		}
	}

	if req.MinPrice != nil && *req.MinPrice < 0 {
		return serrors.New(serrors.ErrCodePriceRange, "min price must not be negative", nil)
	}
	if req.MaxPrice != nil && *req.MaxPrice < 0 {
		return serrors.New(serrors.ErrCodePriceRange, "max price must not be negative", nil)
	}
	if req.MinPrice != nil && req.MaxPrice != nil && *req.MinPrice > *req.MaxPrice {
		return serrors.New(serrors.ErrCodePriceRange, "price range is inverted", nil)
	}

	if req.SimilarityThreshold < 0 || req.SimilarityThreshold > 1 {
		return serrors.InvalidInput("similarity threshold outside [0,1]")
	}

	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 {
		req.PageSize = s.defaultPageSize
	}
	if req.PageSize > s.maxPageSize {
		req.PageSize = s.maxPageSize
	}
	return nil
}
