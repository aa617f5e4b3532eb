package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storefind/storefind/internal/analytics"
	"github.com/storefind/storefind/internal/cache"
	serrors "github.com/storefind/storefind/internal/errors"
)

// PopularSource serves aggregated query popularity.
type PopularSource interface {
	PopularQueries(ctx context.Context, storeID string, limit int) ([]analytics.PopularQuery, error)
}

// Popular answers "what are people searching for" from the analytics
// aggregates, cached under its own namespace since the underlying table
// changes with every recorded search.
type Popular struct {
	source PopularSource
	flight *cache.FlightCache
}

// NewPopular wraps an aggregate source with caching.
func NewPopular(source PopularSource, flight *cache.FlightCache) *Popular {
	return &Popular{source: source, flight: flight}
}

// Top returns the most-searched queries for a store.
func (p *Popular) Top(ctx context.Context, storeID string, limit int) ([]analytics.PopularQuery, error) {
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	key := fmt.Sprintf("%s/%d", storeID, limit)
	payload, _, err := p.flight.GetOrCompute(ctx, cache.NamespacePopularAggregates, key,
		func() ([]byte, error) {
			queries, err := p.source.PopularQueries(context.WithoutCancel(ctx), storeID, limit)
			if err != nil {
				return nil, err
			}
			return json.Marshal(queries)
		})
	if err != nil {
		return nil, err
	}

	var queries []analytics.PopularQuery
	if err := json.Unmarshal(payload, &queries); err != nil {
		return nil, serrors.New(serrors.ErrCodeEncodingFailed, "decode popular aggregates", err)
	}
	return queries, nil
}
