package cache

import (
	"context"

	"golang.org/x/sync/singleflight"

	serrors "github.com/storefind/storefind/internal/errors"
)

// FlightCache layers a singleflight guard over the result cache:
// concurrent identical requests share one computation, and its result
// lands in the cache exactly once.
type FlightCache struct {
	cache *ResultCache
	group singleflight.Group
}

// NewFlightCache wraps a result cache with stampede protection.
func NewFlightCache(cache *ResultCache) *FlightCache {
	return &FlightCache{cache: cache}
}

// GetOrCompute returns the cached payload for (namespace, fingerprint),
// or runs compute under singleflight and caches the result. The second
// return reports whether the payload came from the cache.
//
// A cancelled caller detaches without aborting the shared computation,
// so waiting peers still get their result.
func (f *FlightCache) GetOrCompute(ctx context.Context, namespace, fingerprint string,
	compute func() ([]byte, error)) ([]byte, bool, error) {

	if payload, ok := f.cache.Get(namespace, fingerprint); ok {
		return payload, true, nil
	}

	key := namespace + "/" + fingerprint
	ch := f.group.DoChan(key, func() (any, error) {
		payload, err := compute()
		if err != nil {
			return nil, err
		}
		f.cache.Set(namespace, fingerprint, payload)
		return payload, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, serrors.Cancelled()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]byte), false, nil
	}
}

// GetOrComputeIn is GetOrCompute for payloads whose namespace depends on
// how they were produced: lookups scan namespaces in order, and the
// computation returns the namespace its payload belongs in.
func (f *FlightCache) GetOrComputeIn(ctx context.Context, fingerprint string, namespaces []string,
	compute func() (string, []byte, error)) ([]byte, string, bool, error) {

	for _, ns := range namespaces {
		if payload, ok := f.cache.Get(ns, fingerprint); ok {
			return payload, ns, true, nil
		}
	}

	type flightResult struct {
		namespace string
		payload   []byte
	}
	ch := f.group.DoChan(fingerprint, func() (any, error) {
		ns, payload, err := compute()
		if err != nil {
			return nil, err
		}
		f.cache.Set(ns, fingerprint, payload)
		return flightResult{namespace: ns, payload: payload}, nil
	})

	select {
	case <-ctx.Done():
		return nil, "", false, serrors.Cancelled()
	case res := <-ch:
		if res.Err != nil {
			return nil, "", false, res.Err
		}
		fr := res.Val.(flightResult)
		return fr.payload, fr.namespace, false, nil
	}
}

// Stats exposes the underlying cache counters.
func (f *FlightCache) Stats() Stats {
	return f.cache.Stats()
}
