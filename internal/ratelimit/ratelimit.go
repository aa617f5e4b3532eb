// Package ratelimit provides the two admission controls: a token bucket
// for outbound embedding-provider calls and a sliding-window limiter for
// inbound search requests.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	serrors "github.com/storefind/storefind/internal/errors"
)

// NewOutboundLimiter builds the token bucket that throttles calls to the
// embedding provider.
func NewOutboundLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		rps = 20
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// SlidingWindow limits inbound requests per caller over a rolling window.
// Each caller keeps the timestamps of its recent requests; stamps older
// than the window are pruned on every check.
type SlidingWindow struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	requests map[string][]int64
	now      func() time.Time
}

// NewSlidingWindow creates a limiter allowing limit requests per window
// per caller.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		limit:    limit,
		window:   window,
		requests: make(map[string][]int64),
		now:      time.Now,
	}
}

// Allow admits or rejects one request for the caller. Rejections return
// a throttled error carrying the wait until the oldest stamp leaves the
// window.
func (s *SlidingWindow) Allow(caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMs := s.now().UnixMilli()
	cutoff := nowMs - s.window.Milliseconds()

	stamps := s.requests[caller]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= s.limit {
		s.requests[caller] = kept
		retryAfter := time.Duration(kept[0]-cutoff) * time.Millisecond
		return serrors.Throttled(retryAfter)
	}

	s.requests[caller] = append(kept, nowMs)
	return nil
}

// Remaining reports how many requests the caller has left in the window.
func (s *SlidingWindow) Remaining(caller string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UnixMilli() - s.window.Milliseconds()
	active := 0
	for _, ts := range s.requests[caller] {
		if ts > cutoff {
			active++
		}
	}
	if active >= s.limit {
		return 0
	}
	return s.limit - active
}

// Prune drops callers whose stamps have all aged out. Run periodically
// so idle callers do not accumulate.
func (s *SlidingWindow) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UnixMilli() - s.window.Milliseconds()
	for caller, stamps := range s.requests {
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts > cutoff {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(s.requests, caller)
		} else {
			s.requests[caller] = kept
		}
	}
}

// StartPruning runs Prune on the given cadence until ctx is done.
func (s *SlidingWindow) StartPruning(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Prune()
			}
		}
	}()
}
