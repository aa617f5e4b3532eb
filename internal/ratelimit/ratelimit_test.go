package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/storefind/storefind/internal/errors"
)

func TestSlidingWindowAllowsUpToLimit(t *testing.T) {
	sw := NewSlidingWindow(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.NoError(t, sw.Allow("caller-1"))
	}
	err := sw.Allow("caller-1")
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeThrottled, serrors.CodeOf(err))

	var se *serrors.ServiceError
	require.True(t, errors.As(err, &se))
	assert.Greater(t, se.RetryAfter, time.Duration(0), "rejection must carry a retry hint")
}

func TestSlidingWindowIsolatesCallers(t *testing.T) {
	sw := NewSlidingWindow(1, time.Minute)
	require.NoError(t, sw.Allow("caller-1"))
	require.NoError(t, sw.Allow("caller-2"))
	assert.Error(t, sw.Allow("caller-1"))
}

func TestSlidingWindowRecoversAfterWindow(t *testing.T) {
	sw := NewSlidingWindow(1, time.Minute)
	current := time.Unix(1000, 0)
	sw.now = func() time.Time { return current }

	require.NoError(t, sw.Allow("caller-1"))
	require.Error(t, sw.Allow("caller-1"))

	current = current.Add(61 * time.Second)
	assert.NoError(t, sw.Allow("caller-1"), "stamps outside the window must not count")
}

func TestSlidingWindowRemaining(t *testing.T) {
	sw := NewSlidingWindow(5, time.Minute)
	assert.Equal(t, 5, sw.Remaining("caller-1"))
	require.NoError(t, sw.Allow("caller-1"))
	require.NoError(t, sw.Allow("caller-1"))
	assert.Equal(t, 3, sw.Remaining("caller-1"))
}

func TestSlidingWindowPruneDropsIdleCallers(t *testing.T) {
	sw := NewSlidingWindow(5, time.Minute)
	current := time.Unix(1000, 0)
	sw.now = func() time.Time { return current }

	require.NoError(t, sw.Allow("caller-1"))
	current = current.Add(2 * time.Minute)
	sw.Prune()

	sw.mu.Lock()
	_, exists := sw.requests["caller-1"]
	sw.mu.Unlock()
	assert.False(t, exists)
}

func TestSlidingWindowConcurrentAccess(t *testing.T) {
	sw := NewSlidingWindow(1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = sw.Allow("shared-caller")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 500, 1000-sw.Remaining("shared-caller"))
}

func TestOutboundLimiterDefaults(t *testing.T) {
	l := NewOutboundLimiter(0, 0)
	assert.True(t, l.Allow(), "burst of one must admit the first call")
}
