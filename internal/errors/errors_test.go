package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesMetadata(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, false},
		{ErrCodeStoreUnavailable, CategoryStorage, false},
		{ErrCodeUpstreamUnavailable, CategoryUpstream, true},
		{ErrCodeThrottled, CategoryValidation, true},
		{ErrCodeIntegrity, CategoryInternal, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestIntegrityIsFatal(t *testing.T) {
	err := Integrity("dimension mismatch", nil)
	assert.True(t, IsFatal(err))
	assert.False(t, IsFatal(InvalidInput("bad")))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestErrorChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := StoreUnavailable(cause)
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("during search: %w", err)
	assert.Equal(t, ErrCodeStoreUnavailable, CodeOf(wrapped))
	assert.Equal(t, CategoryStorage, CategoryOf(wrapped))
}

func TestThrottledCarriesRetryHint(t *testing.T) {
	err := Throttled(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, err.RetryAfter)
	assert.True(t, IsRetryable(err))
}

func TestIsByCode(t *testing.T) {
	a := New(ErrCodeQueryTimeout, "slow", nil)
	b := New(ErrCodeQueryTimeout, "different message", nil)
	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, New(ErrCodeInternal, "x", nil))
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2}
	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return UpstreamUnavailable(errors.New("503"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return InvalidInput("empty query")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "non-retryable errors must not be re-attempted")
	assert.Equal(t, ErrCodeInvalidInput, CodeOf(err))
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, DefaultRetryConfig(), func() error {
		return errors.New("never retried")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryExhaustion(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	attempts := 0
	_, err := RetryWithResult(ctx(), cfg, func() (int, error) {
		attempts++
		return 0, UpstreamUnavailable(errors.New("down"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial + 2 retries
	assert.Equal(t, ErrCodeUpstreamUnavailable, CodeOf(err))
}

func ctx() context.Context { return context.Background() }
