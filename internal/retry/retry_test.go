package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int, shouldRetry func(error) bool) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		ShouldRetry:  shouldRetry,
	}
}

func TestWithExponentialBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result := WithExponentialBackoff(context.Background(), fastConfig(3, nil), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("deadlock detected")
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, calls)
	assert.NoError(t, result.Err())
}

func TestWithExponentialBackoff_StopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("unique violation")
	calls := 0
	result := WithExponentialBackoff(context.Background(), fastConfig(5, func(err error) bool {
		return !errors.Is(err, permanent)
	}), func(ctx context.Context, attempt int) error {
		calls++
		return permanent
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, result.Err(), permanent)
}

func TestWithExponentialBackoff_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	result := WithExponentialBackoff(context.Background(), fastConfig(3, nil), func(ctx context.Context, attempt int) error {
		return boom
	})

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	require.Error(t, result.Err())
	assert.Contains(t, result.Err().Error(), "after 3 attempts")
}

func TestWithExponentialBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}

	result := WithExponentialBackoff(ctx, cfg, func(ctx context.Context, attempt int) error {
		cancel()
		return errors.New("transient")
	})

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestCalculateDelay(t *testing.T) {
	cfg := DefaultRetryConfig()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{7, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calculateDelay(cfg, tt.attempt))
	}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 30*time.Second, Backoff(30*time.Second, 10*time.Minute, 0))
	assert.Equal(t, 60*time.Second, Backoff(30*time.Second, 10*time.Minute, 2))
	assert.Equal(t, 10*time.Minute, Backoff(30*time.Second, 10*time.Minute, 10))
}
