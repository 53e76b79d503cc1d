package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, cfg QuotaTrackerConfig) (*QuotaTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg.Redis = client
	tracker, err := NewQuotaTracker(&cfg)
	require.NoError(t, err)

	fixed := time.Date(2024, 5, 1, 12, 0, 10, 0, time.UTC)
	tracker.now = func() time.Time { return fixed }
	return tracker, mr
}

func TestNewQuotaTracker_Validation(t *testing.T) {
	tests := []struct {
		name   string
		cfg    *QuotaTrackerConfig
		errMsg string
	}{
		{"nil config", nil, "configuration is required"},
		{"nil redis", &QuotaTrackerConfig{}, "redis client is required"},
		{"negative", &QuotaTrackerConfig{Redis: redis.NewClient(&redis.Options{}), RequestsPerMinute: -1}, "cannot be negative"},
		{"reserved above total", &QuotaTrackerConfig{Redis: redis.NewClient(&redis.Options{}), RequestsPerMinute: 10, ReservedPerMinute: 20}, "cannot exceed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewQuotaTracker(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestQuotaTracker_PoolsAreSeparate(t *testing.T) {
	tracker, _ := newTestTracker(t, QuotaTrackerConfig{RequestsPerMinute: 5, ReservedPerMinute: 2})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _ := tracker.TryConsume(ctx, 1, PriorityLow)
		assert.True(t, ok, "shared request %d", i)
	}
	ok, wait := tracker.TryConsume(ctx, 1, PriorityLow)
	assert.False(t, ok)
	assert.Equal(t, 50*time.Second+time.Millisecond, wait)

	// The reserved pool is untouched by queued jobs.
	ok, _ = tracker.TryConsume(ctx, 2, PriorityHigh)
	assert.True(t, ok)
	ok, _ = tracker.TryConsume(ctx, 1, PriorityHigh)
	assert.False(t, ok)

	usage, err := tracker.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, usage.TotalUsed)
	assert.Equal(t, 2, usage.ReservedUsed)
	assert.Equal(t, 3, usage.SharedUsed)
}

func TestQuotaTracker_Available(t *testing.T) {
	tracker, _ := newTestTracker(t, QuotaTrackerConfig{RequestsPerMinute: 10, ReservedPerMinute: 4})
	ctx := context.Background()

	ok, _ := tracker.TryConsume(ctx, 5, PriorityLow)
	require.True(t, ok)

	low, err := tracker.Available(ctx, PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, 1, low)

	high, err := tracker.Available(ctx, PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, 4, high)
}

func TestQuotaTracker_AcquireUsesContextPriority(t *testing.T) {
	tracker, _ := newTestTracker(t, QuotaTrackerConfig{RequestsPerMinute: 3, ReservedPerMinute: 1})
	ctx := WithPriority(context.Background(), PriorityHigh)

	require.NoError(t, tracker.Acquire(ctx))

	usage, err := tracker.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.ReservedUsed)
	assert.Equal(t, 0, usage.SharedUsed)
}

func TestQuotaTracker_AcquireGivesUpAfterMaxWait(t *testing.T) {
	var mu sync.Mutex
	var throttled []Priority
	tracker, _ := newTestTracker(t, QuotaTrackerConfig{
		RequestsPerMinute: 2,
		ReservedPerMinute: 1,
		MaxWait:           time.Second,
		OnThrottle: func(p Priority, _ time.Duration) {
			mu.Lock()
			throttled = append(throttled, p)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	require.NoError(t, tracker.Acquire(ctx))
	assert.ErrorIs(t, tracker.Acquire(ctx), ErrMaxWaitExceeded)
	assert.Empty(t, throttled)
}

func TestQuotaTracker_AcquireHonoursCancellation(t *testing.T) {
	tracker, _ := newTestTracker(t, QuotaTrackerConfig{RequestsPerMinute: 1, ReservedPerMinute: 1, MaxWait: time.Hour})
	ctx, cancel := context.WithTimeout(WithPriority(context.Background(), PriorityHigh), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, tracker.Acquire(ctx))
	err := tracker.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	usage, uerr := tracker.Usage(context.Background())
	require.NoError(t, uerr)
	assert.Equal(t, 1, usage.Throttled)
}

func TestPriorityFromContext(t *testing.T) {
	assert.Equal(t, PriorityLow, PriorityFromContext(context.Background()))
	assert.Equal(t, PriorityHigh, PriorityFromContext(WithPriority(context.Background(), PriorityHigh)))
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "unknown", Priority(9).String())
}
