// Package ratelimit coordinates the upstream request quota across processes using Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gmb-sync/internal/logging"
)

// Default quota configuration values.
const (
	DefaultRequestsPerMinute = 300
	DefaultReservedPerMinute = 100
	DefaultWindowSize        = time.Minute
	DefaultMaxWait           = 90 * time.Second
)

// Redis key prefixes for quota tracking.
const (
	KeyPrefixTotal    = "gmb:quota:total:"
	KeyPrefixReserved = "gmb:quota:reserved:"
	KeyPrefixShared   = "gmb:quota:shared:"
	KeyPrefixThrottle = "gmb:quota:throttled:"
)

// ErrMaxWaitExceeded is returned when quota did not free up within the maximum wait.
var ErrMaxWaitExceeded = errors.New("maximum wait time exceeded waiting for upstream quota")

// Priority selects the quota pool a request draws from.
type Priority int

const (
	// PriorityHigh is for interactive full syncs (uses the reserved pool).
	PriorityHigh Priority = iota
	// PriorityLow is for queued jobs (uses the shared pool).
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority tags ctx so upstream calls made with it draw from the given pool
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext returns the pool ctx was tagged with, PriorityLow when untagged
func PriorityFromContext(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityLow
}

// QuotaTrackerConfig holds configuration for the quota tracker.
type QuotaTrackerConfig struct {
	// Redis is the client used for cross-process coordination. Required.
	Redis redis.Cmdable

	// RequestsPerMinute is the total request budget per window. Default: 300.
	RequestsPerMinute int

	// ReservedPerMinute is the share of the budget held back for PriorityHigh. Default: 100.
	ReservedPerMinute int

	// WindowSize is the window duration. Default: 1m.
	WindowSize time.Duration

	// MaxWait bounds how long Acquire blocks. Default: 90s.
	MaxWait time.Duration

	// OnThrottle is called every time a request has to wait.
	OnThrottle func(p Priority, wait time.Duration)
}

// Validate checks if the configuration is valid.
func (c *QuotaTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.RequestsPerMinute < 0 || c.ReservedPerMinute < 0 {
		return errors.New("quota cannot be negative")
	}

	total := orDefault(c.RequestsPerMinute, DefaultRequestsPerMinute)
	reserved := orDefault(c.ReservedPerMinute, DefaultReservedPerMinute)
	if reserved > total {
		return fmt.Errorf("reserved quota (%d) cannot exceed total quota (%d)", reserved, total)
	}
	return nil
}

// QuotaUsage is a snapshot of the current window.
type QuotaUsage struct {
	TotalUsed      int       `json:"totalUsed"`
	ReservedUsed   int       `json:"reservedUsed"`
	SharedUsed     int       `json:"sharedUsed"`
	TotalBudget    int       `json:"totalBudget"`
	ReservedBudget int       `json:"reservedBudget"`
	SharedBudget   int       `json:"sharedBudget"`
	Throttled      int       `json:"throttled"`
	WindowStart    time.Time `json:"windowStart"`
}

// QuotaTracker is a fixed-window request budget split into a reserved and a shared pool.
type QuotaTracker struct {
	redis          redis.Cmdable
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyTTL         time.Duration
	maxWait        time.Duration
	onThrottle     func(Priority, time.Duration)
	now            func() time.Time
}

// consumeScript checks both the total and the pool counter and increments them together.
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local n = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + n > totalBudget then
		return {0, totalUsed, poolUsed}
	end
	if poolUsed + n > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, n)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, n)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + n, poolUsed + n}
`)

// NewQuotaTracker creates a new tracker with the given configuration.
func NewQuotaTracker(cfg *QuotaTrackerConfig) (*QuotaTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	total := orDefault(cfg.RequestsPerMinute, DefaultRequestsPerMinute)
	reserved := orDefault(cfg.ReservedPerMinute, DefaultReservedPerMinute)

	window := cfg.WindowSize
	if window == 0 {
		window = DefaultWindowSize
	}
	maxWait := cfg.MaxWait
	if maxWait == 0 {
		maxWait = DefaultMaxWait
	}

	return &QuotaTracker{
		redis:          cfg.Redis,
		totalBudget:    total,
		reservedBudget: reserved,
		sharedBudget:   total - reserved,
		windowSize:     window,
		keyTTL:         2 * window,
		maxWait:        maxWait,
		onThrottle:     cfg.OnThrottle,
		now:            time.Now,
	}, nil
}

func (t *QuotaTracker) windowTimestamp() int64 {
	return t.now().Truncate(t.windowSize).UnixMilli()
}

func (t *QuotaTracker) keys(windowTS int64) (totalKey, reservedKey, sharedKey string) {
	ts := strconv.FormatInt(windowTS, 10)
	return KeyPrefixTotal + ts, KeyPrefixReserved + ts, KeyPrefixShared + ts
}

// TryConsume takes n requests from the pool matching priority.
// When denied it suggests how long to wait for the next window.
func (t *QuotaTracker) TryConsume(ctx context.Context, n int, priority Priority) (bool, time.Duration) {
	if n <= 0 {
		return true, 0
	}

	windowTS := t.windowTimestamp()
	totalKey, reservedKey, sharedKey := t.keys(windowTS)

	poolKey, poolBudget := sharedKey, t.sharedBudget
	if priority == PriorityHigh {
		poolKey, poolBudget = reservedKey, t.reservedBudget
	}

	ttl := int(t.keyTTL.Seconds())
	if ttl < 1 {
		ttl = 1
	}

	result, err := consumeScript.Run(ctx, t.redis, []string{totalKey, poolKey},
		n, t.totalBudget, poolBudget, ttl).Int64Slice()
	if err != nil {
		// Deny on Redis errors rather than overrun the upstream quota.
		logging.FromContext(ctx).WithError(err).Warn("[Quota] Budget check failed")
		return false, t.waitTime(windowTS)
	}
	if result[0] != 1 {
		return false, t.waitTime(windowTS)
	}
	return true, 0
}

func (t *QuotaTracker) waitTime(windowTS int64) time.Duration {
	end := time.UnixMilli(windowTS).Add(t.windowSize)
	wait := end.Sub(t.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// Acquire blocks until one request fits the pool of ctx's priority, the context ends,
// or MaxWait passes.
func (t *QuotaTracker) Acquire(ctx context.Context) error {
	priority := PriorityFromContext(ctx)
	logger := logging.FromContext(ctx)
	start := t.now()
	deadline := start.Add(t.maxWait)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		allowed, wait := t.TryConsume(ctx, 1, priority)
		if allowed {
			return nil
		}

		if t.now().Add(wait).After(deadline) {
			logger.WithFields(map[string]interface{}{
				"priority": priority.String(),
				"waited":   t.now().Sub(start).String(),
			}).Warn("[Quota] Max wait exceeded")
			return ErrMaxWaitExceeded
		}

		t.recordThrottle(ctx, priority, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *QuotaTracker) recordThrottle(ctx context.Context, priority Priority, wait time.Duration) {
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"priority": priority.String(),
		"wait":     wait.String(),
	}).Debug("[Quota] Waiting for budget")

	key := KeyPrefixThrottle + strconv.FormatInt(t.windowTimestamp(), 10)
	pipe := t.redis.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, t.keyTTL)
	_, _ = pipe.Exec(ctx)

	if t.onThrottle != nil {
		t.onThrottle(priority, wait)
	}
}

// Usage returns the counters of the current window.
func (t *QuotaTracker) Usage(ctx context.Context) (*QuotaUsage, error) {
	windowTS := t.windowTimestamp()
	totalKey, reservedKey, sharedKey := t.keys(windowTS)

	pipe := t.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	throttleCmd := pipe.Get(ctx, KeyPrefixThrottle+strconv.FormatInt(windowTS, 10))

	// Missing keys only mean nothing happened in this window yet.
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read quota usage: %w", err)
	}

	return &QuotaUsage{
		TotalUsed:      intOrZero(totalCmd),
		ReservedUsed:   intOrZero(reservedCmd),
		SharedUsed:     intOrZero(sharedCmd),
		TotalBudget:    t.totalBudget,
		ReservedBudget: t.reservedBudget,
		SharedBudget:   t.sharedBudget,
		Throttled:      intOrZero(throttleCmd),
		WindowStart:    time.UnixMilli(windowTS),
	}, nil
}

// Available returns the requests left in the pool for priority.
func (t *QuotaTracker) Available(ctx context.Context, priority Priority) (int, error) {
	u, err := t.Usage(ctx)
	if err != nil {
		return 0, err
	}
	remaining := t.sharedBudget - u.SharedUsed
	if priority == PriorityHigh {
		remaining = t.reservedBudget - u.ReservedUsed
	}
	if total := t.totalBudget - u.TotalUsed; total < remaining {
		remaining = total
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	v, err := cmd.Int()
	if err != nil {
		return 0
	}
	return v
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
