package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tablestakes/platform/internal/metrics"
)

// Rate limiter kinds and their quotas.
const (
	KindBets     = "bets"
	KindMessages = "messages"
	KindFriends  = "friends"
)

// Quota is max events per window for one limiter kind.
type Quota struct {
	Max    int
	Window time.Duration
}

// DefaultQuotas holds the configured kinds.
var DefaultQuotas = map[string]Quota{
	KindBets:     {Max: 5, Window: 60 * time.Second},
	KindMessages: {Max: 20, Window: 60 * time.Second},
	KindFriends:  {Max: 10, Window: 60 * time.Second},
}

// slidingWindowScript atomically prunes the window, counts, and either
// denies (returning the oldest score for Retry-After) or admits and
// refreshes the key TTL. Single script so concurrent checks across process
// instances cannot over-admit.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= max then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, 0, tonumber(oldest[2])}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, max - count - 1, now}
`)

// RateLimitResult is the outcome of one check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // non-zero only on denial
	ResetAt    time.Time     // when the oldest counted event leaves the window
}

// RateLimiter enforces atomic sliding-window quotas per subject, shared
// across process instances through Redis.
type RateLimiter struct {
	rdb    *redis.Client
	quotas map[string]Quota
	logger *slog.Logger
}

// NewRateLimiter creates a Redis-backed rate limiter with the given quotas.
func NewRateLimiter(rdb *redis.Client, quotas map[string]Quota, logger *slog.Logger) *RateLimiter {
	if quotas == nil {
		quotas = DefaultQuotas
	}
	return &RateLimiter{rdb: rdb, quotas: quotas, logger: logger}
}

// Check records one event against ratelimit:<kind>:<subject> and reports
// whether it fits the quota. Script errors fail open and are logged at WARN.
func (rl *RateLimiter) Check(ctx context.Context, kind, subject string) RateLimitResult {
	quota, ok := rl.quotas[kind]
	if !ok {
		return RateLimitResult{Allowed: true, Remaining: -1}
	}

	key := fmt.Sprintf("ratelimit:%s:%s", kind, subject)
	now := time.Now()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()[:8])

	raw, err := slidingWindowScript.Run(ctx, rl.rdb,
		[]string{key},
		now.UnixMilli(), quota.Window.Milliseconds(), quota.Max, member,
	).Slice()
	if err != nil {
		rl.logger.Warn("rate limiter script failed, failing open", "kind", kind, "error", err)
		return RateLimitResult{Allowed: true, Remaining: -1}
	}

	allowed := toInt64(raw[0]) == 1
	remaining := int(toInt64(raw[1]))
	oldest := time.UnixMilli(toInt64(raw[2]))
	resetAt := oldest.Add(quota.Window)

	if allowed {
		return RateLimitResult{Allowed: true, Remaining: remaining, ResetAt: resetAt}
	}

	metrics.RateLimitDeniedTotal.WithLabelValues(kind).Inc()
	retryAfter := time.Until(resetAt)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return RateLimitResult{Allowed: false, Remaining: 0, RetryAfter: retryAfter, ResetAt: resetAt}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		var out int64
		fmt.Sscan(n, &out)
		return out
	}
	return 0
}
