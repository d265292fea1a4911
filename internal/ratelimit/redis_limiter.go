package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tablefront/go-core/internal/metrics"
)

// consumeScript runs the whole window update atomically inside Redis:
// the first increment of a window arms its expiry, so a crashed client
// can never leave an immortal counter behind.
var consumeScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {current, ttl}
`)

// RedisLimiterConfig configures the store-backed limiter.
type RedisLimiterConfig struct {
	// KeyPrefix namespaces this service's counters in a shared store.
	KeyPrefix string

	// FallbackKeys bounds the in-process fallback's key table.
	FallbackKeys int

	Logger  *zap.Logger
	Metrics *metrics.Core
}

// RedisLimiter enforces fixed-window limits with atomic INCR semantics.
// Store failures degrade to an in-process fallback and are logged; the
// caller never sees an error.
type RedisLimiter struct {
	client   redis.UniversalClient
	prefix   string
	fallback *localLimiter
	logger   *zap.Logger
	metrics  *metrics.Core
}

// NewRedisLimiter creates a limiter over client.
func NewRedisLimiter(client redis.UniversalClient, cfg RedisLimiterConfig) (*RedisLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ratelimit"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &RedisLimiter{
		client:   client,
		prefix:   cfg.KeyPrefix,
		fallback: newLocalLimiter(cfg.FallbackKeys),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Consume implements Limiter.
func (rl *RedisLimiter) Consume(ctx context.Context, key string, window time.Duration, max int) Result {
	redisKey := rl.prefix + ":" + key

	raw, err := consumeScript.Run(ctx, rl.client, []string{redisKey}, window.Milliseconds()).Result()
	if err != nil {
		return rl.degrade(ctx, key, window, max, err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return rl.degrade(ctx, key, window, max, fmt.Errorf("unexpected script result %T", raw))
	}
	current, ok1 := vals[0].(int64)
	ttlMillis, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return rl.degrade(ctx, key, window, max, fmt.Errorf("unexpected script result values"))
	}

	remaining := max - int(current)
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:   int(current) <= max,
		Remaining: remaining,
		ResetAt:   time.Now().Add(time.Duration(ttlMillis) * time.Millisecond),
	}

	if res.Allowed {
		rl.metrics.RateLimitDecision("allowed")
	} else {
		rl.metrics.RateLimitDecision("blocked")
	}
	return res
}

// degrade handles a store failure: log once per event, count it, and let
// the in-process fallback provide coarse protection. Availability wins
// over strict enforcement here.
func (rl *RedisLimiter) degrade(ctx context.Context, key string, window time.Duration, max int, cause error) Result {
	rl.logger.Warn("rate limit store unreachable, failing open",
		zap.String("key", key),
		zap.Error(cause),
	)
	rl.metrics.RateLimitDecision("degraded")

	res := rl.fallback.Consume(ctx, key, window, max)
	res.Degraded = true
	return res
}

// Reset clears a key's counter. Best effort: failures are logged, never
// returned.
func (rl *RedisLimiter) Reset(ctx context.Context, key string) {
	if err := rl.client.Del(ctx, rl.prefix+":"+key).Err(); err != nil {
		rl.logger.Debug("rate limit reset failed", zap.String("key", key), zap.Error(err))
	}
	rl.fallback.Reset(ctx, key)
}
