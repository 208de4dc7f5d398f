package strategy

import (
	"context"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"gatekeeper/internal/ratelimit/models"
	"gatekeeper/internal/ratelimit/ports"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/requestcontext"
)

// Redis key prefixes per strategy. Separate namespaces keep ResetPrefix
// scoped to one algorithm's state.
const (
	redisTokenBucketPrefix   = "rl:tb:"
	redisSlidingWindowPrefix = "rl:sw:"
	redisFixedWindowPrefix   = "rl:fw:"
)

// tokenBucketScript refills and consumes in one atomic step. State is a hash
// {tokens, last_refill_ms}; returns {allowed, tokens_after} scaled by 1000
// to carry fractional tokens through Lua's integer replies.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil then
  tokens = capacity
  last_refill = now_ms
end

local elapsed = now_ms - last_refill
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * refill_per_ms)
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', now_ms)
redis.call('PEXPIRE', key, ttl_ms)
return {allowed, math.floor(tokens * 1000)}
`)

// slidingWindowScript prunes, counts, and conditionally admits in one atomic
// step. Entries live in a sorted set scored by unix millis; members carry a
// sequence suffix so same-millisecond requests stay distinct.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)
local count = redis.call('ZCARD', key)

if count < limit then
  local seq = redis.call('INCR', key .. ':seq')
  redis.call('ZADD', key, now_ms, now_ms .. '-' .. seq)
  redis.call('PEXPIRE', key, window_ms)
  redis.call('PEXPIRE', key .. ':seq', window_ms)
  return {1, count + 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {0, count, tonumber(oldest[2])}
`)

// RedisStrategyStores bundles Redis-backed implementations of all three
// strategies, sharing one client. Use it to make admission state survive
// restarts and to share it across instances.
type RedisStrategyStores struct {
	TokenBucket   *RedisTokenBucketStore
	SlidingWindow *RedisSlidingWindowStore
	FixedWindow   *RedisFixedWindowStore
}

// NewRedisStrategyStores builds the three Redis-backed stores.
func NewRedisStrategyStores(client *redis.Client) (*RedisStrategyStores, error) {
	if client == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "redis client is required")
	}
	return &RedisStrategyStores{
		TokenBucket:   &RedisTokenBucketStore{client: client},
		SlidingWindow: &RedisSlidingWindowStore{client: client},
		FixedWindow:   &RedisFixedWindowStore{client: client},
	}, nil
}

// Selector returns a selector dispatching every strategy to Redis.
func (r *RedisStrategyStores) Selector() (*Selector, error) {
	return NewSelectorWithStores(map[models.Strategy]ports.StrategyStore{
		models.StrategyTokenBucket:   r.TokenBucket,
		models.StrategySlidingWindow: r.SlidingWindow,
		models.StrategyFixedWindow:   r.FixedWindow,
	})
}

// RedisTokenBucketStore is the Redis-backed token bucket.
type RedisTokenBucketStore struct {
	client *redis.Client
}

// Check runs the refill-and-consume script for the key.
func (s *RedisTokenBucketStore) Check(ctx context.Context, key string, p ports.CheckParams) (*models.RateLimitResult, error) {
	now := requestcontext.Now(ctx)
	capacity := p.Capacity()
	refillPerMs := float64(p.Limit) / float64(p.Window.Milliseconds())

	// Keep state twice the window past the last touch so an idle bucket
	// reads as full, which is what a fresh bucket would be anyway.
	ttl := 2 * p.Window

	res, err := tokenBucketScript.Run(ctx, s.client,
		[]string{redisTokenBucketPrefix + key},
		capacity, refillPerMs, now.UnixMilli(), ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "token bucket check failed")
	}

	allowed := res[0] == 1
	tokens := float64(res[1]) / 1000

	if allowed {
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     capacity,
			Remaining: int(math.Floor(tokens)),
			ResetAt:   now.Add(p.Window),
		}, nil
	}

	refillRate := float64(p.Limit) / p.Window.Seconds()
	wait := time.Duration((1 - tokens) / refillRate * float64(time.Second))
	retryAfter := int(math.Ceil(wait.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      capacity,
		Remaining:  0,
		ResetAt:    now.Add(wait),
		RetryAfter: retryAfter,
	}, nil
}

// Reset clears the bucket for a key.
func (s *RedisTokenBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisTokenBucketPrefix+key).Err()
}

// ResetPrefix clears every bucket whose key has the given prefix.
func (s *RedisTokenBucketStore) ResetPrefix(ctx context.Context, prefix string) error {
	return deleteByPattern(ctx, s.client, redisTokenBucketPrefix+prefix+"*")
}

// RedisSlidingWindowStore is the Redis-backed sliding window.
type RedisSlidingWindowStore struct {
	client *redis.Client
}

// Check runs the prune-count-admit script for the key.
func (s *RedisSlidingWindowStore) Check(ctx context.Context, key string, p ports.CheckParams) (*models.RateLimitResult, error) {
	now := requestcontext.Now(ctx)

	res, err := slidingWindowScript.Run(ctx, s.client,
		[]string{redisSlidingWindowPrefix + key},
		p.Limit, p.Window.Milliseconds(), now.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sliding window check failed")
	}

	allowed := res[0] == 1
	count := int(res[1])

	if allowed {
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     p.Limit,
			Remaining: p.Limit - count,
			ResetAt:   now.Add(p.Window),
		}, nil
	}

	resetAt := time.UnixMilli(res[2]).Add(p.Window)
	retryAfter := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      p.Limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}, nil
}

// Reset clears the window for a key.
func (s *RedisSlidingWindowStore) Reset(ctx context.Context, key string) error {
	prefixed := redisSlidingWindowPrefix + key
	return s.client.Del(ctx, prefixed, prefixed+":seq").Err()
}

// ResetPrefix clears every window whose key has the given prefix.
func (s *RedisSlidingWindowStore) ResetPrefix(ctx context.Context, prefix string) error {
	return deleteByPattern(ctx, s.client, redisSlidingWindowPrefix+prefix+"*")
}

// RedisFixedWindowStore is the Redis-backed fixed window. The window start
// is baked into the key, so INCR plus an expiry is sufficient; a new window
// is simply a new key.
type RedisFixedWindowStore struct {
	client *redis.Client
}

// Check increments the counter for the current epoch-aligned window.
func (s *RedisFixedWindowStore) Check(ctx context.Context, key string, p ports.CheckParams) (*models.RateLimitResult, error) {
	now := requestcontext.Now(ctx)
	nowMs := now.UnixMilli()
	windowMs := p.Window.Milliseconds()
	windowStart := (nowMs / windowMs) * windowMs

	windowKey := redisFixedWindowPrefix + key + ":" + time.UnixMilli(windowStart).UTC().Format("20060102T150405.000")

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.PExpire(ctx, windowKey, time.Duration(windowStart+2*windowMs-nowMs)*time.Millisecond)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "fixed window check failed")
	}

	count := int(incr.Val())
	resetAt := time.UnixMilli(windowStart + windowMs)

	if count <= p.Limit {
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     p.Limit,
			Remaining: p.Limit - count,
			ResetAt:   resetAt,
		}, nil
	}

	retryAfter := int(math.Ceil(float64(windowStart+windowMs-nowMs) / 1000))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      p.Limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}, nil
}

// Reset clears all windows for a key.
func (s *RedisFixedWindowStore) Reset(ctx context.Context, key string) error {
	return deleteByPattern(ctx, s.client, redisFixedWindowPrefix+key+":*")
}

// ResetPrefix clears every window whose key has the given prefix.
func (s *RedisFixedWindowStore) ResetPrefix(ctx context.Context, prefix string) error {
	return deleteByPattern(ctx, s.client, redisFixedWindowPrefix+prefix+"*")
}

// deleteByPattern removes keys matching a glob pattern via SCAN, avoiding a
// blocking KEYS call.
func deleteByPattern(ctx context.Context, client *redis.Client, pattern string) error {
	iter := client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
