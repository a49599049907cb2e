package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript runs the token bucket check-and-consume atomically
// so concurrent court API instances sharing one Redis never double-spend
// an agent's remaining burst.
// KEYS[1] = bucket key ("court:ratelimit:<agent_id>")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, floating point or microsec precision)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

-- Retrieve current state
local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

-- Initialize if missing
if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

-- Refill
local elapsed = now - last_refill
if elapsed > 0 then
    local added = elapsed * rate
    tokens = tokens + added
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

-- Consume
local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

-- Update state (expire in 60s to self-clean)
redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

// RedisLimiterStore implements LimiterStore with a Redis-backed token
// bucket per agent, so a multi-instance court deployment enforces one
// shared rate limit per agent instead of one per process.
type RedisLimiterStore struct {
	client *redis.Client
}

// NewRedisLimiterStore connects to the Redis instance backing the
// deployment's shared per-agent rate limits.
func NewRedisLimiterStore(addr string, password string, db int) *RedisLimiterStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLimiterStore{client: rdb}
}

// Allow runs the token bucket script for actorID (an agent id) and reports
// whether the request may proceed under policy.
func (s *RedisLimiterStore) Allow(ctx context.Context, actorID string, policy BackpressurePolicy, cost int) (bool, error) {
	key := fmt.Sprintf("court:ratelimit:%s", actorID)

	rate := float64(policy.RPM) / 60.0
	if rate <= 0 {
		rate = 1.0
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, s.client, []string{key}, rate, policy.Burst, cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("redis limiter: unexpected script response")
	}

	allowedVal, _ := results[0].(int64)
	return allowedVal == 1, nil
}
