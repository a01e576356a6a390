// Package ratelimit provides a Redis-backed token bucket so the limit holds
// across API replicas.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucket refills at a fixed rate up to a fixed capacity. Each Allow
// consumes one token; an empty bucket rejects until refill catches up.
type TokenBucket struct {
	client       *redis.Client
	capacity     int
	refillPerSec float64
	keyPrefix    string
}

// New builds a bucket. Capacity bounds burst size, refillPerSec the sustained
// rate.
func New(client *redis.Client, capacity int, refillPerSec float64) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillPerSec < 0 {
		refillPerSec = 0
	}
	return &TokenBucket{
		client:       client,
		capacity:     capacity,
		refillPerSec: refillPerSec,
		keyPrefix:    "pipeline:ratelimit:",
	}
}

// Allow consumes one token from the bucket identified by key (typically the
// client address). The refill math runs inside Redis so concurrent callers
// never double-spend a token.
func (b *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := bucketScript.Run(ctx, b.client,
		[]string{b.keyPrefix + key},
		b.capacity, b.refillPerSec, now,
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

var bucketScript = redis.NewScript(`
local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
local ts = tonumber(redis.call('HGET', KEYS[1], 'ts'))
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

if tokens == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * rate)
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
redis.call('PEXPIRE', KEYS[1], 600000)
return allowed
`)
