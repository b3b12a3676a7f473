package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript implements the per-(principal,endpoint) fixed
// window counter: the first request in a window creates the key with
// the window TTL; subsequent requests increment until the cap, at
// which point the remaining TTL is returned as retry_after. Running
// the read-check-write as one EVAL keeps it atomic under concurrent
// callers, which a separate GET then INCR could not guarantee.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local cap = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = redis.call('GET', key)
if current == false then
	redis.call('SET', key, 1, 'EX', window)
	return {1, window}
end

local count = tonumber(current)
if count >= cap then
	local ttl = redis.call('TTL', key)
	if ttl < 0 then ttl = window end
	return {0, ttl}
end

redis.call('INCR', key)
local ttl = redis.call('TTL', key)
if ttl < 0 then ttl = window end
return {1, ttl}
`)

// RateLimiter is the Redis-backed implementation of
// reservation.RateLimiter.
type RateLimiter struct {
	client *Client
}

func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, principal, endpoint string, cap int64, window time.Duration) (bool, time.Duration, error) {
	res, err := fixedWindowScript.Run(ctx, r.client.rdb,
		[]string{rateLimitKey(principal, endpoint)},
		cap, int64(window.Seconds()),
	).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s/%s: %w", principal, endpoint, err)
	}

	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return false, 0, fmt.Errorf("rate limit %s/%s: unexpected script result", principal, endpoint)
	}

	allowed := toInt64(pair[0]) == 1
	ttlSeconds := toInt64(pair[1])
	return allowed, time.Duration(ttlSeconds) * time.Second, nil
}
