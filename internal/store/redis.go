// Package store holds the Redis-backed atomic primitives the
// reservation core rests on: the stock counter, the reservation ledger
// and its expiry index, the idempotency cache, and the rate limiter.
//
// Every compound operation that must be indivisible is a single EVAL of
// a Lua script: Redis executes a script as one atomic step, so no
// interleaving between callers can be observed mid-script.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Keys used on the Redis keyspace, per the persisted-state layout.
const (
	inventoryKeyPrefix   = "inventory:"
	reservedKeyPrefix    = "reserved:"
	reservationKeyPrefix = "reservation:"
	idempotencyKeyPrefix = "idempotency:"
	rateLimitKeyPrefix   = "ratelimit:"
	expiringSetKey       = "expiring_reservations"
)

func inventoryKey(sku string) string   { return inventoryKeyPrefix + sku }
func reservedKey(sku string) string    { return reservedKeyPrefix + sku }
func reservationKey(id string) string  { return reservationKeyPrefix + id }
func idempotencyKey(key string) string { return idempotencyKeyPrefix + key }
func rateLimitKey(principal, endpoint string) string {
	return fmt.Sprintf("%s%s:%s", rateLimitKeyPrefix, principal, endpoint)
}

// Client wraps a go-redis client with the same health-check/reconnect
// discipline applied to the PostgreSQL pool, adapted to a single
// long-lived Redis connection.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewClient parses a redis:// URL and verifies connectivity before
// returning.
func NewClient(ctx context.Context, url string, logger *zap.Logger) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{rdb: rdb, logger: logger}, nil
}

// Raw exposes the underlying go-redis client for components (health
// checks, metrics) that need direct access.
func (c *Client) Raw() *redis.Client { return c.rdb }

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Healthy performs a best-effort liveness probe.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err() == nil
}
