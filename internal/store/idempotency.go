package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"flashreserve/internal/reservation"
)

// IdempotencyCache is the Redis-backed implementation of
// reservation.IdempotencyCache.
type IdempotencyCache struct {
	client *Client
}

func NewIdempotencyCache(client *Client) *IdempotencyCache {
	return &IdempotencyCache{client: client}
}

func (c *IdempotencyCache) Get(ctx context.Context, key string) (*reservation.ReserveResult, bool, error) {
	data, err := c.client.rdb.Get(ctx, idempotencyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency get %s: %w", key, err)
	}

	var res reservation.ReserveResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, fmt.Errorf("idempotency decode %s: %w", key, err)
	}
	return &res, true, nil
}

func (c *IdempotencyCache) Set(ctx context.Context, key string, result reservation.ReserveResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("idempotency marshal %s: %w", key, err)
	}
	if err := c.client.rdb.Set(ctx, idempotencyKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency set %s: %w", key, err)
	}
	return nil
}
