package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// tryDecrementScript atomically checks and decrements the per-SKU
// counter: a single EVAL means no concurrent caller can observe or
// produce a negative value. It additionally maintains the reserved-sum
// counter in the same round trip so available+reserved stays
// consistent without a second atomicity boundary.
var tryDecrementScript = redis.NewScript(`
local inv_key = KEYS[1]
local reserved_key = KEYS[2]
local quantity = tonumber(ARGV[1])

local available = tonumber(redis.call('GET', inv_key) or '0')

if available >= quantity then
	redis.call('DECRBY', inv_key, quantity)
	redis.call('INCRBY', reserved_key, quantity)
	return {1, available - quantity}
else
	return {0, available}
end
`)

// restoreScript atomically restores quantity units to a SKU and
// decrements the mirrored reserved-sum counter. Mirrors
// RESTORE_INVENTORY_SCRIPT; never fails on a missing key (treated as 0).
var restoreScript = redis.NewScript(`
local inv_key = KEYS[1]
local reserved_key = KEYS[2]
local quantity = tonumber(ARGV[1])

local newval = redis.call('INCRBY', inv_key, quantity)
local reserved = tonumber(redis.call('GET', reserved_key) or '0')
if reserved >= quantity then
	redis.call('DECRBY', reserved_key, quantity)
else
	redis.call('SET', reserved_key, 0)
end
return newval
`)

// StockStore is the Redis-backed implementation of reservation.StockStore.
type StockStore struct {
	client *Client
}

func NewStockStore(client *Client) *StockStore {
	return &StockStore{client: client}
}

// TryDecrement implements the atomic check-and-decrement of available
// stock.
func (s *StockStore) TryDecrement(ctx context.Context, sku string, n int64) (bool, int64, error) {
	res, err := tryDecrementScript.Run(ctx, s.client.rdb, []string{inventoryKey(sku), reservedKey(sku)}, n).Result()
	if err != nil {
		return false, 0, fmt.Errorf("try_decrement %s: %w", sku, err)
	}

	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return false, 0, fmt.Errorf("try_decrement %s: unexpected script result %v", sku, res)
	}

	ok2 := toInt64(pair[0]) == 1
	available := toInt64(pair[1])
	return ok2, available, nil
}

// Restore implements the atomic restore of available stock; never
// fails.
func (s *StockStore) Restore(ctx context.Context, sku string, n int64) error {
	if n <= 0 {
		return nil
	}
	_, err := restoreScript.Run(ctx, s.client.rdb, []string{inventoryKey(sku), reservedKey(sku)}, n).Result()
	if err != nil {
		return fmt.Errorf("restore %s: %w", sku, err)
	}
	return nil
}

// Set is the administrative override used by set_inventory. It also
// resets the reserved-sum counter to 0, matching the semantics of a
// fresh sale: set_inventory is not used on a SKU with outstanding
// reservations in normal operation.
func (s *StockStore) Set(ctx context.Context, sku string, n int64) error {
	pipe := s.client.rdb.TxPipeline()
	pipe.Set(ctx, inventoryKey(sku), n, 0)
	pipe.Set(ctx, reservedKey(sku), 0, 0)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("set inventory %s: %w", sku, err)
	}
	return nil
}

// Get returns a best-effort read of available and reserved units for a
// SKU. Both values are clamped to non-negative; a missing key reads as 0.
func (s *StockStore) Get(ctx context.Context, sku string) (int64, int64, error) {
	pipe := s.client.rdb.Pipeline()
	availCmd := pipe.Get(ctx, inventoryKey(sku))
	resCmd := pipe.Get(ctx, reservedKey(sku))
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("get inventory %s: %w", sku, err)
	}

	available, _ := availCmd.Int64()
	reserved, _ := resCmd.Int64()
	if available < 0 {
		available = 0
	}
	if reserved < 0 {
		reserved = 0
	}
	return available, reserved, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
