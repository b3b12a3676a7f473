package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"flashreserve/internal/reservation"
)

// consumeScript atomically validates ownership/expiry and removes both
// the reservation hash and its expiry-index entry in one round trip.
// One EVAL is indivisible, so no concurrent confirm/cancel/sweep can
// observe a half-consumed reservation.
//
// Returns a flat array: {status, user_id, sku, quantity, created_at}.
// status: 1=ok, 2=not_found, 3=expired, 4=wrong_owner.
var consumeScript = redis.NewScript(`
local hkey = KEYS[1]
local zkey = KEYS[2]
local id = ARGV[1]
local expected_user = ARGV[2]
local grace = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local exists = redis.call('EXISTS', hkey)
if exists == 0 then
	return {2, '', '', '', ''}
end

local score = redis.call('ZSCORE', zkey, id)
if not score then
	return {2, '', '', '', ''}
end

if now > (tonumber(score) + grace) then
	return {3, '', '', '', ''}
end

local owner = redis.call('HGET', hkey, 'user_id')
if owner ~= expected_user then
	return {4, '', '', '', ''}
end

local sku = redis.call('HGET', hkey, 'sku')
local quantity = redis.call('HGET', hkey, 'quantity')
local created_at = redis.call('HGET', hkey, 'created_at')

redis.call('DEL', hkey)
redis.call('ZREM', zkey, id)

return {1, owner, sku, quantity, created_at}
`)

// Ledger is the Redis-backed implementation of reservation.Ledger. Each
// reservation is a hash (fields: user_id, sku, quantity, created_at)
// rather than an opaque JSON blob, so the atomic consume script can read
// and branch on individual fields without a JSON decoder in Lua.
type Ledger struct {
	client *Client
}

func NewLedger(client *Client) *Ledger {
	return &Ledger{client: client}
}

// Insert writes the reservation hash then indexes it by expiry score.
// This is a local write expected to succeed in practice; the caller
// compensates with a stock restore if it fails.
func (l *Ledger) Insert(ctx context.Context, r reservation.Reservation, expiresAt time.Time) error {
	pipe := l.client.rdb.TxPipeline()
	pipe.HSet(ctx, reservationKey(r.ID), map[string]interface{}{
		"user_id":    r.UserID,
		"sku":        r.SKU,
		"quantity":   r.Quantity,
		"created_at": r.CreatedAt.Format(time.RFC3339Nano),
	})
	pipe.ZAdd(ctx, expiringSetKey, redis.Z{Score: float64(expiresAt.Unix()), Member: r.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("insert reservation %s: %w", r.ID, err)
	}
	return nil
}

// Lookup is a best-effort, non-atomic read of a single reservation.
func (l *Ledger) Lookup(ctx context.Context, id string) (*reservation.Reservation, error) {
	fields, err := l.client.rdb.HGetAll(ctx, reservationKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup reservation %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	r, err := reservationFromFields(id, fields)
	if err != nil {
		return nil, fmt.Errorf("decode reservation %s: %w", id, err)
	}
	return r, nil
}

// Consume atomically validates ownership/expiry and removes the
// reservation.
func (l *Ledger) Consume(ctx context.Context, id, expectedUserID string, grace time.Duration, now time.Time) (*reservation.Reservation, error) {
	res, err := consumeScript.Run(ctx, l.client.rdb,
		[]string{reservationKey(id), expiringSetKey},
		id, expectedUserID, grace.Seconds(), now.Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("consume reservation %s: %w", id, err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) != 5 {
		return nil, fmt.Errorf("consume reservation %s: unexpected script result", id)
	}

	status := toInt64(parts[0])
	switch status {
	case 1:
		fields := map[string]string{
			"user_id":    toStr(parts[1]),
			"sku":        toStr(parts[2]),
			"quantity":   toStr(parts[3]),
			"created_at": toStr(parts[4]),
		}
		r, err := reservationFromFields(id, fields)
		if err != nil {
			return nil, fmt.Errorf("decode consumed reservation %s: %w", id, err)
		}
		return r, nil
	case 2:
		return nil, &reservation.Error{Kind: reservation.KindNotFound, Message: "reservation not found"}
	case 3:
		return nil, &reservation.Error{Kind: reservation.KindExpired, Message: "reservation expired"}
	case 4:
		return nil, &reservation.Error{Kind: reservation.KindWrongOwner, Message: "reservation belongs to another user"}
	default:
		return nil, fmt.Errorf("consume reservation %s: unknown status %d", id, status)
	}
}

// RangeDue returns ids whose expiry score is at or before now. The
// sweeper must treat this as advisory: a concurrent consume may have
// already removed the entry.
func (l *Ledger) RangeDue(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := l.client.rdb.ZRangeByScore(ctx, expiringSetKey, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range_due: %w", err)
	}
	return ids, nil
}

// Remove idempotently deletes both the hash and its index entry.
func (l *Ledger) Remove(ctx context.Context, id string) error {
	pipe := l.client.rdb.TxPipeline()
	pipe.Del(ctx, reservationKey(id))
	pipe.ZRem(ctx, expiringSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove reservation %s: %w", id, err)
	}
	return nil
}

func reservationFromFields(id string, fields map[string]string) (*reservation.Reservation, error) {
	quantity, err := strconv.ParseInt(fields["quantity"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &reservation.Reservation{
		ID:        id,
		UserID:    fields["user_id"],
		SKU:       fields["sku"],
		Quantity:  quantity,
		CreatedAt: createdAt,
	}, nil
}

func toStr(v interface{}) string {
	s, _ := v.(string)
	return s
}
