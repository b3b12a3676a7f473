// Package reservation implements the reservation state machine: the
// atomic check-and-decrement of stock, the TTL-indexed ledger, the
// expiry sweeper, and the idempotency/rate-limit gates guarding reserve.
package reservation

import (
	"context"
	"errors"
	"time"
)

// Reservation is the tuple held for a principal between reserve and its
// resolution (confirm, cancel, or expiry).
type Reservation struct {
	ID        string    `json:"reservation_id"`
	UserID    string    `json:"user_id"`
	SKU       string    `json:"sku"`
	Quantity  int64     `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// ReserveResult is the payload returned by reserve and replayed verbatim
// on idempotent retries.
type ReserveResult struct {
	ReservationID string    `json:"reservation_id"`
	SKU           string    `json:"sku"`
	Quantity      int64     `json:"quantity"`
	ExpiresAt     time.Time `json:"expires_at"`
	TTLSeconds    int64     `json:"ttl_seconds"`
}

// InventoryStatus is the advisory availability snapshot returned by
// get_inventory_status and broadcast to subscribers.
type InventoryStatus struct {
	SKU       string `json:"sku"`
	Available int64  `json:"available"`
	Reserved  int64  `json:"reserved"`
	Total     int64  `json:"total"`
}

// Kind enumerates the stable error kinds the service surfaces, each of
// which maps to exactly one RFC 7807 type/status pair at the HTTP layer.
type Kind int

const (
	KindInternal Kind = iota
	KindInsufficientInventory
	KindRateLimited
	KindInvalidRequest
	KindWrongOwner
	KindNotFound
	KindExpired
)

// Error is the typed error the service returns; callers branch on Kind
// rather than matching message substrings.
type Error struct {
	Kind        Kind
	Message     string
	Available   int64
	RetryAfter  time.Duration
	FieldErrors map[string]string
	cause       error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "reservation error"
}

func (e *Error) Unwrap() error { return e.cause }

// AsError extracts a *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StockStore is the atomic check-and-decrement counter over per-SKU
// available units. Implementations must guarantee try_decrement/restore
// are indivisible across concurrent callers.
type StockStore interface {
	TryDecrement(ctx context.Context, sku string, n int64) (ok bool, available int64, err error)
	Restore(ctx context.Context, sku string, n int64) error
	Set(ctx context.Context, sku string, n int64) error
	Get(ctx context.Context, sku string) (available, reserved int64, err error)
}

// Ledger is the durable-until-consumed reservation map plus its
// time-ordered expiry index.
type Ledger interface {
	Insert(ctx context.Context, r Reservation, expiresAt time.Time) error
	Lookup(ctx context.Context, id string) (*Reservation, error)
	Consume(ctx context.Context, id, expectedUserID string, grace time.Duration, now time.Time) (*Reservation, error)
	RangeDue(ctx context.Context, now time.Time) ([]string, error)
	Remove(ctx context.Context, id string) error
}

// IdempotencyCache records the exact response for a client-supplied key.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (*ReserveResult, bool, error)
	Set(ctx context.Context, key string, result ReserveResult, ttl time.Duration) error
}

// RateLimiter is the fixed-window per-(principal, endpoint) gate.
type RateLimiter interface {
	Allow(ctx context.Context, principal, endpoint string, cap int64, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

// AuditAppender is the append-only audit sink the Sweeper and Service
// use to record domain events. Implemented by the relational writer.
type AuditAppender interface {
	AppendAudit(ctx context.Context, eventType, userID, sku, reservationID string, details map[string]any) error
}

// Broadcaster pushes availability snapshots to subscribers after a
// mutation. Implementations must never let a slow/dead subscriber block
// the caller.
type Broadcaster interface {
	Publish(sku string, status InventoryStatus)
}
