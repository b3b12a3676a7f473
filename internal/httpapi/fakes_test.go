package httpapi

import (
	"context"
	"sync"
	"time"

	"flashreserve/internal/reservation"
)

// fakeStock is an in-memory reservation.StockStore, enough to exercise
// reserve/status/initialize without a real Redis instance.
type fakeStock struct {
	mu        sync.Mutex
	available map[string]int64
	reserved  map[string]int64
}

func newFakeStock() *fakeStock {
	return &fakeStock{available: map[string]int64{}, reserved: map[string]int64{}}
}

func (f *fakeStock) TryDecrement(ctx context.Context, sku string, n int64) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.available[sku] < n {
		return false, f.available[sku], nil
	}
	f.available[sku] -= n
	f.reserved[sku] += n
	return true, f.available[sku], nil
}

func (f *fakeStock) Restore(ctx context.Context, sku string, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available[sku] += n
	f.reserved[sku] -= n
	return nil
}

func (f *fakeStock) Set(ctx context.Context, sku string, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available[sku] = n
	return nil
}

func (f *fakeStock) Get(ctx context.Context, sku string) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available[sku], f.reserved[sku], nil
}

// fakeLedger is an in-memory reservation.Ledger.
type fakeLedger struct {
	mu    sync.Mutex
	rows  map[string]reservation.Reservation
	expAt map[string]time.Time
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: map[string]reservation.Reservation{}, expAt: map[string]time.Time{}}
}

func (f *fakeLedger) Insert(ctx context.Context, r reservation.Reservation, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[r.ID] = r
	f.expAt[r.ID] = expiresAt
	return nil
}

func (f *fakeLedger) Lookup(ctx context.Context, id string) (*reservation.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeLedger) Consume(ctx context.Context, id, expectedUserID string, grace time.Duration, now time.Time) (*reservation.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, &reservation.Error{Kind: reservation.KindNotFound, Message: "reservation not found"}
	}
	if r.UserID != expectedUserID {
		return nil, &reservation.Error{Kind: reservation.KindWrongOwner, Message: "reservation belongs to another user"}
	}
	if now.After(f.expAt[id].Add(grace)) {
		return nil, &reservation.Error{Kind: reservation.KindExpired, Message: "reservation expired"}
	}
	delete(f.rows, id)
	delete(f.expAt, id)
	return &r, nil
}

func (f *fakeLedger) RangeDue(ctx context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []string
	for id, exp := range f.expAt {
		if !now.Before(exp) {
			due = append(due, id)
		}
	}
	return due, nil
}

func (f *fakeLedger) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	delete(f.expAt, id)
	return nil
}

// fakeIdempotency is an in-memory reservation.IdempotencyCache.
type fakeIdempotency struct {
	mu    sync.Mutex
	cache map[string]reservation.ReserveResult
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{cache: map[string]reservation.ReserveResult{}}
}

func (f *fakeIdempotency) Get(ctx context.Context, key string) (*reservation.ReserveResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.cache[key]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (f *fakeIdempotency) Set(ctx context.Context, key string, result reservation.ReserveResult, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[key] = result
	return nil
}

// fakeRateLimiter always allows, unless deny is set.
type fakeRateLimiter struct {
	mu   sync.Mutex
	deny bool
}

func (f *fakeRateLimiter) Allow(ctx context.Context, principal, endpoint string, cap int64, window time.Duration) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny {
		return false, 30 * time.Second, nil
	}
	return true, 0, nil
}

// fakeAudit is an in-memory reservation.AuditAppender.
type fakeAudit struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeAudit) AppendAudit(ctx context.Context, eventType, userID, sku, reservationID string, details map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, eventType)
	return nil
}
