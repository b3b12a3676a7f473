package reservation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeStock is a minimal in-memory StockStore used to unit test Service
// without a real Redis instance; the atomicity the production
// StockStore guarantees via Lua is provided here by a mutex.
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
	if f.reserved[sku] < 0 {
		f.reserved[sku] = 0
	}
	return nil
}

func (f *fakeStock) Set(ctx context.Context, sku string, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available[sku] = n
	f.reserved[sku] = 0
	return nil
}

func (f *fakeStock) Get(ctx context.Context, sku string) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available[sku], f.reserved[sku], nil
}

type fakeLedger struct {
	mu    sync.Mutex
	byID  map[string]Reservation
	due   map[string]time.Time
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{byID: map[string]Reservation{}, due: map[string]time.Time{}}
}

func (f *fakeLedger) Insert(ctx context.Context, r Reservation, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[r.ID] = r
	f.due[r.ID] = expiresAt
	return nil
}

func (f *fakeLedger) Lookup(ctx context.Context, id string) (*Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeLedger) Consume(ctx context.Context, id, expectedUserID string, grace time.Duration, now time.Time) (*Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return nil, &Error{Kind: KindNotFound, Message: "reservation not found"}
	}
	if now.After(f.due[id].Add(grace)) {
		return nil, &Error{Kind: KindExpired, Message: "reservation expired"}
	}
	if r.UserID != expectedUserID {
		return nil, &Error{Kind: KindWrongOwner, Message: "wrong owner"}
	}
	delete(f.byID, id)
	delete(f.due, id)
	return &r, nil
}

func (f *fakeLedger) RangeDue(ctx context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, exp := range f.due {
		if !now.Before(exp) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeLedger) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	delete(f.due, id)
	return nil
}

type fakeIdempotency struct {
	mu    sync.Mutex
	cache map[string]ReserveResult
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{cache: map[string]ReserveResult{}}
}

func (f *fakeIdempotency) Get(ctx context.Context, key string) (*ReserveResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.cache[key]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (f *fakeIdempotency) Set(ctx context.Context, key string, result ReserveResult, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[key] = result
	return nil
}

type allowAllRateLimiter struct{}

func (allowAllRateLimiter) Allow(ctx context.Context, principal, endpoint string, cap int64, window time.Duration) (bool, time.Duration, error) {
	return true, 0, nil
}

type denyRateLimiter struct{ retryAfter time.Duration }

func (d denyRateLimiter) Allow(ctx context.Context, principal, endpoint string, cap int64, window time.Duration) (bool, time.Duration, error) {
	return false, d.retryAfter, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAudit) AppendAudit(ctx context.Context, eventType, userID, sku, reservationID string, details map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	published []InventoryStatus
}

func (f *fakeBroadcaster) Publish(sku string, status InventoryStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, status)
}

func newTestService() (*Service, *fakeStock) {
	stock := newFakeStock()
	svc := &Service{
		Stock:            stock,
		Ledger:           newFakeLedger(),
		Idempotency:      newFakeIdempotency(),
		RateLimit:        allowAllRateLimiter{},
		Audit:            &fakeAudit{},
		Broadcast:        &fakeBroadcaster{},
		TTL:              5 * time.Minute,
		IdempotencyTTL:   310 * time.Second,
		ConfirmGrace:     5 * time.Second,
		MinQuantity:      1,
		MaxQuantity:      5,
		ReservePerMin:    10,
		ReservePerMinWin: time.Minute,
		Now:              time.Now,
	}
	return svc, stock
}

func TestService_Reserve_Success(t *testing.T) {
	svc, stock := newTestService()
	ctx := context.Background()
	require.NoError(t, stock.Set(ctx, "sku-1", 10))

	result, err := svc.Reserve(ctx, "user-1", "sku-1", 2, "")
	require.NoError(t, err)
	require.NotEmpty(t, result.ReservationID)
	require.True(t, len(result.ReservationID) > 4 && result.ReservationID[:4] == "rsv_")
	require.Equal(t, int64(2), result.Quantity)

	avail, reserved, err := stock.Get(ctx, "sku-1")
	require.NoError(t, err)
	require.Equal(t, int64(8), avail)
	require.Equal(t, int64(2), reserved)
}

func TestService_Reserve_InsufficientInventory(t *testing.T) {
	svc, stock := newTestService()
	ctx := context.Background()
	require.NoError(t, stock.Set(ctx, "sku-1", 1))

	_, err := svc.Reserve(ctx, "user-1", "sku-1", 3, "")
	require.Error(t, err)
	rerr, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, KindInsufficientInventory, rerr.Kind)
	require.Equal(t, int64(1), rerr.Available)
}

func TestService_Reserve_QuantityOutOfBounds(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "user-1", "sku-1", 99, "")
	require.Error(t, err)
	rerr, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, KindInvalidRequest, rerr.Kind)
}

func TestService_Reserve_RateLimited(t *testing.T) {
	svc, stock := newTestService()
	svc.RateLimit = denyRateLimiter{retryAfter: 30 * time.Second}
	ctx := context.Background()
	require.NoError(t, stock.Set(ctx, "sku-1", 10))

	_, err := svc.Reserve(ctx, "user-1", "sku-1", 1, "")
	require.Error(t, err)
	rerr, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, KindRateLimited, rerr.Kind)
	require.Equal(t, 30*time.Second, rerr.RetryAfter)
}

func TestService_Reserve_RateLimitRunsBeforeIdempotency(t *testing.T) {
	svc, stock := newTestService()
	ctx := context.Background()
	require.NoError(t, stock.Set(ctx, "sku-1", 10))

	_, err := svc.Reserve(ctx, "user-1", "sku-1", 1, "idem-key-1")
	require.NoError(t, err)

	// A retry that is over budget must be rejected as rate-limited even
	// though its idempotency key already has a cached result — the
	// limiter is the outermost check.
	svc.RateLimit = denyRateLimiter{retryAfter: 30 * time.Second}
	_, err = svc.Reserve(ctx, "user-1", "sku-1", 1, "idem-key-1")
	require.Error(t, err)
	rerr, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, KindRateLimited, rerr.Kind)
}

func TestService_Reserve_IdempotentRetryReplaysResult(t *testing.T) {
	svc, stock := newTestService()
	ctx := context.Background()
	require.NoError(t, stock.Set(ctx, "sku-1", 10))

	first, err := svc.Reserve(ctx, "user-1", "sku-1", 2, "idem-key-1")
	require.NoError(t, err)

	second, err := svc.Reserve(ctx, "user-1", "sku-1", 2, "idem-key-1")
	require.NoError(t, err)
	require.Equal(t, first.ReservationID, second.ReservationID)

	// only one decrement should have happened
	avail, _, err := stock.Get(ctx, "sku-1")
	require.NoError(t, err)
	require.Equal(t, int64(8), avail)
}

func TestService_Confirm_Success(t *testing.T) {
	svc, stock := newTestService()
	ctx := context.Background()
	require.NoError(t, stock.Set(ctx, "sku-1", 10))

	result, err := svc.Reserve(ctx, "user-1", "sku-1", 2, "")
	require.NoError(t, err)

	r, err := svc.Confirm(ctx, "user-1", result.ReservationID)
	require.NoError(t, err)
	require.Equal(t, "sku-1", r.SKU)

	// confirming twice fails: already consumed
	_, err = svc.Confirm(ctx, "user-1", result.ReservationID)
	require.Error(t, err)
}

func TestService_Confirm_WrongOwner(t *testing.T) {
	svc, stock := newTestService()
	ctx := context.Background()
	require.NoError(t, stock.Set(ctx, "sku-1", 10))

	result, err := svc.Reserve(ctx, "user-1", "sku-1", 1, "")
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, "user-2", result.ReservationID)
	require.Error(t, err)
	rerr, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, KindWrongOwner, rerr.Kind)
}

func TestService_Cancel_RestoresStock(t *testing.T) {
	svc, stock := newTestService()
	ctx := context.Background()
	require.NoError(t, stock.Set(ctx, "sku-1", 10))

	result, err := svc.Reserve(ctx, "user-1", "sku-1", 3, "")
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, "user-1", result.ReservationID))

	avail, reserved, err := stock.Get(ctx, "sku-1")
	require.NoError(t, err)
	require.Equal(t, int64(10), avail)
	require.Equal(t, int64(0), reserved)
}

func TestService_Release_IsIdempotent(t *testing.T) {
	svc, stock := newTestService()
	ctx := context.Background()
	require.NoError(t, stock.Set(ctx, "sku-1", 10))

	result, err := svc.Reserve(ctx, "user-1", "sku-1", 2, "")
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, result.ReservationID))
	// releasing again must be a no-op, not an error
	require.NoError(t, svc.Release(ctx, result.ReservationID))

	avail, reserved, err := stock.Get(ctx, "sku-1")
	require.NoError(t, err)
	require.Equal(t, int64(10), avail)
	require.Equal(t, int64(0), reserved)
}

func TestService_Status_ReflectsReservedSum(t *testing.T) {
	svc, stock := newTestService()
	ctx := context.Background()
	require.NoError(t, stock.Set(ctx, "sku-1", 10))

	_, err := svc.Reserve(ctx, "user-1", "sku-1", 4, "")
	require.NoError(t, err)

	status, err := svc.Status(ctx, "sku-1")
	require.NoError(t, err)
	require.Equal(t, int64(6), status.Available)
	require.Equal(t, int64(4), status.Reserved)
	require.Equal(t, int64(10), status.Total)
}

func TestSweeper_SweepsDueReservationsOnly(t *testing.T) {
	svc, stock := newTestService()
	ctx := context.Background()
	require.NoError(t, stock.Set(ctx, "sku-1", 10))

	base := time.Now()
	svc.Now = func() time.Time { return base }

	expiring, err := svc.Reserve(ctx, "user-1", "sku-1", 2, "")
	require.NoError(t, err)

	// advance logical clock past TTL
	svc.Now = func() time.Time { return base.Add(svc.TTL + time.Second) }

	sweeper := NewSweeper(svc.Ledger, svc, time.Millisecond, nil)
	sweeper.sweepOnce(ctx)

	r, err := svc.Ledger.Lookup(ctx, expiring.ReservationID)
	require.NoError(t, err)
	require.Nil(t, r)

	avail, reserved, err := stock.Get(ctx, "sku-1")
	require.NoError(t, err)
	require.Equal(t, int64(10), avail)
	require.Equal(t, int64(0), reserved)
}
