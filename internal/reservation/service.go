package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flashreserve/internal/metrics"
)

// Service orchestrates the stock store, ledger, idempotency cache, rate
// limiter, audit sink and broadcaster into the reserve/confirm/cancel/
// release/status operations. It holds no state of its own; every
// invariant is enforced by the atomicity of its collaborators.
type Service struct {
	Stock       StockStore
	Ledger      Ledger
	Idempotency IdempotencyCache
	RateLimit   RateLimiter
	Audit       AuditAppender
	Broadcast   Broadcaster

	// SweepAudit, if set, receives the Sweeper's expire-audit writes
	// instead of Audit. The sweeper fires many Release calls per tick,
	// so this is the hook a caller uses to point that traffic at a
	// batching AuditAppender instead of one insert per reservation.
	SweepAudit AuditAppender

	TTL              time.Duration
	IdempotencyTTL   time.Duration
	ConfirmGrace     time.Duration
	MinQuantity      int64
	MaxQuantity      int64
	ReservePerMin    int64
	ReservePerMinWin time.Duration

	Logger *zap.Logger
	Now    func() time.Time
}

// NewService wires the collaborators with the defaults a production
// deployment would use; tests construct Service{} literals directly with
// fakes so every field stays overridable.
func NewService(stock StockStore, ledger Ledger, idem IdempotencyCache, rl RateLimiter, audit AuditAppender, broadcast Broadcaster, logger *zap.Logger) *Service {
	return &Service{
		Stock:       stock,
		Ledger:      ledger,
		Idempotency: idem,
		RateLimit:   rl,
		Audit:       audit,
		Broadcast:   broadcast,
		Logger:      logger,
		Now:         time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Reserve runs the reserve algorithm: rate limit, idempotency gate,
// atomic stock decrement, ledger insert with compensating restore on
// failure, idempotency write, and a best-effort broadcast. The limiter
// runs first since it is the outermost check: a caller over budget
// never reaches the idempotency cache, let alone stock.
func (s *Service) Reserve(ctx context.Context, userID, sku string, quantity int64, idempotencyKey string) (*ReserveResult, error) {
	if quantity < s.MinQuantity || quantity > s.MaxQuantity {
		return nil, &Error{
			Kind:    KindInvalidRequest,
			Message: fmt.Sprintf("quantity must be between %d and %d", s.MinQuantity, s.MaxQuantity),
			FieldErrors: map[string]string{
				"quantity": "out of allowed range",
			},
		}
	}

	allowed, retryAfter, err := s.RateLimit.Allow(ctx, userID, "reserve", s.ReservePerMin, s.ReservePerMinWin)
	if err != nil {
		return nil, fmt.Errorf("reserve: rate limit check: %w", err)
	}
	if !allowed {
		return nil, &Error{Kind: KindRateLimited, Message: "too many reservation attempts", RetryAfter: retryAfter}
	}

	if idempotencyKey != "" {
		if cached, ok, err := s.Idempotency.Get(ctx, idempotencyKey); err != nil {
			return nil, fmt.Errorf("reserve: idempotency lookup: %w", err)
		} else if ok {
			return cached, nil
		}
	}

	ok, available, err := s.Stock.TryDecrement(ctx, sku, quantity)
	if err != nil {
		return nil, fmt.Errorf("reserve: try_decrement: %w", err)
	}
	if !ok {
		return nil, &Error{Kind: KindInsufficientInventory, Message: "insufficient inventory", Available: available}
	}

	now := s.now()
	expiresAt := now.Add(s.TTL)
	r := Reservation{
		ID:        "rsv_" + uuid.NewString(),
		UserID:    userID,
		SKU:       sku,
		Quantity:  quantity,
		CreatedAt: now,
	}

	if err := s.Ledger.Insert(ctx, r, expiresAt); err != nil {
		if restoreErr := s.Stock.Restore(ctx, sku, quantity); restoreErr != nil {
			s.logger().Error("reserve: compensating restore failed after ledger insert error",
				zap.String("sku", sku), zap.Int64("quantity", quantity), zap.Error(restoreErr))
		}
		return nil, fmt.Errorf("reserve: ledger insert: %w", err)
	}

	result := &ReserveResult{
		ReservationID: r.ID,
		SKU:           sku,
		Quantity:      quantity,
		ExpiresAt:     expiresAt,
		TTLSeconds:    int64(s.TTL.Seconds()),
	}

	if idempotencyKey != "" {
		if err := s.Idempotency.Set(ctx, idempotencyKey, *result, s.IdempotencyTTL); err != nil {
			s.logger().Warn("reserve: idempotency cache write failed", zap.String("key", idempotencyKey), zap.Error(err))
		}
	}

	if err := s.Audit.AppendAudit(ctx, "reserve", userID, sku, r.ID, map[string]any{"quantity": quantity}); err != nil {
		s.logger().Warn("reserve: audit append failed", zap.String("reservation_id", r.ID), zap.Error(err))
	}

	s.publishStatus(ctx, sku)

	return result, nil
}

// Confirm runs the grace-period-aware consume: a reservation is
// confirmable up to ConfirmGrace after its nominal expiry so a sweeper
// race doesn't fail a confirm that was already in flight.
func (s *Service) Confirm(ctx context.Context, userID, reservationID string) (*Reservation, error) {
	r, err := s.Ledger.Consume(ctx, reservationID, userID, s.ConfirmGrace, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.Audit.AppendAudit(ctx, "confirm", userID, r.SKU, r.ID, map[string]any{"quantity": r.Quantity}); err != nil {
		s.logger().Warn("confirm: audit append failed", zap.String("reservation_id", r.ID), zap.Error(err))
	}

	return r, nil
}

// Cancel validates ownership via Ledger.Consume (no grace period — a
// reservation that's already past its nominal expiry is the sweeper's to
// release, not the owner's to cancel) then restores stock.
func (s *Service) Cancel(ctx context.Context, userID, reservationID string) error {
	r, err := s.Ledger.Consume(ctx, reservationID, userID, 0, s.now())
	if err != nil {
		return err
	}

	if err := s.Stock.Restore(ctx, r.SKU, r.Quantity); err != nil {
		return fmt.Errorf("cancel: restore: %w", err)
	}

	if err := s.Audit.AppendAudit(ctx, "cancel", userID, r.SKU, r.ID, map[string]any{"quantity": r.Quantity}); err != nil {
		s.logger().Warn("cancel: audit append failed", zap.String("reservation_id", r.ID), zap.Error(err))
	}

	s.publishStatus(ctx, r.SKU)
	return nil
}

// Release is the ownerless, idempotent path the sweeper uses to expire a
// reservation: no owner check, no error on a reservation that's already
// gone (a concurrent confirm/cancel may have won the race).
func (s *Service) Release(ctx context.Context, reservationID string) error {
	r, err := s.Ledger.Lookup(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("release: lookup: %w", err)
	}
	if r == nil {
		return nil
	}

	if err := s.Ledger.Remove(ctx, reservationID); err != nil {
		return fmt.Errorf("release: remove: %w", err)
	}

	if err := s.Stock.Restore(ctx, r.SKU, r.Quantity); err != nil {
		return fmt.Errorf("release: restore: %w", err)
	}

	if err := s.sweepAudit().AppendAudit(ctx, "expire", r.UserID, r.SKU, r.ID, map[string]any{"quantity": r.Quantity}); err != nil {
		s.logger().Warn("release: audit append failed", zap.String("reservation_id", r.ID), zap.Error(err))
	}

	s.publishStatus(ctx, r.SKU)
	return nil
}

// Status returns the current availability snapshot for a SKU: available
// and reserved both come from the stock store's mirrored counters, so
// reserved is always a real count rather than a hardcoded placeholder.
func (s *Service) Status(ctx context.Context, sku string) (*InventoryStatus, error) {
	available, reserved, err := s.Stock.Get(ctx, sku)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return &InventoryStatus{
		SKU:       sku,
		Available: available,
		Reserved:  reserved,
		Total:     available + reserved,
	}, nil
}

// Initialize sets a SKU's available count and broadcasts the resulting
// status, folding in outstanding reservations rather than assuming none
// exist.
func (s *Service) Initialize(ctx context.Context, sku string, quantity int64) error {
	if err := s.Stock.Set(ctx, sku, quantity); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	s.publishStatus(ctx, sku)
	return nil
}

func (s *Service) publishStatus(ctx context.Context, sku string) {
	if s.Broadcast == nil {
		return
	}
	status, err := s.Status(ctx, sku)
	if err != nil {
		s.logger().Warn("publish status: lookup failed", zap.String("sku", sku), zap.Error(err))
		return
	}
	metrics.InventoryAvailable.WithLabelValues(sku).Set(float64(status.Available))
	s.Broadcast.Publish(sku, *status)
}

func (s *Service) sweepAudit() AuditAppender {
	if s.SweepAudit != nil {
		return s.SweepAudit
	}
	return s.Audit
}

func (s *Service) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}
