package reservation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"flashreserve/internal/metrics"
)

// Sweeper is the background expiry loop: it lists reservation ids whose
// expiry score has passed and releases each one
// through the same path Cancel/Confirm use, so stock restoration and
// audit logging stay in one place. RangeDue plus a per-id Release is
// safe to run from multiple replicas concurrently — Ledger.Consume
// (reached via Release's Remove) only ever succeeds once per id, so a
// duplicate sweep on another replica is a no-op, not a double-restore.
type Sweeper struct {
	Ledger  Ledger
	Service *Service
	Every   time.Duration
	Logger  *zap.Logger
}

func NewSweeper(ledger Ledger, service *Service, every time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{Ledger: ledger, Service: service, Every: every, Logger: logger}
}

// Run blocks, ticking every s.Every until ctx is canceled. Each tick is
// independent: a slow or failing tick never blocks the next.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	ids, err := s.Ledger.RangeDue(ctx, s.Service.now())
	if err != nil {
		s.logger().Error("sweeper: range_due failed", zap.Error(err))
		return
	}

	for _, id := range ids {
		if err := s.Service.Release(ctx, id); err != nil {
			s.logger().Warn("sweeper: release failed", zap.String("reservation_id", id), zap.Error(err))
			continue
		}
		metrics.SweeperReleased.Inc()
	}

	if len(ids) > 0 {
		s.logger().Info("sweeper: swept expired reservations", zap.Int("count", len(ids)))
	}
}

func (s *Sweeper) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}
