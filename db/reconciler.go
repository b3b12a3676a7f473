package db

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reconciler runs a periodic scan for orders stuck in "pending" or
// "failed" longer than a grace window. It only reports: it never
// auto-restores stock for a failed order, since the reservation that
// backed it has already been consumed or has expired through its own
// path; a human operator decides whether compensation is needed.
type Reconciler struct {
	server *Server
	grace  time.Duration
	every  time.Duration
	logger *zap.Logger
}

func NewReconciler(server *Server, grace, every time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{server: server, grace: grace, every: every, logger: logger}
}

// Run blocks, scanning on every tick until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scanOnce(ctx)
		}
	}
}

type staleOrder struct {
	OrderID       string
	ReservationID string
	UserID        string
	Status        string
	AgeSeconds    float64
}

func (r *Reconciler) scanOnce(ctx context.Context) {
	cutoff := time.Now().Add(-r.grace)

	rows, err := r.server.QueryContext(ctx, `
		SELECT order_id, reservation_id, user_id, status, created_at
		FROM orders
		WHERE status IN ('pending', 'failed') AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT 500`, cutoff)
	if err != nil {
		r.logger.Error("reconciler: scan query failed", zap.Error(err))
		return
	}
	defer rows.Close()

	var stale []staleOrder
	for rows.Next() {
		var s staleOrder
		var createdAt time.Time
		if err := rows.Scan(&s.OrderID, &s.ReservationID, &s.UserID, &s.Status, &createdAt); err != nil {
			r.logger.Error("reconciler: scan row failed", zap.Error(err))
			continue
		}
		s.AgeSeconds = time.Since(createdAt).Seconds()
		stale = append(stale, s)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("reconciler: row iteration failed", zap.Error(err))
		return
	}

	for _, s := range stale {
		r.logger.Warn("reconciler: stale order needs operator attention",
			zap.String("order_id", s.OrderID),
			zap.String("reservation_id", s.ReservationID),
			zap.String("user_id", s.UserID),
			zap.String("status", s.Status),
			zap.Float64("age_seconds", s.AgeSeconds),
		)
	}

	if len(stale) > 0 {
		r.logger.Info("reconciler: scan complete", zap.Int("stale_count", len(stale)))
	}
}
