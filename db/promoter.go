package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flashreserve/internal/reservation"
)

// Promoter implements the pending-first checkout-confirmation write:
// the order row is created in "pending" state before
// the reservation is consumed, so a crash between the two writes always
// leaves a recoverable "pending" order rather than a silently dropped
// purchase or a confirmed order with no corresponding stock consumption.
type Promoter struct {
	Writer  *OrderWriter
	Service *reservation.Service
	Logger  *zap.Logger
}

func NewPromoter(writer *OrderWriter, service *reservation.Service, logger *zap.Logger) *Promoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{Writer: writer, Service: service, Logger: logger}
}

// newOrderID mints a client-visible order id: ord_ plus a 10-hex-digit
// suffix, the same scheme the reservation id uses with its rsv_ prefix.
func newOrderID() string {
	return "ord_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// Promote confirms a reservation and durably records it as an order.
// Step order:
//  1. insert order row, status=pending
//  2. consume the reservation (Service.Confirm)
//  3. on failure: mark the order failed, return the confirm error
//  4. on success: mark the order confirmed and insert its line item in
//     one transaction
func (p *Promoter) Promote(ctx context.Context, userID, reservationID string) (*Order, error) {
	orderID := newOrderID()

	if _, err := p.Writer.CreateOrder(ctx, orderID, reservationID, userID, "pending"); err != nil {
		return nil, fmt.Errorf("promote: create pending order: %w", err)
	}

	r, err := p.Service.Confirm(ctx, userID, reservationID)
	if err != nil {
		if updateErr := p.Writer.UpdateOrderStatus(ctx, orderID, "failed"); updateErr != nil {
			p.Logger.Error("promote: failed to mark order failed", zap.String("order_id", orderID), zap.Error(updateErr))
		}
		return nil, err
	}

	if err := p.Writer.ConfirmOrderTx(ctx, orderID, r.SKU, r.Quantity); err != nil {
		p.Logger.Error("promote: confirm transaction failed after reservation consumed",
			zap.String("order_id", orderID), zap.String("reservation_id", reservationID), zap.Error(err))
		return nil, fmt.Errorf("promote: confirm order: %w", err)
	}

	return &Order{
		OrderID:       orderID,
		ReservationID: reservationID,
		UserID:        userID,
		Status:        "confirmed",
		SKU:           r.SKU,
		Quantity:      r.Quantity,
	}, nil
}

// Cancel cancels a reservation and, if an order was already created for
// it in the pending state (the caller retried after a transient error),
// marks that order canceled too.
func (p *Promoter) Cancel(ctx context.Context, userID, reservationID string) error {
	if err := p.Service.Cancel(ctx, userID, reservationID); err != nil {
		return err
	}

	existing, err := p.Writer.GetOrderByReservationID(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("cancel: lookup existing order: %w", err)
	}
	if existing != nil && existing.Status == "pending" {
		if err := p.Writer.UpdateOrderStatus(ctx, existing.OrderID, "canceled"); err != nil {
			return fmt.Errorf("cancel: update order status: %w", err)
		}
	}

	return nil
}
