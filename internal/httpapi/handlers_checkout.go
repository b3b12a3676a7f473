package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"flashreserve/internal/metrics"
	"flashreserve/internal/reservation"
)

// handleConfirm implements POST /api/v1/checkout/confirm: promotes a
// reservation into a durable order via the pending-first write.
func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	traceID := traceIDFrom(r.Context())
	userID, _ := userIDFrom(r.Context())

	order, err := a.Promoter.Promote(r.Context(), userID, req.ReservationID)
	metrics.ConfirmRequests.WithLabelValues(outcomeLabel(err)).Inc()
	if err != nil {
		if _, ok := reservation.AsError(err); !ok {
			a.Logger.Error("confirm failed", zap.String("reservation_id", req.ReservationID), zap.Error(err))
		}
		writeError(w, traceID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": order.OrderID,
		"status":   order.Status,
		"items": []map[string]interface{}{
			{
				"sku":            order.SKU,
				"quantity":       order.Quantity,
				"price_per_unit": order.PricePerUnit,
			},
		},
		"total": order.TotalAmount,
	})
}

// handleCancel implements POST /api/v1/checkout/cancel.
func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	traceID := traceIDFrom(r.Context())
	userID, _ := userIDFrom(r.Context())

	err := a.Promoter.Cancel(r.Context(), userID, req.ReservationID)
	metrics.CancelRequests.WithLabelValues(outcomeLabel(err)).Inc()
	if err != nil {
		if _, ok := reservation.AsError(err); !ok {
			a.Logger.Error("cancel failed", zap.String("reservation_id", req.ReservationID), zap.Error(err))
		}
		writeError(w, traceID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "canceled",
		"message": "reservation canceled and stock released",
	})
}

// handleGetOrder implements GET /api/v1/checkout/orders/{order_id}.
func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r.Context())

	orderID := chi.URLParam(r, "orderID")
	if !strings.HasPrefix(orderID, "ord_") {
		writeProblem(w, traceID, http.StatusBadRequest, "invalid-request", "Invalid request", "order_id must start with ord_")
		return
	}

	order, err := a.Promoter.Writer.GetOrderByID(r.Context(), orderID)
	if err != nil {
		a.Logger.Error("get order failed", zap.String("order_id", orderID), zap.Error(err))
		writeProblem(w, traceID, http.StatusInternalServerError, "internal", "Internal server error", "could not look up order")
		return
	}
	if order == nil {
		writeProblem(w, traceID, http.StatusNotFound, "order-not-found", "Order not found", "no order exists with that id")
		return
	}

	userID, _ := userIDFrom(r.Context())
	if order.UserID != userID {
		writeProblem(w, traceID, http.StatusNotFound, "order-not-found", "Order not found", "no order exists with that id")
		return
	}

	writeJSON(w, http.StatusOK, order)
}
