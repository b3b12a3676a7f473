package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"flashreserve/internal/metrics"
	"flashreserve/internal/reservation"
)

// handleReserve implements POST /api/v1/inventory/reserve. The caller's
// identity comes from requireAuth; X-Idempotency-Key is optional but, if
// present, makes a retried reserve replay its original result rather than
// decrementing stock twice.
func (a *API) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	traceID := traceIDFrom(r.Context())
	userID, _ := userIDFrom(r.Context())
	idempotencyKey := r.Header.Get("X-Idempotency-Key")

	start := time.Now()
	result, err := a.Service.Reserve(r.Context(), userID, req.SKU, req.Quantity, idempotencyKey)
	metrics.ReserveLatency.Observe(time.Since(start).Seconds())
	metrics.ReserveRequests.WithLabelValues(outcomeLabel(err)).Inc()
	if err != nil {
		if _, ok := reservation.AsError(err); !ok {
			a.Logger.Error("reserve failed", zap.Error(err))
		}
		writeError(w, traceID, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleInventoryStatus implements GET /api/v1/inventory/{sku}.
func (a *API) handleInventoryStatus(w http.ResponseWriter, r *http.Request) {
	sku := normalizeSKU(chi.URLParam(r, "sku"))
	traceID := traceIDFrom(r.Context())

	status, err := a.Service.Status(r.Context(), sku)
	if err != nil {
		a.Logger.Error("inventory status failed", zap.String("sku", sku), zap.Error(err))
		writeError(w, traceID, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleInitialize implements POST /api/v1/inventory/{sku}/initialize,
// seeding or resetting a SKU's available count. Quantity is carried as a
// query parameter rather than a JSON body.
func (a *API) handleInitialize(w http.ResponseWriter, r *http.Request) {
	sku := normalizeSKU(chi.URLParam(r, "sku"))
	traceID := traceIDFrom(r.Context())

	quantity, err := strconv.ParseInt(r.URL.Query().Get("quantity"), 10, 64)
	if err != nil || quantity < 0 {
		writeProblem(w, traceID, http.StatusBadRequest, "invalid-request", "Invalid request", "quantity must be a non-negative integer")
		return
	}

	if err := a.Service.Initialize(r.Context(), sku, quantity); err != nil {
		a.Logger.Error("initialize failed", zap.String("sku", sku), zap.Error(err))
		writeError(w, traceID, err)
		return
	}

	status, err := a.Service.Status(r.Context(), sku)
	if err != nil {
		a.Logger.Error("initialize: status readback failed", zap.String("sku", sku), zap.Error(err))
		writeError(w, traceID, err)
		return
	}

	writeJSON(w, http.StatusCreated, status)
}
