package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// loginRequest/registerRequest carry user_id plus password, no separate
// username/email field.
type loginRequest struct {
	UserID   string `json:"user_id" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6"`
}

type registerRequest struct {
	UserID   string `json:"user_id" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6"`
}

// reserveRequest mirrors ReserveInventoryRequest's sku pattern; quantity
// bounds are enforced again at the service layer with the configured
// min/max rather than hardcoded here.
type reserveRequest struct {
	SKU      string `json:"sku" validate:"required,max=50,skuformat"`
	Quantity int64  `json:"quantity" validate:"required,min=1"`
}

// normalize upper-cases SKU before validation and before it reaches the
// service layer, so equality is byte-equality regardless of caller casing.
func (r *reserveRequest) normalize() {
	r.SKU = normalizeSKU(r.SKU)
}

type confirmRequest struct {
	ReservationID string `json:"reservation_id" validate:"required"`
}

type cancelRequest struct {
	ReservationID string `json:"reservation_id" validate:"required"`
}

// decodeAndValidate reads a JSON body into dst and runs struct tag
// validation, returning a KindInvalidRequest-shaped problem detail on
// either failure so handlers never hand a malformed request to the
// service layer.
func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	traceID := traceIDFrom(r.Context())

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeProblem(w, traceID, http.StatusBadRequest, "invalid-request", "Invalid request", fmt.Sprintf("malformed request body: %v", err))
		return false
	}

	if n, ok := dst.(interface{ normalize() }); ok {
		n.normalize()
	}

	if err := a.validate.Struct(dst); err != nil {
		fields := map[string]string{}
		for _, fe := range validationErrors(err) {
			fields[fe.field] = fe.message
		}
		p := problem{
			Type:    problemBase + "invalid-request",
			Title:   "Invalid request",
			Status:  http.StatusBadRequest,
			Detail:  "request failed validation",
			TraceID: traceID,
			Errors:  fields,
		}
		writeJSON(w, http.StatusBadRequest, p)
		return false
	}

	return true
}
