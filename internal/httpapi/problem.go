// Package httpapi is the HTTP transport: chi routing, RFC 7807 error
// mapping, request validation, and the handlers that translate JSON
// bodies into reservation/auth/order operations.
package httpapi

import (
	"encoding/json"
	"net/http"

	"flashreserve/internal/reservation"
)

// problem is the RFC 7807 response body every error path returns.
type problem struct {
	Type       string            `json:"type"`
	Title      string            `json:"title"`
	Status     int               `json:"status"`
	Detail     string            `json:"detail,omitempty"`
	TraceID    string            `json:"trace_id"`
	Errors     map[string]string `json:"errors,omitempty"`
	Available  *int64            `json:"available,omitempty"`
	RetryAfter *float64          `json:"retry_after,omitempty"`
}

const problemBase = "https://flashreserve.example/problems/"

// kindProblem maps each reservation.Kind to its stable type/status pair.
var kindProblem = map[reservation.Kind]struct {
	Type   string
	Title  string
	Status int
}{
	reservation.KindInsufficientInventory: {problemBase + "insufficient-inventory", "Insufficient inventory", http.StatusConflict},
	reservation.KindRateLimited:           {problemBase + "rate-limited", "Too many requests", http.StatusTooManyRequests},
	reservation.KindInvalidRequest:        {problemBase + "invalid-request", "Invalid request", http.StatusBadRequest},
	reservation.KindWrongOwner:            {problemBase + "wrong-owner", "Forbidden", http.StatusForbidden},
	reservation.KindNotFound:              {problemBase + "reservation-not-found", "Reservation not found", http.StatusNotFound},
	reservation.KindExpired:               {problemBase + "reservation-expired", "Reservation expired", http.StatusNotFound},
	reservation.KindInternal:              {problemBase + "internal", "Internal server error", http.StatusInternalServerError},
}

// writeError maps err to the stable RFC 7807 body. Any error that isn't
// a *reservation.Error is treated as internal.
func writeError(w http.ResponseWriter, traceID string, err error) {
	kind := reservation.KindInternal
	var rerr *reservation.Error
	if re, ok := reservation.AsError(err); ok {
		kind = re.Kind
		rerr = re
	}

	meta := kindProblem[kind]
	if meta.Type == "" {
		meta = kindProblem[reservation.KindInternal]
	}

	p := problem{
		Type:    meta.Type,
		Title:   meta.Title,
		Status:  meta.Status,
		TraceID: traceID,
	}
	if rerr != nil {
		p.Detail = rerr.Message
		if len(rerr.FieldErrors) > 0 {
			p.Errors = rerr.FieldErrors
		}
		if kind == reservation.KindInsufficientInventory {
			a := rerr.Available
			p.Available = &a
		}
		if kind == reservation.KindRateLimited {
			seconds := rerr.RetryAfter.Seconds()
			p.RetryAfter = &seconds
		}
	} else if err != nil {
		p.Detail = "an internal error occurred"
	}

	writeJSON(w, meta.Status, p)
}

func writeProblem(w http.ResponseWriter, traceID string, status int, typeSuffix, title, detail string) {
	writeJSON(w, status, problem{
		Type:    problemBase + typeSuffix,
		Title:   title,
		Status:  status,
		Detail:  detail,
		TraceID: traceID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
