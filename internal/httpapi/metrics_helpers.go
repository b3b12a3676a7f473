package httpapi

import (
	"flashreserve/internal/metrics"
	"flashreserve/internal/reservation"
)

// outcomeLabel maps a reservation error (or nil) onto the shared
// Prometheus outcome label set.
func outcomeLabel(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	re, ok := reservation.AsError(err)
	if !ok {
		return metrics.OutcomeInternal
	}
	switch re.Kind {
	case reservation.KindInsufficientInventory:
		return metrics.OutcomeRejected
	case reservation.KindRateLimited:
		return metrics.OutcomeRateLimit
	case reservation.KindNotFound:
		return metrics.OutcomeNotFound
	case reservation.KindWrongOwner:
		return metrics.OutcomeWrongOwner
	case reservation.KindExpired:
		return metrics.OutcomeExpired
	case reservation.KindInvalidRequest:
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeInternal
	}
}
