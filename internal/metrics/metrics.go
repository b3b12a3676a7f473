// Package metrics exposes Prometheus counters/histograms for the
// reservation hot path: total requests, successes, conflict/
// insufficient-inventory errors, and latency, emitted continuously from
// the running service rather than a one-shot load-test report.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReserveRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashreserve_reserve_requests_total",
		Help: "Reservation attempts by outcome.",
	}, []string{"outcome"})

	ReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flashreserve_reserve_duration_seconds",
		Help:    "Latency of the reserve operation.",
		Buckets: prometheus.DefBuckets,
	})

	ConfirmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashreserve_confirm_requests_total",
		Help: "Checkout confirmation attempts by outcome.",
	}, []string{"outcome"})

	CancelRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashreserve_cancel_requests_total",
		Help: "Checkout cancellation attempts by outcome.",
	}, []string{"outcome"})

	SweeperReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashreserve_sweeper_released_total",
		Help: "Reservations released by the expiry sweeper.",
	})

	InventoryAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flashreserve_inventory_available",
		Help: "Most recently observed available units for a SKU.",
	}, []string{"sku"})

	WebsocketSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flashreserve_websocket_subscribers",
		Help: "Live WebSocket subscriber count for a SKU.",
	}, []string{"sku"})
)

// Outcome labels shared by the request counters.
const (
	OutcomeSuccess    = "success"
	OutcomeRejected   = "rejected"
	OutcomeRateLimit  = "rate_limited"
	OutcomeNotFound   = "not_found"
	OutcomeWrongOwner = "wrong_owner"
	OutcomeExpired    = "expired"
	OutcomeInternal   = "internal"
)
