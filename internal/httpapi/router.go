package httpapi

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"flashreserve/db"
	"flashreserve/internal/auth"
	"flashreserve/internal/broadcast"
	"flashreserve/internal/reservation"
)

// API holds every dependency the HTTP handlers need.
type API struct {
	Service     *reservation.Service
	Promoter    *db.Promoter
	Users       *db.UserRepository
	Issuer      *auth.TokenIssuer
	Broadcaster *broadcast.Broadcaster
	RateLimit   reservation.RateLimiter
	Logger      *zap.Logger

	IPRateLimitPerMin int64
	RedisHealthy      func() bool

	validate *validator.Validate
}

// NewRouter wires the full HTTP surface onto a chi router.
func NewRouter(api *API) http.Handler {
	if api.Logger == nil {
		api.Logger = zap.NewNop()
	}
	api.validate = validator.New()
	if err := api.validate.RegisterValidation("skuformat", validateSKU); err != nil {
		panic(fmt.Sprintf("httpapi: register skuformat validator: %v", err))
	}
	// Error bodies should name fields the way callers sent them, not the
	// Go struct field name.
	api.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestID)
	r.Use(timing)
	r.Use(accessLog(api.Logger))
	r.Use(api.ipRateLimit)

	r.Get("/health", api.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", api.handleLogin)
		r.Post("/auth/register", api.handleRegister)

		r.Get("/inventory/{sku}", api.handleInventoryStatus)
		r.Get("/inventory/ws/{sku}", api.handleInventoryWS)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth(api.Issuer))

			r.Post("/inventory/reserve", api.handleReserve)
			r.Post("/inventory/{sku}/initialize", api.handleInitialize)

			r.Post("/checkout/confirm", api.handleConfirm)
			r.Post("/checkout/cancel", api.handleCancel)
			r.Get("/checkout/orders/{orderID}", api.handleGetOrder)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
