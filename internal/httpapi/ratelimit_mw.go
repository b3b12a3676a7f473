package httpapi

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ipRateLimit enforces the per-IP fixed-window budget (RATE_LIMIT_PER_IP_MINUTE)
// ahead of the per-user reserve limit the service itself enforces. It is
// best-effort: a rate limiter error never blocks the request, it only logs.
func (a *API) ipRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.RateLimit == nil || a.IPRateLimitPerMin <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		allowed, retryAfter, err := a.RateLimit.Allow(r.Context(), ip, "http", a.IPRateLimitPerMin, time.Minute)
		if err != nil {
			a.Logger.Warn("ip rate limit check failed", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			traceID := traceIDFrom(r.Context())
			w.Header().Set("Retry-After", retryAfter.String())
			writeProblem(w, traceID, http.StatusTooManyRequests, "rate-limited", "Too many requests", "per-IP request budget exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}
