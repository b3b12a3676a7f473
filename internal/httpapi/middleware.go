package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flashreserve/internal/auth"
)

type ctxKey int

const (
	ctxKeyTraceID ctxKey = iota
	ctxKeyUserID
)

// requestID assigns (or reuses) X-Request-ID, storing it for handlers
// and error bodies to read as trace_id.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKeyTraceID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// timing stamps X-Process-Time with the handler's wall-clock duration.
func timing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		w.Header().Set("X-Process-Time", time.Since(start).String())
	})
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)),
				zap.String("trace_id", traceIDFrom(r.Context())),
			)
		})
	}
}

func traceIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTraceID).(string); ok {
		return v
	}
	return ""
}

func userIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyUserID).(string)
	return v, ok
}

// requireAuth extracts and verifies the bearer token, rejecting the
// request with 401 if absent or invalid. Health and auth routes never
// pass through this middleware.
func requireAuth(issuer *auth.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := traceIDFrom(r.Context())

			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				writeProblem(w, traceID, http.StatusUnauthorized, "unauthenticated", "Unauthenticated", "missing bearer token")
				return
			}

			userID, err := issuer.Verify(strings.TrimPrefix(header, prefix))
			if err != nil {
				writeProblem(w, traceID, http.StatusUnauthorized, "unauthenticated", "Unauthenticated", "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
