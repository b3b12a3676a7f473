package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flashreserve/db"
	"flashreserve/internal/auth"
	"flashreserve/internal/broadcast"
	"flashreserve/internal/reservation"
)

// testHarness wires a full API against in-memory fakes (stock/ledger/
// idempotency/rate limit) and sqlmock-backed relational repositories, so
// handler tests exercise the real router, service, and promoter rather
// than a stub.
type testHarness struct {
	API     *API
	Router  http.Handler
	Stock   *fakeStock
	Ledger  *fakeLedger
	Limiter *fakeRateLimiter
	Mock    sqlmock.Sqlmock
	Issuer  *auth.TokenIssuer
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	server := db.NewServerFromDB(mockDB, zap.NewNop())

	mock.ExpectPrepare("INSERT INTO audit_log").WillBeClosed()
	mock.ExpectPrepare("INSERT INTO audit_log").WillBeClosed()
	mock.ExpectPrepare("INSERT INTO orders").WillBeClosed()
	mock.ExpectPrepare("UPDATE orders SET status").WillBeClosed()
	mock.ExpectPrepare("SELECT o.order_id").WillBeClosed()
	mock.ExpectPrepare("SELECT o.order_id").WillBeClosed()
	writer, err := db.NewOrderWriter(server)
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })

	mock.ExpectPrepare("INSERT INTO users").WillBeClosed()
	mock.ExpectPrepare("SELECT user_id, password_hash").WillBeClosed()
	users, err := db.NewUserRepository(server)
	require.NoError(t, err)
	t.Cleanup(func() { users.Close() })

	stock := newFakeStock()
	ledger := newFakeLedger()
	limiter := &fakeRateLimiter{}
	broadcaster := broadcast.NewBroadcaster(nil)

	svc := reservation.NewService(stock, ledger, newFakeIdempotency(), limiter, &fakeAudit{}, broadcaster, zap.NewNop())
	svc.TTL = 5 * time.Minute
	svc.IdempotencyTTL = 310 * time.Second
	svc.ConfirmGrace = 5 * time.Second
	svc.MinQuantity = 1
	svc.MaxQuantity = 5
	svc.ReservePerMin = 10
	svc.ReservePerMinWin = time.Minute

	promoter := db.NewPromoter(writer, svc, zap.NewNop())
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)

	api := &API{
		Service:           svc,
		Promoter:          promoter,
		Users:             users,
		Issuer:            issuer,
		Broadcaster:       broadcaster,
		RateLimit:         limiter,
		Logger:            zap.NewNop(),
		IPRateLimitPerMin: 1000,
		RedisHealthy:      func() bool { return true },
	}

	return &testHarness{
		API:     api,
		Router:  NewRouter(api),
		Stock:   stock,
		Ledger:  ledger,
		Limiter: limiter,
		Mock:    mock,
		Issuer:  issuer,
	}
}

func (h *testHarness) bearer(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := h.Issuer.Issue(userID)
	require.NoError(t, err)
	return token
}

func doRequest(h *testHarness, method, path, body, token string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.Router.ServeHTTP(w, r)
	return w
}
