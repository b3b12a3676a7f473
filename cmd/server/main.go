// Command server runs the flash-sale reservation API: HTTP handlers,
// the expiry sweeper, and the stale-order reconciler, all sharing one
// Redis client and one PostgreSQL pool. Shutdown stops accepting new
// connections, then drains in-flight requests under a bounded timeout
// before releasing every held resource.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"flashreserve/db"
	"flashreserve/internal/auth"
	"flashreserve/internal/broadcast"
	"flashreserve/internal/config"
	"flashreserve/internal/httpapi"
	"flashreserve/internal/reservation"
	"flashreserve/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := store.NewClient(ctx, cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	dbConfig, err := db.ConfigFromURL(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	dbServer, err := db.Connect(dbConfig, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbServer.Close()

	stock := store.NewStockStore(redisClient)
	ledger := store.NewLedger(redisClient)
	idempotency := store.NewIdempotencyCache(redisClient)
	rateLimiter := store.NewRateLimiter(redisClient)

	writer, err := db.NewOrderWriter(dbServer)
	if err != nil {
		return fmt.Errorf("build order writer: %w", err)
	}
	defer writer.Close()

	auditBatcher := db.NewAuditBatcher(writer, 100, 50*time.Millisecond)
	defer auditBatcher.Close()

	users, err := db.NewUserRepository(dbServer)
	if err != nil {
		return fmt.Errorf("build user repository: %w", err)
	}
	defer users.Close()

	broadcaster := broadcast.NewBroadcaster(logger)

	svc := reservation.NewService(stock, ledger, idempotency, rateLimiter, writer, broadcaster, logger)
	svc.TTL = cfg.ReservationTTL
	svc.IdempotencyTTL = cfg.IdempotencyTTL
	svc.ConfirmGrace = cfg.ConfirmGracePeriod
	svc.MinQuantity = int64(cfg.MinQuantity)
	svc.MaxQuantity = int64(cfg.MaxQuantity)
	svc.ReservePerMin = int64(cfg.RateLimitPerMin)
	svc.ReservePerMinWin = time.Minute
	svc.SweepAudit = auditBatcher

	promoter := db.NewPromoter(writer, svc, logger)
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiry)

	sweeper := reservation.NewSweeper(ledger, svc, cfg.ExpiryCheckEvery, logger)
	go sweeper.Run(ctx)

	reconciler := db.NewReconciler(dbServer, 10*time.Minute, time.Minute, logger)
	go reconciler.Run(ctx)

	api := &httpapi.API{
		Service:           svc,
		Promoter:          promoter,
		Users:             users,
		Issuer:            issuer,
		Broadcaster:       broadcaster,
		RateLimit:         rateLimiter,
		Logger:            logger,
		IPRateLimitPerMin: int64(cfg.RateLimitIPPerMin),
		RedisHealthy:      func() bool { return redisClient.Healthy(ctx) },
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      httpapi.NewRouter(api),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
		httpServer.Close()
	}

	return nil
}
