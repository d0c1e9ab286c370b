package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/vetcare-platform/internal/api/router"
	"github.com/wolfman30/vetcare-platform/internal/app/bootstrap"
	"github.com/wolfman30/vetcare-platform/internal/bookings"
	appconfig "github.com/wolfman30/vetcare-platform/internal/config"
	"github.com/wolfman30/vetcare-platform/internal/directory"
	httpmiddleware "github.com/wolfman30/vetcare-platform/internal/http/middleware"
	"github.com/wolfman30/vetcare-platform/internal/observability/metrics"
	"github.com/wolfman30/vetcare-platform/internal/payments"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

func main() {
	// .env is optional outside local development.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting vetcare API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc, err := bootstrap.LoadLocation(cfg)
	if err != nil {
		logger.Error("invalid clinic timezone", "error", err)
		os.Exit(1)
	}

	pool, err := bootstrap.OpenPostgres(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}
	store := bootstrap.BuildBookingStore(pool, cfg, logger)

	contacts, closeContacts := setupDirectory(cfg, logger)
	defer closeContacts()

	registry, metricsHandler := setupMetrics()
	bookingMetrics := metrics.NewBookingMetrics(registry)

	email, provider := bootstrap.BuildEmailSender(ctx, cfg, logger)
	logger.Info("email sender configured", "provider", provider)
	followUps := bootstrap.BuildFollowUps(cfg, store, contacts, email, loc, bookingMetrics, logger)

	bookingService := bookings.NewService(store, loc, logger)

	orders := payments.NewOrdersClient(cfg.PaymentGatewayKeyID, cfg.PaymentGatewayKeySecret, cfg.PaymentGatewayTimeout, logger).
		WithBaseURL(cfg.PaymentGatewayBaseURL).
		WithDryRun(cfg.PaymentDryRun)
	checkout := payments.NewCheckoutService(store, bookingService, orders, orders.KeyID(), cfg.PaymentCurrency, logger).
		WithMetrics(bookingMetrics)
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	velocity := bootstrap.BuildVelocityChecker(redisClient, cfg, logger)
	if velocity != nil {
		checkout.WithLimiter(velocity)
	}

	webhook, webhookEvents := setupWebhook(cfg, store, followUps, pool, bookingMetrics, logger)
	if webhook != nil && velocity != nil {
		webhook.WithThrottleReset(velocity)
	}

	limiter := httpmiddleware.NewRateLimiter(1, 10)
	go limiter.RunEviction(ctx, time.Minute, 10*time.Minute)

	r := router.New(&router.Config{
		Logger:             logger,
		Bookings:           bookings.NewHandler(bookingService, logger),
		Checkout:           payments.NewCheckoutHandler(checkout, logger),
		PaymentWebhook:     webhook,
		WebhookEvents:      webhookEvents,
		AuthJWTSecret:      cfg.AuthJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		CheckoutLimiter:    limiter,
		HealthCheck:        healthCheck(pool),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics builds a private registry so tests can create it repeatedly.
func setupMetrics() (*prometheus.Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// setupDirectory reads contacts from the users table when a database is
// configured. Without one, an empty static directory means emails are skipped.
func setupDirectory(cfg *appconfig.Config, logger *logging.Logger) (directory.Lookup, func()) {
	noop := func() {}
	if cfg.DatabaseURL == "" {
		return directory.Static{}, noop
	}
	db, err := directory.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Warn("contact directory unavailable", "error", err)
		return directory.Static{}, noop
	}
	return directory.NewSQLDirectory(db), func() { closeDB(db, logger) }
}

func closeDB(db *sql.DB, logger *logging.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("close contact directory", "error", err)
	}
}

func setupWebhook(cfg *appconfig.Config, store bookings.Store, followUps *bootstrap.FollowUps, pool *pgxpool.Pool, m *metrics.BookingMetrics, logger *logging.Logger) (*payments.WebhookHandler, *payments.WebhookEventsHandler) {
	if cfg.PaymentWebhookSecret == "" {
		logger.Warn("PAYMENT_WEBHOOK_SECRET not set; payment webhooks disabled")
		return nil, nil
	}
	handler := payments.NewWebhookHandler(cfg.PaymentWebhookSecret, store, followUps.Processor, logger).
		WithMetrics(m)
	if pool == nil {
		return handler, nil
	}
	log := payments.NewWebhookLog(pool)
	handler.WithEventLog(log)
	return handler, payments.NewWebhookEventsHandler(log, logger)
}

func healthCheck(pool *pgxpool.Pool) func(ctx context.Context) error {
	if pool == nil {
		return nil
	}
	return func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	}
}
