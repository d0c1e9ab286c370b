package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/vetcare-platform/internal/app/bootstrap"
	"github.com/wolfman30/vetcare-platform/internal/config"
	"github.com/wolfman30/vetcare-platform/internal/directory"
	"github.com/wolfman30/vetcare-platform/internal/observability/metrics"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("booking worker requires DATABASE_URL")
		os.Exit(1)
	}

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
	defer pool.Close()
	store := bootstrap.BuildBookingStore(pool, cfg, logger)

	db, err := directory.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open contact directory", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	reg := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(reg)

	email, provider := bootstrap.BuildEmailSender(ctx, cfg, logger)
	followUps := bootstrap.BuildFollowUps(cfg, store, directory.NewSQLDirectory(db), email, loc, bookingMetrics, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("booking worker started",
		"email_provider", provider,
		"reminder_interval", cfg.ReminderSweepInterval,
		"followup_interval", cfg.FollowUpSweepInterval,
	)
	wg := startWorkers(ctx, followUps, logger)
	<-ctx.Done()

	logger.Info("shutting down booking worker...")
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("booking worker stopped")
}

// startWorkers drains any backlog once, then runs both sweeps until ctx ends.
func startWorkers(ctx context.Context, f *bootstrap.FollowUps, logger *logging.Logger) *sync.WaitGroup {
	if n := f.Sweeper.Drain(ctx); n > 0 {
		logger.Info("follow-up backlog drained", "completed", n)
	}
	if _, err := f.ReminderWorker.ProcessDue(ctx); err != nil {
		logger.Error("initial reminder sweep failed", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.ReminderWorker.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		f.Sweeper.Start(ctx)
	}()
	return &wg
}
