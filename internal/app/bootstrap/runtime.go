package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/vetcare-platform/internal/bookings"
	appconfig "github.com/wolfman30/vetcare-platform/internal/config"
	"github.com/wolfman30/vetcare-platform/internal/payments"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildVelocityChecker returns the checkout limiter, or nil without Redis.
func BuildVelocityChecker(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) *payments.VelocityChecker {
	if redisClient == nil {
		return nil
	}
	vc := payments.DefaultVelocityConfig()
	if cfg.CheckoutMaxPerOwner > 0 {
		vc.MaxCheckoutsPerOwner = cfg.CheckoutMaxPerOwner
	}
	if cfg.CheckoutWindow > 0 {
		vc.CheckoutWindow = cfg.CheckoutWindow
	}
	return payments.NewVelocityChecker(redisClient, vc, logger)
}

// LoadLocation resolves the clinic timezone that booking slots are written in.
func LoadLocation(cfg *appconfig.Config) (*time.Location, error) {
	name := strings.TrimSpace(cfg.ClinicTimezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: clinic timezone %q: %w", name, err)
	}
	return loc, nil
}

// OpenPostgres returns a verified pool, or nil when DATABASE_URL is unset.
func OpenPostgres(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// BuildBookingStore uses Postgres when a pool is available and falls back to
// the in-memory store for local development.
func BuildBookingStore(pool *pgxpool.Pool, cfg *appconfig.Config, logger *logging.Logger) bookings.Store {
	if pool != nil {
		return bookings.NewPostgresStore(pool)
	}
	if logger != nil {
		logger.Warn("DATABASE_URL not set; using in-memory booking store", "env", cfg.Env)
	}
	return bookings.NewMemoryStore()
}
