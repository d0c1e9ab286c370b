package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

// VelocityChecker limits how many checkout sessions one pet owner can open
// in a rolling window.
type VelocityChecker struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

// VelocityConfig contains velocity check configuration.
type VelocityConfig struct {
	MaxCheckoutsPerOwner int
	CheckoutWindow       time.Duration
	Enabled              bool
}

// DefaultVelocityConfig returns default velocity limits.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		MaxCheckoutsPerOwner: 5,
		CheckoutWindow:       10 * time.Minute,
		Enabled:              true,
	}
}

// VelocityResult contains the result of a velocity check.
type VelocityResult struct {
	Allowed      bool
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	Message      string
}

// NewVelocityChecker creates a new velocity checker.
func NewVelocityChecker(redisClient *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	return &VelocityChecker{
		redis:  redisClient,
		logger: logger,
		config: config,
	}
}

// CheckCheckout counts a checkout attempt for the owner.
func (v *VelocityChecker) CheckCheckout(ctx context.Context, ownerID string) (*VelocityResult, error) {
	ctx, span := gatewayTracer.Start(ctx, "velocity.check_checkout")
	defer span.End()
	span.SetAttributes(attribute.String("vetcare.owner_id", ownerID))

	if v == nil || v.redis == nil || !v.config.Enabled {
		return &VelocityResult{Allowed: true}, nil
	}

	key := fmt.Sprintf("velocity:checkout:%s", ownerID)
	count, expiry, err := v.incrementAndGet(ctx, key, v.config.CheckoutWindow)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		// Fail open - allow the checkout if Redis is down
		return &VelocityResult{Allowed: true, Message: "velocity check unavailable"}, nil
	}

	result := &VelocityResult{
		Allowed:      count <= v.config.MaxCheckoutsPerOwner,
		CurrentCount: count,
		MaxAllowed:   v.config.MaxCheckoutsPerOwner,
		WindowExpiry: expiry,
	}
	if !result.Allowed {
		result.Message = fmt.Sprintf("exceeded %d checkout attempts in %s", v.config.MaxCheckoutsPerOwner, v.config.CheckoutWindow)
		v.logger.Warn("checkout velocity exceeded",
			"owner_id", ownerID,
			"count", count,
			"max", v.config.MaxCheckoutsPerOwner,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}
	return result, nil
}

// Reset clears the owner's counter after a successful payment.
func (v *VelocityChecker) Reset(ctx context.Context, ownerID string) error {
	if v == nil || v.redis == nil {
		return nil
	}
	return v.redis.Del(ctx, fmt.Sprintf("velocity:checkout:%s", ownerID)).Err()
}

func (v *VelocityChecker) incrementAndGet(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	// Set expiry only on first increment
	if count == 1 {
		v.redis.Expire(ctx, key, window)
	}
	ttl, err := v.redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return int(count), time.Now().Add(ttl), nil
}
