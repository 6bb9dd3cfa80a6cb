package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-booking/pkg/logging"
)

var velocityTracer = otel.Tracer("salon.internal.payments.velocity")

// VelocityChecker limits how many payment authorizations one customer email
// can start inside a rolling window.
type VelocityChecker struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

// VelocityConfig contains velocity check configuration.
type VelocityConfig struct {
	MaxAttemptsPerEmail int
	Window              time.Duration
	Enabled             bool
}

// DefaultVelocityConfig returns default velocity limits.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		MaxAttemptsPerEmail: 5,
		Window:              time.Hour,
		Enabled:             true,
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

// NewVelocityChecker creates a new velocity checker. A nil client disables
// the check.
func NewVelocityChecker(redisClient *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	if config.Window <= 0 {
		config.Window = time.Hour
	}
	return &VelocityChecker{
		redis:  redisClient,
		logger: logger,
		config: config,
	}
}

// Allow records an authorization attempt for email and returns
// ErrVelocityExceeded once the limit is passed.
func (v *VelocityChecker) Allow(ctx context.Context, email string) error {
	result, err := v.CheckAuthorizationVelocity(ctx, email)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return fmt.Errorf("%w: %s", ErrVelocityExceeded, result.Message)
	}
	return nil
}

// CheckAuthorizationVelocity increments the attempt counter for email.
func (v *VelocityChecker) CheckAuthorizationVelocity(ctx context.Context, email string) (*VelocityResult, error) {
	ctx, span := velocityTracer.Start(ctx, "velocity.check_authorization")
	defer span.End()
	span.SetAttributes(attribute.String("velocity.check_type", "authorization"))

	if v == nil || v.redis == nil || !v.config.Enabled || v.config.MaxAttemptsPerEmail <= 0 {
		return &VelocityResult{Allowed: true}, nil
	}

	key := velocityKey(email)
	count, expiry, err := v.incrementAndGet(ctx, key, v.config.Window)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		// Fail open - a Redis outage must not block bookings
		return &VelocityResult{Allowed: true, Message: "velocity check unavailable"}, nil
	}

	result := &VelocityResult{
		Allowed:      count <= v.config.MaxAttemptsPerEmail,
		CurrentCount: count,
		MaxAllowed:   v.config.MaxAttemptsPerEmail,
		WindowExpiry: expiry,
	}

	if !result.Allowed {
		result.Message = fmt.Sprintf("exceeded %d payment attempts in %s", v.config.MaxAttemptsPerEmail, v.config.Window)
		v.logger.Warn("authorization velocity exceeded",
			"customer_email", email,
			"count", count,
			"max", v.config.MaxAttemptsPerEmail,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}

	return result, nil
}

// incrementAndGet increments a counter and returns the new value with expiry time.
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

// ResetAuthorizationVelocity clears the counter for an email (admin use).
func (v *VelocityChecker) ResetAuthorizationVelocity(ctx context.Context, email string) error {
	if v.redis == nil {
		return nil
	}
	return v.redis.Del(ctx, velocityKey(email)).Err()
}

// GetAuthorizationStats returns the current counter for an email without
// incrementing it.
func (v *VelocityChecker) GetAuthorizationStats(ctx context.Context, email string) (*VelocityResult, error) {
	if v.redis == nil {
		return &VelocityResult{Allowed: true}, nil
	}
	key := velocityKey(email)

	count, err := v.redis.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return &VelocityResult{Allowed: true, MaxAllowed: v.config.MaxAttemptsPerEmail}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payments: velocity stats: %w", err)
	}

	ttl, _ := v.redis.TTL(ctx, key).Result()

	return &VelocityResult{
		Allowed:      count < v.config.MaxAttemptsPerEmail,
		CurrentCount: count,
		MaxAllowed:   v.config.MaxAttemptsPerEmail,
		WindowExpiry: time.Now().Add(ttl),
	}, nil
}

func velocityKey(email string) string {
	return "velocity:authorization:" + strings.ToLower(strings.TrimSpace(email))
}
