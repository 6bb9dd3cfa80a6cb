package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port             string
	Env              string
	LogLevel         string
	DatabaseURL      string
	DatabaseMaxConns int
	SalonTimezone    string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeBaseURL       string
	StripeCurrency      string
	StripeCaptureMethod string
	StripeTimeout       time.Duration
	StripeDryRun        bool

	// Velocity limits on payment authorizations per customer email
	VelocityMaxAttempts int
	VelocityWindow      time.Duration

	// HTTP edge
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Admin auth (Supabase session JWTs)
	SupabaseJWTSecret string
	AdminEmailDomains []string

	// Email
	EmailProvider      string
	SendGridAPIKey     string
	EmailFromAddress   string
	EmailFromName      string
	EmailReplyTo       string
	OperatorAlertEmail string
	OutboxInterval     time.Duration
	OutboxMaxAttempts  int
	OutboxBatchSize    int32

	// AWS (SES)
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables, after merging a
// local .env file when one is present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DatabaseMaxConns: getEnvAsInt("DATABASE_MAX_CONNS", 10),
		SalonTimezone:    getEnv("SALON_TIMEZONE", "Europe/London"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeBaseURL:       getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
		StripeCurrency:      strings.ToLower(getEnv("STRIPE_CURRENCY", "gbp")),
		StripeCaptureMethod: strings.ToLower(getEnv("STRIPE_CAPTURE_METHOD", "automatic")),
		StripeTimeout:       getEnvAsDuration("STRIPE_TIMEOUT", 8*time.Second),
		StripeDryRun:        getEnvAsBool("STRIPE_DRY_RUN", false),

		VelocityMaxAttempts: getEnvAsInt("VELOCITY_MAX_ATTEMPTS", 5),
		VelocityWindow:      getEnvAsDuration("VELOCITY_WINDOW", time.Hour),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		SupabaseJWTSecret: getEnv("SUPABASE_JWT_SECRET", ""),
		AdminEmailDomains: getEnvAsList("ADMIN_EMAIL_DOMAINS"),

		EmailProvider:      strings.ToLower(getEnv("EMAIL_PROVIDER", "stub")),
		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress:   getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:      getEnv("EMAIL_FROM_NAME", "Salon Bookings"),
		EmailReplyTo:       getEnv("EMAIL_REPLY_TO", ""),
		OperatorAlertEmail: getEnv("OPERATOR_ALERT_EMAIL", ""),
		OutboxInterval:     getEnvAsDuration("OUTBOX_INTERVAL", 5*time.Second),
		OutboxMaxAttempts:  getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 10),
		OutboxBatchSize:    int32(getEnvAsInt("OUTBOX_BATCH_SIZE", 25)),

		AWSRegion:           getEnv("AWS_REGION", "eu-west-2"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// Validate fails fast on settings the booking flow cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if strings.TrimSpace(c.StripeSecretKey) == "" && !c.StripeDryRun {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required (or set STRIPE_DRY_RUN=true)"))
	}
	if c.StripeDryRun && c.IsProduction() {
		errs = append(errs, errors.New("STRIPE_DRY_RUN is not allowed in production"))
	}
	if strings.TrimSpace(c.StripeWebhookSecret) == "" && c.IsProduction() {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required in production"))
	}
	switch c.StripeCaptureMethod {
	case "automatic", "manual":
	default:
		errs = append(errs, fmt.Errorf("STRIPE_CAPTURE_METHOD must be automatic or manual, got %q", c.StripeCaptureMethod))
	}
	if _, err := time.LoadLocation(c.SalonTimezone); err != nil {
		errs = append(errs, fmt.Errorf("SALON_TIMEZONE: %w", err))
	}
	switch c.EmailProvider {
	case "stub":
	case "sendgrid":
		if c.SendGridAPIKey == "" || c.EmailFromAddress == "" {
			errs = append(errs, errors.New("EMAIL_PROVIDER=sendgrid requires SENDGRID_API_KEY and EMAIL_FROM_ADDRESS"))
		}
	case "ses":
		if c.EmailFromAddress == "" {
			errs = append(errs, errors.New("EMAIL_PROVIDER=ses requires EMAIL_FROM_ADDRESS"))
		}
	default:
		errs = append(errs, fmt.Errorf("EMAIL_PROVIDER must be stub, sendgrid or ses, got %q", c.EmailProvider))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	return env == "production" || env == "prod"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
