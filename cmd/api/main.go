package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/salon-booking/cmd/mainconfig"
	"github.com/wolfman30/salon-booking/internal/api/router"
	"github.com/wolfman30/salon-booking/internal/bookings"
	"github.com/wolfman30/salon-booking/internal/catalog"
	"github.com/wolfman30/salon-booking/internal/checkout"
	appconfig "github.com/wolfman30/salon-booking/internal/config"
	"github.com/wolfman30/salon-booking/internal/customers"
	"github.com/wolfman30/salon-booking/internal/events"
	"github.com/wolfman30/salon-booking/internal/notify"
	"github.com/wolfman30/salon-booking/internal/observability/metrics"
	"github.com/wolfman30/salon-booking/internal/payments"
	"github.com/wolfman30/salon-booking/internal/reconcile"
	"github.com/wolfman30/salon-booking/internal/staff"
	"github.com/wolfman30/salon-booking/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting salon booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"capture_method", cfg.StripeCaptureMethod,
		"stripe_dry_run", cfg.StripeDryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.SalonTimezone)
	if err != nil {
		logger.Error("invalid salon timezone", "error", err)
		os.Exit(1)
	}

	pool, err := connectPostgresPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// The incident ledger runs on database/sql over the same pool.
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	redisClient := connectRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	metricsHandler, bookingMetrics := setupBookingMetrics()

	sender, err := buildEmailSender(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to configure email", "error", err)
		os.Exit(1)
	}
	notifier := notify.NewService(sender, cfg.OperatorAlertEmail, logger).WithReplyTo(cfg.EmailReplyTo)

	catalogRepo := catalog.NewPostgresRepository(pool)
	bookingSvc := bookings.NewService(bookings.NewRepository(pool), logger).WithLocation(loc)
	incidentStore := reconcile.NewIncidentStore(sqlDB)
	processor := payments.NewStripeIntentService(payments.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		BaseURL:       cfg.StripeBaseURL,
		Currency:      cfg.StripeCurrency,
		CaptureMethod: cfg.StripeCaptureMethod,
		Timeout:       cfg.StripeTimeout,
		DryRun:        cfg.StripeDryRun,
	}, logger)
	velocity := payments.NewVelocityChecker(redisClient, payments.VelocityConfig{
		MaxAttemptsPerEmail: cfg.VelocityMaxAttempts,
		Window:              cfg.VelocityWindow,
		Enabled:             cfg.VelocityMaxAttempts > 0,
	}, logger)

	checkoutSvc := checkout.NewService(checkout.Deps{
		Pricer:    catalog.NewPricer(catalogRepo, logger),
		Processor: processor,
		Velocity:  velocity,
		Attempts:  checkout.NewAttemptStore(pool),
		Bookings:  bookingSvc,
		Incidents: incidentStore,
		Alerts:    notifier,
		Metrics:   bookingMetrics,
		Logger:    logger,
		Location:  loc,
	})

	webhook := payments.NewStripeWebhookHandler(
		cfg.StripeWebhookSecret,
		checkoutSvc,
		events.NewProcessedStore(pool),
		logger,
	).WithMetrics(bookingMetrics)

	deliverer := events.NewDeliverer(events.NewOutboxStore(pool), notifier, logger).
		WithInterval(cfg.OutboxInterval).
		WithMaxAttempts(cfg.OutboxMaxAttempts).
		WithBatchSize(cfg.OutboxBatchSize)
	delivererDone := make(chan struct{})
	go func() {
		defer close(delivererDone)
		deliverer.Start(ctx)
	}()

	r := router.New(&router.Config{
		Logger:             logger,
		Catalog:            catalog.NewHandler(catalogRepo, logger),
		Checkout:           checkout.NewHandler(checkoutSvc, logger),
		StripeWebhook:      webhook,
		Bookings:           bookingSvc,
		Customers:          customers.NewHandler(customers.NewPostgresRepository(pool), logger),
		Staff:              staff.NewHandler(staff.NewRepository(pool), logger),
		Incidents:          reconcile.NewHandler(incidentStore, logger),
		Velocity:           payments.NewVelocityHandler(velocity, logger),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		SupabaseJWTSecret:  cfg.SupabaseJWTSecret,
		AdminEmailDomains:  cfg.AdminEmailDomains,
		HealthCheck:        healthCheck(pool, sqlDB),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	select {
	case <-delivererDone:
	case <-shutdownCtx.Done():
		logger.Warn("outbox deliverer did not stop before shutdown deadline")
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func connectPostgresPool(ctx context.Context, databaseURL string, maxConns int) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is empty")
	}
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// connectRedis returns nil when Redis is not configured or unreachable;
// velocity checks then fail open.
func connectRedis(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set; velocity checks disabled")
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable; velocity checks disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

func setupBookingMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewBookingMetrics(reg)
}

func buildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (notify.EmailSender, error) {
	switch cfg.EmailProvider {
	case "sendgrid":
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger), nil
	case "ses":
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger), nil
	default:
		return notify.NewStubEmailSender(logger), nil
	}
}

func healthCheck(pool *pgxpool.Pool, db *sql.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("incident store: %w", err)
		}
		return nil
	}
}
