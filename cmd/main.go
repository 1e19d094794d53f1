/**
 * @description
 * This is the main entry point for the billing-service. It starts the HTTP
 * server that serves the merchant-facing payment endpoints and the payment
 * processor webhook, and runs the cron scheduler that generates recurring
 * invoices in the same process.
 *
 * Key features:
 * - Loads application configuration from environment variables.
 * - Establishes a pgx connection pool tuned for high-traffic scenarios.
 * - Connects to Redis (rate limiting) and RabbitMQ (event publishing); both
 *   are optional and the service degrades gracefully without them.
 * - Implements graceful shutdown for the HTTP server and the scheduler.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: PostgreSQL connection pooling.
 * - github.com/redis/go-redis/v9: Redis client for rate limiting.
 * - The service's internal packages for config, API handling, the service
 *   layer, and the Stripe and RabbitMQ integrations.
 */
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/facturio/billing-service/internal/api"
	"github.com/facturio/billing-service/internal/app"
	"github.com/facturio/billing-service/internal/config"
	"github.com/facturio/billing-service/internal/store"
	"github.com/facturio/billing-service/pkg/rabbitmq"
	"github.com/facturio/billing-service/pkg/stripeclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	// Load application configuration.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	for name, value := range map[string]string{
		"STRIPE_SECRET_KEY":     cfg.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET": cfg.StripeWebhookSecret,
		"AUTH_JWT_SECRET":       cfg.AuthJWTSecret,
		"INTERNAL_API_KEY":      cfg.InternalAPIKey,
	} {
		if value == "" {
			logger.Error("missing required configuration", "variable", name)
			os.Exit(1)
		}
	}

	ctx := context.Background()

	// Establish database connection with connection pool configuration.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Redis is only used for rate limiting, so a missing or unreachable
	// instance downgrades the service rather than stopping it.
	var rateLimiter api.RateLimiter
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("unable to parse Redis URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, rate limiting disabled", "error", err)
		} else {
			rateLimiter = app.NewRedisPaymentRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
			logger.Info("redis connection established")
		}
		cancel()
	} else {
		logger.Warn("REDIS_URL not set, rate limiting disabled")
	}

	// RabbitMQ is used for best-effort invoice.paid events. A missing broker
	// only disables downstream notifications.
	var publisher app.EventPublisher
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, "billing_events")
		if err != nil {
			logger.Warn("rabbitmq unreachable, event publishing disabled", "error", err)
		} else {
			defer producer.Close()
			publisher = producer
			logger.Info("rabbitmq producer connected")
		}
	} else {
		logger.Warn("RABBITMQ_URL not set, event publishing disabled")
	}

	// Initialize dependencies.
	repository := store.NewPostgresRepository(dbpool)

	// Ensure required tables exist (idempotent). The generation ledger and
	// document numbering rely on these constraints, so failing to establish
	// them is fatal.
	if err := repository.EnsureSchema(ctx); err != nil {
		logger.Error("unable to ensure database schema", "error", err)
		os.Exit(1)
	}
	gateway := stripeclient.NewClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	service := app.NewService(repository, repository, gateway, logger, cfg.PlatformFeePercent, cfg.AppBaseURL)
	reconciler := app.NewReconciler(repository, publisher, logger)
	jobs := app.NewJobs(repository, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg.RecurringInvoiceJobSchedule)

	router := api.NewRouter(api.RouterConfig{
		PaymentHandler:       api.NewPaymentHandler(service, logger),
		OnboardingHandler:    api.NewOnboardingHandler(service, logger),
		JobsHandler:          api.NewJobsHandler(jobs, logger),
		WebhookHandler:       api.NewWebhookHandler(gateway, reconciler, logger),
		AuthJWTSecret:        cfg.AuthJWTSecret,
		InternalAPIKey:       cfg.InternalAPIKey,
		RateLimiter:          rateLimiter,
		PaymentRateLimit:     cfg.PaymentRateLimitPerMinute,
		PaymentRateLimitSpan: time.Minute,
		Logger:               logger,
	})

	// Start the cron scheduler in the background.
	scheduler.Start()
	logger.Info("scheduler started", "schedule", cfg.RecurringInvoiceJobSchedule)

	// Start the HTTP server.
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("could not start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal to gracefully shut down.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-shutdownCtx.Done():
	}
	logger.Info("server gracefully stopped")
}
