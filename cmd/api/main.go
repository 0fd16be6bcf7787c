package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/askexpert/backend/internal/auth"
	"github.com/askexpert/backend/internal/config"
	"github.com/askexpert/backend/internal/handlers"
	"github.com/askexpert/backend/internal/ledger"
	"github.com/askexpert/backend/internal/notify"
	"github.com/askexpert/backend/internal/offers"
	"github.com/askexpert/backend/internal/payments"
	"github.com/askexpert/backend/internal/ratelimit"
	"github.com/askexpert/backend/internal/router"
	"github.com/askexpert/backend/internal/store"
	"github.com/askexpert/backend/internal/sweeps"
	"github.com/askexpert/backend/internal/validation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := store.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	// Record store
	questionRepo := store.NewQuestionRepo(pool, cfg.StoreTimeout)
	expertRepo := store.NewExpertRepo(pool, cfg.StoreTimeout)
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), logger)

	authority, err := payments.New(payments.Config{
		Mode:           cfg.PaymentsMode,
		SecretKey:      cfg.StripeSecretKey,
		Timeout:        cfg.AuthorityTimeout,
		MinChargeCents: cfg.MinChargeCents,
	}, logger)
	if err != nil {
		slog.Error("Payment authority not available", "mode", cfg.PaymentsMode, "error", err)
		os.Exit(1)
	}

	// Notifications: insert func is set after River client is created (breaks init cycle)
	notifier := notify.NewQueueNotifier(logger)

	offersSvc := offers.NewService(questionRepo, expertRepo, authority, ledgerSvc, notifier, offers.Config{
		OfferWindow:    cfg.OfferWindow,
		MinChargeCents: cfg.MinChargeCents,
	}, logger)

	sweepRunner := sweeps.NewRunner(questionRepo, offersSvc, nil, sweeps.Config{
		Concurrency: cfg.SweepConcurrency,
		AlertRatio:  cfg.SweepAlertRatio,
	}, logger)

	workers := river.NewWorkers()
	sweeps.AddWorkers(workers, sweepRunner)
	river.AddWorker(workers, notify.NewDeliverWorker(cfg.NotifyWebhookURL, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
			notify.QueueNotify: {MaxWorkers: 10},
		},
		Workers:      workers,
		PeriodicJobs: sweeps.PeriodicJobs(cfg.SweepInterval),
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	notifier.SetInsert(func(ctx context.Context, args notify.DeliverArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	})

	limiter := ratelimit.New(newRateStore(ctx, cfg), rateLimitOptions(cfg, logger)...)

	validator, err := validation.New()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	mux := router.New(router.Deps{
		Questions:  &handlers.QuestionHandler{Offers: offersSvc, Validator: validator, Logger: logger},
		Cron:       &handlers.CronHandler{Sweeps: sweepRunner, Ledger: ledgerSvc, Logger: logger},
		Tokens:     auth.NewService(cfg.JWTSecret),
		CronSecret: auth.NewSecretVerifier(cfg.CronSecret, cfg.CronSecretBcrypt),
		Limiter:    limiter,
		Ping:       pool.Ping,
		Logger:     logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (periodic sweeps and notification delivery)
	if err := riverClient.Start(context.WithoutCancel(ctx)); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown", "error", err)
		}
		if err := riverClient.Stop(shutdownCtx); err != nil {
			slog.Error("River stop", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", srv.Addr, "payments_mode", authority.Mode())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	wg.Wait()
}

// newRateStore prefers the shared Redis counter; without it each instance counts alone.
func newRateStore(ctx context.Context, cfg config.AppConfig) ratelimit.Store {
	if cfg.RedisAddr == "" {
		slog.Warn("REDIS_ADDR not set; rate limits are per instance")
		return ratelimit.NewMemoryStore()
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis unreachable; falling back to in-memory rate limits", "addr", cfg.RedisAddr, "error", err)
		return ratelimit.NewMemoryStore()
	}
	return ratelimit.NewRedisStore(rdb, "")
}

func rateLimitOptions(cfg config.AppConfig, logger *slog.Logger) []ratelimit.Option {
	opts := []ratelimit.Option{ratelimit.Disabled(cfg.RateLimitDisabled), ratelimit.WithLogger(logger)}
	for class, limit := range cfg.RateLimits {
		opts = append(opts, ratelimit.WithRule(class, limit, cfg.RateLimitWindow))
	}
	return opts
}
