package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/casamarzia/opsbell/internal/alerts"
	"github.com/casamarzia/opsbell/internal/api"
	"github.com/casamarzia/opsbell/internal/circuitbreaker"
	"github.com/casamarzia/opsbell/internal/config"
	"github.com/casamarzia/opsbell/internal/db"
	"github.com/casamarzia/opsbell/internal/escalate"
	"github.com/casamarzia/opsbell/internal/ingest"
	"github.com/casamarzia/opsbell/internal/metrics"
	"github.com/casamarzia/opsbell/internal/observ"
	"github.com/casamarzia/opsbell/internal/redis"
	"github.com/casamarzia/opsbell/internal/settings"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting opsbell alert hub",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("version", "v1.0.0"),
	)

	ctx := context.Background()

	// Settings store. The hub runs on Defaults() when Postgres is down,
	// so a connect failure here is a warning, not a startup error.
	var database *db.DB
	database, err = db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		logger.Warn("database unavailable, settings will use defaults",
			zap.Error(err),
			zap.String("host", cfg.DBHost),
		)
		database = nil
	} else {
		defer database.Close()
	}

	var source settings.Source
	if database != nil {
		source = settings.NewPGStore(database, cfg.SettingsProfile, logger)
	} else {
		source = storeUnavailable{}
	}

	adapter := settings.NewAdapter(ctx, source, logger)
	defer adapter.Close()

	// Redis: settings change feed, rate limiting, idempotency.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, change feed and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		defer redisClient.Close()

		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: time.Duration(cfg.RateLimitWindow) * time.Second,
		})

		adapter.Watch(redis.NewSettingsFeed(redisClient, cfg.SettingsChannel, logger))
	}

	// Escalation targets for critical alerts, each behind its own breaker.
	var targets []escalate.Target
	if cfg.SNSTopicARN != "" {
		snsTarget, err := escalate.NewSNSTarget(ctx, escalate.SNSConfig{
			Region:   cfg.AWSRegion,
			TopicARN: cfg.SNSTopicARN,
		}, logger)
		if err != nil {
			logger.Warn("sns target unavailable", zap.Error(err))
		} else {
			targets = append(targets, escalate.Protect(snsTarget,
				circuitbreaker.New(circuitbreaker.DefaultConfig("sns"), logger), logger))
		}
	}
	if cfg.SESOpsEmail != "" {
		sesTarget, err := escalate.NewSESTarget(ctx, escalate.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
			OpsEmail:  cfg.SESOpsEmail,
		}, logger)
		if err != nil {
			logger.Warn("ses target unavailable", zap.Error(err))
		} else {
			targets = append(targets, escalate.Protect(sesTarget,
				circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger), logger))
		}
	}
	if cfg.WebhookURL != "" {
		webhookTarget := escalate.NewWebhookTarget(escalate.WebhookConfig{
			URL:     cfg.WebhookURL,
			Timeout: time.Duration(cfg.WebhookTimeout) * time.Second,
		}, logger)
		targets = append(targets, escalate.Protect(webhookTarget,
			circuitbreaker.New(circuitbreaker.DefaultConfig("webhook"), logger), logger))
	}

	// Alert manager
	opts := []alerts.Option{}
	if len(targets) > 0 {
		escalator := escalate.New(logger, targets...)
		opts = append(opts, alerts.WithEscalator(escalator))
		logger.Info("critical alert escalation enabled",
			zap.Strings("targets", escalator.Targets()),
		)
	}
	hub := alerts.NewManager(adapter, logger, opts...)
	defer hub.Close()

	// SQS ingest for booking and contact events
	if cfg.SQSQueueURL != "" {
		consumer, err := ingest.NewConsumer(ctx, ingest.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, hub, logger)
		if err != nil {
			logger.Warn("sqs consumer unavailable, event ingest disabled", zap.Error(err))
		} else {
			ingestCtx, ingestCancel := context.WithCancel(context.Background())
			defer ingestCancel()
			go consumer.Run(ingestCtx)
		}
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	var handler *api.Handler
	if idempotencyService != nil {
		handler = api.NewHandlerWithIdempotency(logger, hub, adapter, idempotencyService)
	} else {
		handler = api.NewHandler(logger, hub, adapter)
	}

	r.Route("/v1", func(r chi.Router) {
		// Apply rate limiting to API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

		// The SSE stream holds its connection open, so it stays outside
		// the request timeout group.
		r.Get("/alerts/stream", handler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/alerts", handler.CreateAlert)
			r.Get("/alerts", handler.ListAlerts)
			r.Get("/alerts/unread-count", handler.UnreadCount)
			r.Post("/alerts/{id}/read", handler.MarkRead)
			r.Post("/alerts/read-all", handler.MarkAllRead)
			r.Delete("/alerts/{id}", handler.Dismiss)
			r.Delete("/alerts", handler.Clear)

			r.Get("/policy/{category}", handler.Policy)

			r.Get("/settings", handler.GetSettings)
			r.Post("/settings/refresh", handler.RefreshSettings)

			r.Get("/chimes", handler.ChimeBoard)
			r.Get("/chimes/{category}", handler.Chime)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":        "ok",
			"settings_from": "store",
			"unread":        hub.UnreadCount(),
		}
		if adapter.UsingDefaults() {
			status["settings_from"] = "defaults"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server. WriteTimeout stays off because the SSE stream
	// writes for the lifetime of the connection.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// storeUnavailable stands in for the settings store when Postgres is
// absent. Loads fail, so the adapter stays on Defaults() and manual
// refreshes report the outage.
type storeUnavailable struct{}

func (storeUnavailable) Load(ctx context.Context) (settings.Settings, error) {
	return settings.Settings{}, errors.New("settings store not configured")
}
