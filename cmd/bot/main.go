// Package main is the entry point for the commerce bot.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/replystack/commerce-bot/internal/assistant"
	"github.com/replystack/commerce-bot/internal/config"
	"github.com/replystack/commerce-bot/internal/delivery"
	"github.com/replystack/commerce-bot/internal/events"
	"github.com/replystack/commerce-bot/internal/mediator"
	"github.com/replystack/commerce-bot/internal/middleware"
	"github.com/replystack/commerce-bot/internal/orders"
	"github.com/replystack/commerce-bot/internal/scheduler"
	"github.com/replystack/commerce-bot/internal/store"
	"github.com/replystack/commerce-bot/internal/tenant"
	"github.com/replystack/commerce-bot/internal/webhook"
	"github.com/replystack/commerce-bot/pkg/logger"
	"github.com/replystack/commerce-bot/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting commerce bot")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "commerce-bot", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS for audit events; an empty URL disables the stream.
	var audit *events.Publisher
	if cfg.NATSURL != "" {
		natsClient, err := events.Connect(ctx, events.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()

		audit = events.NewPublisher(natsClient)
		if err := audit.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure audit stream", zap.Error(err))
			os.Exit(1)
		}
	} else {
		log.Warn("NATS_URL not set, audit events disabled")
	}

	// Tenant configuration
	tenants, err := tenant.NewFileProvider(cfg.TenantsFile, log)
	if err != nil {
		log.Error("failed to load tenant configuration", zap.Error(err))
		os.Exit(1)
	}

	// Conversation store
	convStore := store.NewMemoryStore(log)

	// Order tool handlers
	orderRepo := orders.NewRepository()
	tools := assistant.NewToolDispatcher(
		orders.NewCreateOrderHandler(orderRepo),
		orders.NewCheckOrderHandler(orderRepo),
	)

	// AI responders; either provider may be absent, but at least one is needed.
	var openaiResponder, anthropicResponder assistant.Responder
	if cfg.OpenAIAPIKey != "" {
		resp, err := assistant.NewOpenAIResponder(cfg.OpenAIAPIKey, convStore, tools, log, cfg.RunPollInterval, cfg.RunTimeout)
		if err != nil {
			log.Error("failed to create OpenAI responder", zap.Error(err))
			os.Exit(1)
		}
		openaiResponder = resp
	}
	if cfg.AnthropicAPIKey != "" {
		resp, err := assistant.NewAnthropicResponder(cfg.AnthropicAPIKey, convStore, log)
		if err != nil {
			log.Error("failed to create Anthropic responder", zap.Error(err))
			os.Exit(1)
		}
		anthropicResponder = resp
	}
	if openaiResponder == nil && anthropicResponder == nil {
		log.Error("no AI responder configured, set OPENAI_API_KEY or ANTHROPIC_API_KEY")
		os.Exit(1)
	}
	responders := assistant.NewSelector(openaiResponder, anthropicResponder)

	// Delivery adapters
	registry := delivery.NewRegistry(
		delivery.NewInstagramAdapter(log),
		delivery.NewTelegramAdapter(log),
	)

	// Mediator and scheduler
	med := mediator.New(convStore, tenants, responders, registry, audit, log, mediator.Options{
		WorkerPoolSize: cfg.WorkerPoolSize,
		LeaseTTL:       cfg.LeaseTTL,
		UserTimeout:    cfg.RunTimeout + time.Minute,
	})

	sched, err := scheduler.New(med, tenants, log, scheduler.Options{
		SweepInterval:    cfg.SweepInterval,
		RecoveryInterval: cfg.RecoveryInterval,
		BatchWindow:      cfg.BatchWindow,
	})
	if err != nil {
		log.Error("failed to create scheduler", zap.Error(err))
		os.Exit(1)
	}
	sched.Start()

	// HTTP handlers
	webhookHandler := webhook.NewHandler(convStore, tenants, audit, log, cfg.VerifyToken)
	adminHandler := webhook.NewAdminHandler(tenants, med, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", webhook.Health)
	r.Get("/ready", webhook.Ready(tenants))

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Platform webhooks (verified by platform tokens, not JWT)
	webhookHandler.Routes(r)

	// Admin routes with authentication
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RequireScope("admin"))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		adminHandler.Routes(r)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sched.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
