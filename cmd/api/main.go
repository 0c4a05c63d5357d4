// Package main is the entry point for the orchestrator API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-orchestrator/internal/config"
	"github.com/capitalize-ai/persona-orchestrator/internal/detach"
	"github.com/capitalize-ai/persona-orchestrator/internal/handler"
	"github.com/capitalize-ai/persona-orchestrator/internal/llm"
	"github.com/capitalize-ai/persona-orchestrator/internal/memory"
	"github.com/capitalize-ai/persona-orchestrator/internal/middleware"
	natsclient "github.com/capitalize-ai/persona-orchestrator/internal/nats"
	"github.com/capitalize-ai/persona-orchestrator/internal/provider"
	"github.com/capitalize-ai/persona-orchestrator/internal/service"
	"github.com/capitalize-ai/persona-orchestrator/internal/stage"
	"github.com/capitalize-ai/persona-orchestrator/internal/store"
	"github.com/capitalize-ai/persona-orchestrator/internal/store/memstore"
	"github.com/capitalize-ai/persona-orchestrator/internal/store/postgres"
	"github.com/capitalize-ai/persona-orchestrator/internal/topic"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
	"github.com/capitalize-ai/persona-orchestrator/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	newLogger := func() (*logger.Logger, error) { return logger.New(cfg.LogLevel) }
	if cfg.Environment == "development" {
		newLogger = logger.NewDevelopment
	}
	log, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting orchestrator")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "persona-orchestrator", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Context store
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open context store", zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	// Event bus
	var (
		events     natsclient.Publisher = natsclient.NopPublisher{}
		natsClient *natsclient.Client
		streams    *natsclient.StreamManager
	)
	if cfg.EventsEnabled {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log.Component("nats"))
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()

		streams = natsclient.NewStreamManager(natsClient)
		if err := streams.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		events = streams
	}

	// Collaborators
	providerClient := provider.New(provider.Config{
		BaseURL: cfg.ProviderBaseURL,
		APIKey:  cfg.ProviderAPIKey,
		Timeout: cfg.ProviderTimeout,
	}, log.Component("provider"))

	writer := detach.NewGroup(log, cfg.DetachedWriteTimeout)

	mem, err := memory.New(st, writer, log.Component("memory"), memory.Config{
		MaxConversations:    cfg.RepetitionCacheConversations,
		MaxEntries:          cfg.RepetitionCacheEntries,
		StatementWindow:     cfg.StatementWindow,
		SimilarityThreshold: cfg.SimilarityThreshold,
	})
	if err != nil {
		log.Error("failed to create repetition memory", zap.Error(err))
		os.Exit(1)
	}

	registry, err := stage.Default(stage.Voices{
		Lars:     cfg.LarsVoiceID,
		Wiktoria: cfg.WiktoriaVoiceID,
	})
	if err != nil {
		log.Error("failed to build stage registry", zap.Error(err))
		os.Exit(1)
	}

	extractor := newExtractor(cfg, log)

	// Initialize services
	transcriptSvc := service.NewTranscriptService(service.TranscriptConfig{
		ProviderTimeout: cfg.ProviderTimeout,
	}, st, providerClient, mem, events, writer, log)

	transitionSvc := service.NewTransitionService(service.TransitionConfig{
		ToolServerURL: strings.TrimRight(cfg.PublicBaseURL, "/") + "/api/v1/provider/tools",
		TopicTimeout:  cfg.TopicDerivationTimeout,
	}, registry, st, mem, transcriptSvc, providerClient, extractor, events, writer, log)

	recoverySvc := service.NewRecoveryService(service.RecoveryConfig{
		Window:      cfg.RecoveryWindow,
		Grace:       cfg.RecoveryGrace,
		Concurrency: cfg.RecoveryConcurrency,
	}, st, transcriptSvc, log)

	// Initialize handlers
	var busCheck handler.ConnectionChecker
	var replayer handler.EventReplayer
	if natsClient != nil {
		busCheck = natsClient
		replayer = streams
	}
	healthHandler := handler.NewHealthHandler(st, busCheck)
	toolHandler := handler.NewToolHandler(transitionSvc, log)
	webhookHandler := handler.NewWebhookHandler(transcriptSvc, log)
	recoveryHandler := handler.NewRecoveryHandler(recoverySvc, replayer, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Voice-call provider callbacks
		r.Route("/provider", func(r chi.Router) {
			r.Use(middleware.ProviderSecret(cfg.ProviderWebhookSecret))

			r.Post("/tools", toolHandler.Handle)
			r.Post("/webhook", webhookHandler.Handle)
		})

		// Operator recovery
		r.Route("/recovery", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Use(middleware.RequireScope(middleware.ScopeRecoveryWrite))
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

			r.Post("/conversations/{id}", recoveryHandler.RecoverConversation)
			r.Get("/conversations/{id}/events", recoveryHandler.Events)
			r.Post("/calls/{callID}", recoveryHandler.RecoverCall)
			r.Post("/sweep", recoveryHandler.Sweep)
		})
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

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// Detached writes outlive their requests; drain them before closing the store.
	if err := writer.Wait(shutdownCtx); err != nil {
		log.Warn("detached writes still pending at shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// openStore uses Postgres when DATABASE_URL is set and the in-process store otherwise.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory context store")
		return memstore.New(), nil
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL, log.Component("postgres"))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newExtractor(cfg *config.Config, log *logger.Logger) topic.Extractor {
	pattern := topic.NewPatternExtractor()
	if cfg.TopicExtractor != "llm" {
		return pattern
	}

	client, err := llm.NewClient(llm.Provider(cfg.DefaultLLM), llm.Keys{
		Anthropic: cfg.AnthropicAPIKey,
		OpenAI:    cfg.OpenAIAPIKey,
	})
	if err != nil {
		log.Warn("failed to create LLM client, using pattern topic extraction", zap.Error(err))
		return pattern
	}
	log.Info("using LLM topic extraction", zap.String("provider", client.Name()))
	return topic.NewLLMExtractor(client, pattern, log.Component("topic"))
}
