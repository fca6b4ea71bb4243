// Package main is the entry point for the stegline bridge server.
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

	"github.com/stegline/core/internal/changefeed"
	"github.com/stegline/core/internal/config"
	"github.com/stegline/core/internal/handler"
	"github.com/stegline/core/internal/llm"
	"github.com/stegline/core/internal/middleware"
	"github.com/stegline/core/internal/model"
	natsclient "github.com/stegline/core/internal/nats"
	"github.com/stegline/core/internal/service"
	"github.com/stegline/core/internal/stego"
	"github.com/stegline/core/internal/store"
	"github.com/stegline/core/internal/wizard"
	"github.com/stegline/core/pkg/logger"
	"github.com/stegline/core/pkg/tracing"
)

// feed is both ends of the change feed.
type feed interface {
	changefeed.Feed
	changefeed.Publisher
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var log *logger.Logger
	var err error
	if cfg.Environment == "development" {
		log, err = logger.NewDevelopment()
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting stegline bridge", zap.String("store", cfg.StoreDriver))

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "stegline", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("Failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	checks := make(map[string]handler.Pinger)

	// Store
	var st store.Store
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		st = pg
	default:
		st = store.NewMemoryStore()
	}
	defer st.Close()
	checks["store"] = st

	// Attachments
	var attachments store.AttachmentStore = store.NewMemoryAttachments()
	if cfg.RedisURL != "" {
		ra, err := store.NewRedisAttachments(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer ra.Close()
		attachments = ra
		checks["attachments"] = ra
	}

	// Change feed
	var events feed = changefeed.NewBroker()
	if cfg.NATSURL != "" {
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()

		jsFeed := natsclient.NewFeed(nc)
		if err := jsFeed.EnsureStream(ctx); err != nil {
			log.Fatal("Failed to ensure stream", zap.Error(err))
		}
		events = jsFeed
		checks["nats"] = nc
	}

	// Stego service
	codec, err := stego.New(stego.Config{
		BaseURL:       cfg.StegoBaseURL,
		Timeout:       cfg.StegoTimeout,
		AllowInsecure: cfg.StegoAllowInsecure,
	}, log)
	if err != nil {
		log.Fatal("Invalid stego service configuration", zap.Error(err))
	}

	// Cover suggestions
	var suggester wizard.CoverSuggester
	if client, err := llm.FromKeys(cfg.AnthropicAPIKey, cfg.OpenAIAPIKey); err != nil {
		log.Warn("Failed to create LLM client, cover suggestions disabled", zap.Error(err))
	} else if client != nil {
		suggester = llm.NewCoverSuggester(client, log)
		log.Info("Cover suggestions enabled", zap.String("provider", client.Name()))
	}

	// Services
	directory := service.NewDirectoryService(st, st, log)
	delivery := service.NewDeliveryService(directory, st, attachments, events, log)

	sessions := handler.NewSessions(func(userID string) *wizard.Wizard {
		opts := []wizard.Option{
			wizard.WithEncoder(model.MethodText, codec),
			wizard.WithDispatcher(delivery),
		}
		if suggester != nil {
			opts = append(opts, wizard.WithCoverSuggester(suggester))
		}
		return wizard.New(userID, log, opts...)
	})

	// Handlers
	healthHandler := handler.NewHealthHandler(checks)
	conversationHandler := handler.NewConversationHandler(directory, log)
	messageHandler := handler.NewMessageHandler(directory, st, delivery, log)
	streamHandler := handler.NewStreamHandler(directory, st, events, log)
	wizardHandler := handler.NewWizardHandler(sessions, log)
	decodeHandler := handler.NewDecodeHandler(sessions, directory, st, codec, attachments, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(splitOrigins(cfg.AllowedOrigins)))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Put("/profile", conversationHandler.UpdateProfile)
		r.Get("/profiles", conversationHandler.SearchProfiles)
		r.Get("/recipients", conversationHandler.Recipients)

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Start)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)

				// Messages
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Post("/attachments", messageHandler.Upload)

				// Streaming
				r.Get("/stream", streamHandler.Stream)
			})
		})

		// Encoding wizard
		r.Route("/wizard", func(r chi.Router) {
			r.Get("/", wizardHandler.Get)
			r.Patch("/", wizardHandler.Update)
			r.Delete("/", wizardHandler.Reset)
			r.Post("/method", wizardHandler.SelectMethod)
			r.Post("/cover-file", wizardHandler.AttachCover)
			r.Post("/cover-suggestion", wizardHandler.SuggestCover)
			r.Post("/continue", wizardHandler.Continue)
			r.Post("/back", wizardHandler.Back)
			r.Post("/key", wizardHandler.GenerateKey)
			r.Get("/artifact", wizardHandler.Download)
			r.Post("/send", wizardHandler.Send)
		})

		// Decode session
		r.Route("/decode", func(r chi.Router) {
			r.Get("/", decodeHandler.Get)
			r.Post("/", decodeHandler.Open)
			r.Delete("/", decodeHandler.Close)
			r.Post("/submit", decodeHandler.Submit)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
