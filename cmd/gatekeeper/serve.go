package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/gatekeeper/internal/api"
	"github.com/ashureev/gatekeeper/internal/config"
	"github.com/ashureev/gatekeeper/internal/events"
	"github.com/ashureev/gatekeeper/internal/identity"
	"github.com/ashureev/gatekeeper/internal/llm"
	"github.com/ashureev/gatekeeper/internal/metrics"
	"github.com/ashureev/gatekeeper/internal/middleware"
	"github.com/ashureev/gatekeeper/internal/realtime"
	"github.com/ashureev/gatekeeper/internal/session"
	"github.com/ashureev/gatekeeper/internal/store"
	"github.com/ashureev/gatekeeper/internal/transcript"
	"github.com/ashureev/gatekeeper/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket game server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

//nolint:funlen // Startup wiring is kept sequential so dependency setup stays explicit.
func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if p, _ := cmd.Flags().GetString("rules"); p != "" {
		cfg.RulesPath = p
	}

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"provider", cfg.LLM.Provider,
		"key_length", rules.KeyLength(),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	gen, err := llm.New(ctx, cfg.LLM.Generator())
	if err != nil {
		return fmt.Errorf("initialize completion backend: %w", err)
	}
	if closer, ok := gen.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	slog.Info("Completion backend ready", "provider", gen.Name())

	m := metrics.New()
	observers := session.Observers{store.NewRecorder(repo, logger), m}

	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, logger)
		if err != nil {
			slog.Warn("Failed to connect to NATS, turn events disabled", "error", err)
		} else {
			defer func() {
				if drainErr := nc.Drain(); drainErr != nil {
					slog.Warn("Failed to drain NATS connection", "error", drainErr)
				}
			}()
			observers = append(observers, events.NewEmitter(nc, logger))
			slog.Info("Publishing turn events", "url", cfg.NATSURL, "subject", events.SubjectPrefix+".*")
		}
	}

	conversationLogger, err := transcript.NewConversationLogger(transcript.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() { _ = conversationLogger.Close() }()
	observers = append(observers, transcript.Observer(conversationLogger))

	sessions := session.NewManager(session.ManagerOptions{
		Rules:     rules,
		Generator: gen,
		Observer:  observers,
		Active:    m.ActiveSessions(),
		Logger:    logger,
	})
	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	registry := realtime.NewRegistry()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, sessions, logger)
	gameHandler := api.NewGameHandler(baseHandler, limiter)
	var completionHealth api.HealthChecker
	if hc, ok := gen.(api.HealthChecker); ok {
		completionHealth = hc
	}
	healthHandler := api.NewHealthHandler(repo, completionHealth)
	wsHandler := realtime.NewHandler(sessions, registry, limiter, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", m.Handler())

	// Game routes carry the anonymous identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment(), logger))
		gameHandler.RegisterRoutes(r)
		r.Get("/ws/game", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket connections are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		registry.CloseAll("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sessions.RunSweeper(gctx, cfg.SessionTTL, 0)
	})
	g.Go(func() error {
		return limiter.Run(gctx)
	})
	g.Go(func() error {
		return store.RunRetention(gctx, repo, cfg.TurnRetention, 0)
	})
	if cfg.RulesPath != "" {
		watcher := config.NewRulesWatcher(cfg.RulesPath, sessions.SetRules, logger)
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				slog.Warn("Rules hot reload disabled", "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}

// allowedOrigins restricts CORS to the configured frontend, or allows any
// origin without credentials when none is set.
func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
