// Communication board generation server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cfi-labs/boardgen/internal/api"
	"github.com/cfi-labs/boardgen/internal/board"
	"github.com/cfi-labs/boardgen/internal/config"
	"github.com/cfi-labs/boardgen/internal/generation"
	"github.com/cfi-labs/boardgen/internal/health"
	"github.com/cfi-labs/boardgen/internal/identity"
	"github.com/cfi-labs/boardgen/internal/imagegen"
	"github.com/cfi-labs/boardgen/internal/interpreter"
	"github.com/cfi-labs/boardgen/internal/jobs"
	"github.com/cfi-labs/boardgen/internal/labels"
	"github.com/cfi-labs/boardgen/internal/metrics"
	"github.com/cfi-labs/boardgen/internal/middleware"
	"github.com/cfi-labs/boardgen/internal/orchestrator"
	"github.com/cfi-labs/boardgen/internal/render"
	"github.com/cfi-labs/boardgen/internal/store"
	"github.com/cfi-labs/boardgen/internal/telemetry"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	port := pflag.String("port", "", "HTTP port (overrides PORT)")
	pflag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.AssetsDir, 0o755); err != nil {
		slog.Error("Failed to create assets directory", "dir", cfg.AssetsDir, "error", err)
		os.Exit(1)
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	m := metrics.New()

	sessions, err := telemetry.NewStore(telemetry.Options{
		Dir:         cfg.SessionLog.Dir,
		MaxBytes:    cfg.SessionLog.MaxBytes,
		IdleTimeout: cfg.SessionLog.IdleFlush,
		Rotation:    cfg.SessionLog.Rotation,
		Sink:        repo,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		slog.Error("Failed to initialize session telemetry", "error", err)
		os.Exit(1)
	}

	interp, err := newInterpreter(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize interpreter", "error", err)
		os.Exit(1)
	}

	gemini, err := imagegen.NewGemini(ctx, imagegen.GeminiConfig{
		APIKey: cfg.LLM.GoogleAPIKey,
		Model:  cfg.LLM.GeminiImageModel,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize image producer", "error", err)
		os.Exit(1)
	}
	if cfg.LLM.GoogleAPIKey == "" {
		slog.Info("GOOGLE_GENAI_API_KEY not set, boards will use placeholder images")
	}

	translator, err := labels.NewTranslator()
	if err != nil {
		slog.Error("Failed to load label dictionary", "error", err)
		os.Exit(1)
	}

	loop := generation.NewLoop(generation.Options{
		Primary:     gemini,
		Fallback:    imagegen.NewPlaceholder(logger),
		MaxAttempts: cfg.Generation.MaxAttempts,
		Backoff:     cfg.Generation.RetryBackoff,
		Metrics:     m,
		Logger:      logger,
	})

	tracker := jobs.NewTracker(jobs.Options{
		Workers:   cfg.Jobs.Workers,
		QueueSize: cfg.Jobs.QueueSize,
		Repo:      repo,
		Metrics:   m,
		Logger:    logger,
	})
	tracker.StartExpiryWorker(ctx, cfg.Jobs.SweepEvery, cfg.Jobs.Retention)
	slog.Info("Job expiry worker started", "retention", cfg.Jobs.Retention)

	orch := orchestrator.New(orchestrator.Options{
		Interpreter: interp,
		Validator:   board.NewValidator(),
		Translator:  translator,
		Renderer:    render.NewRenderer(),
		Generator:   loop,
		Telemetry:   sessions,
		Jobs:        tracker,
		Metrics:     m,
		Logger:      logger,
		AssetsDir:   cfg.AssetsDir,
	})

	handler := api.NewHandler(api.Options{
		Boards:    orch,
		Jobs:      tracker,
		Feedback:  sessions,
		Store:     repo,
		Limiter:   api.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		AssetsDir: cfg.AssetsDir,
		Metrics:   m.Handler(),
		Auth:      middleware.APIKey(cfg.APIKey),
		Logger:    logger,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(strings.Split(cfg.AllowedOrigin, ",")))
	r.Use(identity.Middleware)

	handler.RegisterRoutes(r)

	// Synchronous generation can run for minutes, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.GRPCHealthPort != "" {
		hs := health.NewServer(repo, 15*time.Second, logger)
		go func() {
			if err := hs.ListenAndServe(ctx, ":"+cfg.GRPCHealthPort); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := tracker.Close(shutdownCtx); err != nil {
		slog.Error("Jobs did not drain", "error", err)
	}
	if err := sessions.Close(); err != nil {
		slog.Error("Failed to flush session telemetry", "error", err)
	}

	slog.Info("Server stopped successfully")
}

// newInterpreter uses the OpenAI model when a key is configured and the
// keyword heuristic otherwise.
func newInterpreter(cfg *config.Config, logger *slog.Logger) (interpreter.Interpreter, error) {
	if cfg.LLM.OpenAIAPIKey != "" {
		slog.Info("Using OpenAI interpreter", "model", cfg.LLM.OpenAIModel)
		return interpreter.NewOpenAI(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIModel, logger), nil
	}
	slog.Info("OPENAI_API_KEY not set, using keyword interpreter")
	return interpreter.NewHeuristic()
}
