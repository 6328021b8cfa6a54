// Package api provides HTTP handlers for the board generation API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/cfi-labs/boardgen/internal/generation"
	"github.com/cfi-labs/boardgen/internal/jobs"
	"github.com/cfi-labs/boardgen/internal/orchestrator"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

// Boards is the request lifecycle the handlers delegate to.
type Boards interface {
	Preview(ctx context.Context, req orchestrator.PreviewRequest) (*orchestrator.PreviewResult, error)
	Generate(ctx context.Context, req orchestrator.GenerateRequest, rep generation.Reporter) (*orchestrator.GenerateResult, error)
	StartGenerate(req orchestrator.GenerateRequest) (string, error)
}

// JobPoller answers job status queries.
type JobPoller interface {
	Poll(ctx context.Context, jobID string) (domain.Job, error)
}

// FeedbackRecorder stores user ratings.
type FeedbackRecorder interface {
	RecordFeedback(sessionID string, rating int, comment string) error
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires a Handler.
type Options struct {
	Boards    Boards
	Jobs      JobPoller
	Feedback  FeedbackRecorder
	Store     Pinger
	Limiter   *RateLimiter
	AssetsDir string
	Metrics   http.Handler
	// Auth guards every /api route when set.
	Auth      func(http.Handler) http.Handler
	Logger    *slog.Logger
}

// Handler serves the board API.
type Handler struct {
	boards    Boards
	jobs      JobPoller
	feedback  FeedbackRecorder
	store     Pinger
	limiter   *RateLimiter
	assetsDir string
	metrics   http.Handler
	auth      func(http.Handler) http.Handler
	logger    *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		boards:    opts.Boards,
		jobs:      opts.Jobs,
		feedback:  opts.Feedback,
		store:     opts.Store,
		limiter:   opts.Limiter,
		assetsDir: opts.AssetsDir,
		metrics:   opts.Metrics,
		auth:      opts.Auth,
		logger:    opts.Logger,
	}
}

// RegisterRoutes mounts every endpoint on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}
	if h.assetsDir != "" {
		r.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.Dir(h.assetsDir))))
	}

	r.Route("/api", func(r chi.Router) {
		if h.auth != nil {
			r.Use(h.auth)
		}
		r.With(h.rateLimit).Post("/boards/preview", h.HandlePreview)
		r.With(h.rateLimit).Post("/boards/generate", h.HandleGenerate)
		r.With(h.rateLimit).Post("/boards/generate/async", h.HandleGenerateAsync)
		r.Get("/jobs/{id}", h.HandleJob)
		r.Post("/feedback", h.HandleFeedback)
	})
}

// HandleHealth handles GET /healthz.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn("Health check failed", "error", err)
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	JSON(w, code, map[string]any{"status": status, "time": time.Now().Unix()})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type errorBody struct {
	Error     string `json:"error"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeCoreError maps an orchestrator error onto a status code and a body
// that always names the owning session.
func (h *Handler) writeCoreError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	body := errorBody{
		Error:     err.Error(),
		SessionID: sessionID,
		RequestID: chiMiddleware.GetReqID(r.Context()),
	}
	var se *orchestrator.SessionError
	if errors.As(err, &se) {
		body.SessionID = se.SessionID
		body.Error = se.Err.Error()
	}

	status := http.StatusBadRequest
	var gf *generation.GenerationFailedError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.As(err, &gf):
		status = http.StatusBadGateway
		body.Error = gf.UserMessage
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, body)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
