// Package generation acquires one image per board entity with bounded
// whole-batch retries.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cfi-labs/boardgen/internal/imagegen"
	"github.com/cfi-labs/boardgen/internal/interpreter"
	"github.com/cfi-labs/boardgen/internal/metrics"
	"github.com/hashicorp/go-multierror"
)

// UserMessage is shown to users when every attempt failed.
const UserMessage = "לא הצלחנו ליצור את התמונות ללוח. אנא נסו שוב בעוד מספר דקות."

// ErrCountMismatch marks an attempt that produced fewer files than entities.
var ErrCountMismatch = errors.New("produced image count does not match entity count")

// GenerationFailedError is returned after the attempt budget is exhausted.
type GenerationFailedError struct {
	SessionID   string
	Attempts    int
	UserMessage string
	Err         error
}

func (e *GenerationFailedError) Error() string {
	return fmt.Sprintf("image generation failed for session %s after %d attempts: %v", e.SessionID, e.Attempts, e.Err)
}

func (e *GenerationFailedError) Unwrap() error {
	return e.Err
}

// Update is a progress notification from a running batch.
type Update struct {
	Entity    string
	Completed int
	Attempt   int
	Message   string
}

// Reporter receives progress updates. Implementations must not block.
type Reporter interface {
	Report(Update)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Update)

// Report calls f(u).
func (f ReporterFunc) Report(u Update) { f(u) }

// Options configures a Loop.
type Options struct {
	Primary     imagegen.Producer
	Fallback    imagegen.Producer
	MaxAttempts int
	Backoff     time.Duration
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Loop runs batches against a primary producer with a placeholder fallback.
type Loop struct {
	primary     imagegen.Producer
	fallback    imagegen.Producer
	maxAttempts int
	backoff     time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewLoop creates a Loop. MaxAttempts defaults to 2.
func NewLoop(opts Options) *Loop {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loop{
		primary:     opts.Primary,
		fallback:    opts.Fallback,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

// Run produces one file per prompt inside dir and returns the filenames in
// prompt order. A failed attempt deletes its files before the next one starts.
func (l *Loop) Run(ctx context.Context, sessionID string, prompts []interpreter.EntityPrompt, dir string, rep Reporter) ([]string, error) {
	if rep == nil {
		rep = ReporterFunc(func(Update) {})
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		attempts = attempt
		files, err := l.attempt(ctx, sessionID, attempt, prompts, dir, rep)
		if err == nil && len(files) != len(prompts) {
			err = fmt.Errorf("%w: got %d, want %d", ErrCountMismatch, len(files), len(prompts))
		}
		if err == nil {
			l.metrics.Attempt("success")
			l.logger.Info("Image batch generated", "session_id", sessionID, "attempt", attempt, "count", len(files))
			return files, nil
		}

		l.metrics.Attempt("failure")
		lastErr = err
		l.logger.Warn("Image batch attempt failed", "session_id", sessionID, "attempt", attempt, "error", err)
		l.cleanup(sessionID, dir, files)

		if ctxErr := ctx.Err(); ctxErr != nil {
			lastErr = ctxErr
			break
		}
		if attempt == l.maxAttempts {
			break
		}

		rep.Report(Update{Attempt: attempt + 1, Message: fmt.Sprintf("ניסיון %d נכשל, מנסה שוב...", attempt)})
		if err := sleep(ctx, l.backoff); err != nil {
			lastErr = err
			break
		}
	}

	// Cancellation is not a batch failure: the attempt budget was never exhausted.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("image generation cancelled after %d attempts: %w", attempts, ctxErr)
	}

	rep.Report(Update{Message: UserMessage})
	return nil, &GenerationFailedError{
		SessionID:   sessionID,
		Attempts:    attempts,
		UserMessage: UserMessage,
		Err:         lastErr,
	}
}

// attempt returns every file it produced, even on error, so the caller can
// clean them up.
func (l *Loop) attempt(ctx context.Context, sessionID string, attempt int, prompts []interpreter.EntityPrompt, dir string, rep Reporter) ([]string, error) {
	files := make([]string, 0, len(prompts))
	for i, p := range prompts {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		rep.Report(Update{
			Entity:    p.Entity,
			Completed: i,
			Attempt:   attempt,
			Message:   fmt.Sprintf("יוצר תמונה עבור %s (%d/%d)", p.Entity, i+1, len(prompts)),
		})

		name, ok := l.produce(ctx, sessionID, p, dir)
		if !ok {
			l.logger.Error("No image for entity", "session_id", sessionID, "entity", p.Entity, "attempt", attempt)
			continue
		}
		files = append(files, name)
		rep.Report(Update{Entity: p.Entity, Completed: len(files), Attempt: attempt})
	}
	return files, nil
}

func (l *Loop) produce(ctx context.Context, sessionID string, p interpreter.EntityPrompt, dir string) (string, bool) {
	if l.primary != nil {
		if name, ok := l.primary.Produce(ctx, p.Entity, p.Prompt, dir, sessionID); ok {
			return name, true
		}
	}
	if l.fallback == nil {
		return "", false
	}
	l.metrics.PlaceholderFallback()
	return l.fallback.Produce(ctx, p.Entity, p.Prompt, dir, sessionID)
}

// cleanup removes files best-effort. Failures are logged, never returned.
func (l *Loop) cleanup(sessionID, dir string, files []string) {
	var result *multierror.Error
	for _, f := range files {
		if err := os.Remove(filepath.Join(dir, f)); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		l.logger.Warn("Failed to clean up attempt files", "session_id", sessionID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
