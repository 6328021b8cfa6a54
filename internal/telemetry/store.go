// Package telemetry accumulates per-session conversation telemetry in memory
// and flushes each session exactly once to durable logs.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/cfi-labs/boardgen/internal/metrics"
)

// Feedback bounds.
const (
	MinRating        = 1
	MaxRating        = 5
	MaxCommentLength = 1000
)

// Finalize reasons reported to metrics.
const (
	reasonExplicit = "explicit"
	reasonIdle     = "idle"
	reasonShutdown = "shutdown"
)

var (
	// ErrInvalidRating is returned when a rating is outside [MinRating, MaxRating].
	ErrInvalidRating = errors.New("rating out of range")
	// ErrCommentTooLong is returned when a feedback comment exceeds MaxCommentLength runes.
	ErrCommentTooLong = errors.New("comment too long")
)

// SummarySink receives a KPI row for every finalized session, in addition to
// the CSV summary file.
type SummarySink interface {
	InsertSessionSummary(ctx context.Context, summary domain.SessionSummary) error
}

// Options configures a Store.
type Options struct {
	Dir         string
	MaxBytes    int64
	IdleTimeout time.Duration
	Rotation    string
	Sink        SummarySink
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Now         func() time.Time
}

// Store owns the live session map. Every mutation of the map and every file
// append happens under mu, so each public call is atomic with respect to
// every other call.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	writer   *Writer
	idle     time.Duration
	sink     SummarySink
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewStore creates a Store writing into opts.Dir.
func NewStore(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 50 * 1024 * 1024
	}
	w, err := NewWriter(opts.Dir, opts.MaxBytes, opts.Rotation, opts.Now)
	if err != nil {
		return nil, err
	}
	return &Store{
		sessions: make(map[string]*domain.Session),
		writer:   w,
		idle:     opts.IdleTimeout,
		sink:     opts.Sink,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
	}, nil
}

// getOrCreate must be called with mu held.
func (s *Store) getOrCreate(sessionID string, now time.Time) (*domain.Session, bool) {
	if sess, ok := s.sessions[sessionID]; ok {
		return sess, false
	}
	sess := &domain.Session{
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sessionID] = sess
	return sess, true
}

// sweepIdle pops every session idle for at least the configured threshold.
// Must be called with mu held.
func (s *Store) sweepIdle(now time.Time) []*domain.Session {
	var expired []*domain.Session
	for id, sess := range s.sessions {
		if sess.IdleFor(now) >= s.idle {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	return expired
}

// flush writes a popped session. Must be called with mu held.
func (s *Store) flush(sess *domain.Session, endedAt time.Time, reason string) domain.SessionSummary {
	if err := s.writer.WriteSession(sess, endedAt); err != nil {
		s.logger.Error("Failed to write session telemetry", "session_id", sess.SessionID, "error", err)
	}
	s.metrics.SessionFinalized(reason)
	s.logger.Info("Session finalized", "session_id", sess.SessionID, "reason", reason,
		"total_requests", sess.TotalRequests, "had_error", sess.HadError)
	return sess.Summarize(endedAt)
}

// publish forwards summaries to the sink outside the lock.
func (s *Store) publish(summaries []domain.SessionSummary) {
	if s.sink == nil {
		return
	}
	for _, sum := range summaries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.sink.InsertSessionSummary(ctx, sum); err != nil {
			s.logger.Warn("Failed to index session summary", "session_id", sum.SessionID, "error", err)
		}
		cancel()
	}
}

// RecordPreviewRequest records a new preview request. Idle sessions are swept
// and flushed before the request is recorded. History is replayed into the
// transcript only when the session record is created.
func (s *Store) RecordPreviewRequest(sessionID, userName, description string, history []domain.HistoryMessage) {
	now := s.now().UTC()
	var flushed []domain.SessionSummary

	s.mu.Lock()
	for _, stale := range s.sweepIdle(now) {
		flushed = append(flushed, s.flush(stale, now, reasonIdle))
	}

	sess, created := s.getOrCreate(sessionID, now)
	if created {
		sess.UserName = userName
		for _, h := range history {
			role := h.Role
			if role == "" {
				role = "unknown"
			}
			sess.Conversation = append(sess.Conversation, domain.ConversationEntry{
				Timestamp: parseHistoryTime(h.Timestamp, now),
				Role:      role,
				Text:      h.Text,
				Source:    "history",
			})
		}
	} else if userName != "" && sess.UserName == "" {
		sess.UserName = userName
	}

	sess.TotalRequests++
	if sess.FirstPrompt == "" {
		sess.FirstPrompt = description
	}
	sess.Append(now, domain.RoleUser, description, "user_request", nil)
	s.mu.Unlock()

	s.publish(flushed)
}

// RecordPreviewResult records the agent's answer to a preview request.
func (s *Store) RecordPreviewResult(sessionID, summary string, payload map[string]any) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, _ := s.getOrCreate(sessionID, now)
	if summary != "" {
		sess.Summary = summary
	}
	sess.Append(now, domain.RoleAgent, summary, "preview_response", payload)
}

// RecordGenerateStart records that image generation began for imageCount entities.
func (s *Store) RecordGenerateStart(sessionID string, imageCount int) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, _ := s.getOrCreate(sessionID, now)
	if imageCount > sess.ImagesRequested {
		sess.ImagesRequested = imageCount
	}
	sess.Append(now, domain.RoleSystem, fmt.Sprintf("generation_started (%d)", imageCount), "generation_start",
		map[string]any{"images_requested": imageCount})
}

// RecordGenerateSuccess records the produced assets.
func (s *Store) RecordGenerateSuccess(sessionID string, imageFiles []string, boardPNG, boardPDF string) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, _ := s.getOrCreate(sessionID, now)
	if len(imageFiles) > sess.ImagesRequested {
		sess.ImagesRequested = len(imageFiles)
	}
	sess.ImagesCreated = len(imageFiles)
	sess.Assets = domain.SessionAssets{
		ImageFiles: append([]string(nil), imageFiles...),
		BoardPNG:   boardPNG,
		BoardPDF:   boardPDF,
	}
	sess.Append(now, domain.RoleSystem, "generation_completed", "generation_complete", map[string]any{
		"image_files": sess.Assets.ImageFiles,
		"board_png":   boardPNG,
		"board_pdf":   boardPDF,
	})
}

// RecordError records a failure at stage and flags the session.
func (s *Store) RecordError(sessionID, stage, message string) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, _ := s.getOrCreate(sessionID, now)
	sess.HadError = true
	sess.Errors = append(sess.Errors, domain.ErrorEvent{Timestamp: now, Stage: stage, Message: message})
	sess.Append(now, domain.RoleError, "error: "+message, "error", map[string]any{"stage": stage})
}

// Finalize removes the session from memory and writes it to both logs.
// It reports false when no live session exists for the id.
func (s *Store) Finalize(sessionID string) bool {
	now := s.now().UTC()

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, sessionID)
	sum := s.flush(sess, now, reasonExplicit)
	s.mu.Unlock()

	s.publish([]domain.SessionSummary{sum})
	return true
}

// RecordFeedback appends a rating to the feedback log. Feedback is accepted
// for any session id, including ones already finalized or never seen.
func (s *Store) RecordFeedback(sessionID string, rating int, comment string) error {
	if rating < MinRating || rating > MaxRating {
		return fmt.Errorf("%w: %d", ErrInvalidRating, rating)
	}
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return ErrCommentTooLong
	}

	fb := Feedback{Timestamp: s.now().UTC(), SessionID: sessionID, Rating: rating, Comment: comment}

	s.mu.Lock()
	err := s.writer.WriteFeedback(fb)
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Failed to write feedback", "session_id", sessionID, "error", err)
		return nil
	}
	s.logger.Info("Feedback recorded", "session_id", sessionID, "rating", rating)
	return nil
}

// Snapshot returns a copy of the live session, if any.
func (s *Store) Snapshot(sessionID string) (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, false
	}
	return sess.Clone(), true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close flushes every live session. The store must not be used afterwards.
func (s *Store) Close() error {
	now := s.now().UTC()
	var flushed []domain.SessionSummary

	s.mu.Lock()
	for id, sess := range s.sessions {
		delete(s.sessions, id)
		flushed = append(flushed, s.flush(sess, now, reasonShutdown))
	}
	s.mu.Unlock()

	s.publish(flushed)
	return nil
}

func parseHistoryTime(value string, fallback time.Time) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return fallback
}
