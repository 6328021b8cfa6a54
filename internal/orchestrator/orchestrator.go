// Package orchestrator drives the preview and generate lifecycle of a board
// request across the interpreter, image generation, rendering and telemetry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/cfi-labs/boardgen/internal/generation"
	"github.com/cfi-labs/boardgen/internal/interpreter"
	"github.com/cfi-labs/boardgen/internal/jobs"
	"github.com/cfi-labs/boardgen/internal/labels"
	"github.com/cfi-labs/boardgen/internal/metrics"
	"github.com/cfi-labs/boardgen/internal/render"
)

// Stages recorded with errors.
const (
	StagePreview  = "preview"
	StageValidate = "validate"
	StagePrompts  = "prompts"
	StageImages   = "images"
	StageRender   = "render"
)

// MissingClarification is reported in Checks.Missing when the interpreter asked questions.
const MissingClarification = "clarification_needed"

// ErrInvalidPlan is returned when a plan fails validation before generation.
var ErrInvalidPlan = errors.New("plan failed validation")

// SessionError annotates a failure with the session it belongs to.
type SessionError struct {
	SessionID string
	Stage     string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Stage, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Validator checks plans against layout capacity.
type Validator interface {
	Check(profile domain.NormalizedProfile, plan domain.Plan) domain.Checks
}

// Translator produces label sets for entities.
type Translator interface {
	Labels(entities, languages []string) []labels.Set
}

// Renderer composes the board artifacts.
type Renderer interface {
	Render(req render.Request) (string, string, error)
}

// Generator acquires one image per prompt.
type Generator interface {
	Run(ctx context.Context, sessionID string, prompts []interpreter.EntityPrompt, dir string, rep generation.Reporter) ([]string, error)
}

// SessionRecorder accumulates session telemetry. Its methods never fail.
type SessionRecorder interface {
	RecordPreviewRequest(sessionID, userName, description string, history []domain.HistoryMessage)
	RecordPreviewResult(sessionID, summary string, payload map[string]any)
	RecordGenerateStart(sessionID string, imageCount int)
	RecordGenerateSuccess(sessionID string, imageFiles []string, boardPNG, boardPDF string)
	RecordError(sessionID, stage, message string)
	Finalize(sessionID string) bool
}

// JobStarter queues background work.
type JobStarter interface {
	Start(sessionID string, total int, run jobs.RunFunc) (string, error)
}

// Options wires an Orchestrator.
type Options struct {
	Interpreter Interpreter
	Validator   Validator
	Translator  Translator
	Renderer    Renderer
	Generator   Generator
	Telemetry   SessionRecorder
	Jobs        JobStarter
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	AssetsDir   string
	AssetsURL   string
}

// Interpreter interprets descriptions and builds image prompts.
type Interpreter = interpreter.Interpreter

// Orchestrator is the request lifecycle controller.
type Orchestrator struct {
	interp     Interpreter
	validator  Validator
	translator Translator
	renderer   Renderer
	generator  Generator
	telemetry  SessionRecorder
	jobs       JobStarter
	metrics    *metrics.Metrics
	logger     *slog.Logger
	assetsDir  string
	assetsURL  string
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AssetsURL == "" {
		opts.AssetsURL = "/assets/"
	}
	return &Orchestrator{
		interp:     opts.Interpreter,
		validator:  opts.Validator,
		translator: opts.Translator,
		renderer:   opts.Renderer,
		generator:  opts.Generator,
		telemetry:  opts.Telemetry,
		jobs:       opts.Jobs,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		assetsDir:  opts.AssetsDir,
		assetsURL:  opts.AssetsURL,
	}
}

// fail records err against the session, finalizes it and returns the
// annotated error. An existing SessionError is not wrapped twice.
func (o *Orchestrator) fail(sessionID, stage string, err error) error {
	var se *SessionError
	if errors.As(err, &se) {
		stage, err = se.Stage, se.Err
	}
	o.logger.Error("Board request failed", "session_id", sessionID, "stage", stage, "error", err)
	o.telemetry.RecordError(sessionID, stage, err.Error())
	o.telemetry.Finalize(sessionID)
	return &SessionError{SessionID: sessionID, Stage: stage, Err: err}
}

// recoverInto turns a panic into a session failure stored in *errp.
func (o *Orchestrator) recoverInto(sessionID, stage string, errp *error) {
	if r := recover(); r != nil {
		*errp = o.fail(sessionID, stage, fmt.Errorf("panic: %v", r))
	}
}
