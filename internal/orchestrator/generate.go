package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/cfi-labs/boardgen/internal/generation"
	"github.com/cfi-labs/boardgen/internal/interpreter"
	"github.com/cfi-labs/boardgen/internal/render"
)

// GenerateRequest asks for the board of an approved plan.
type GenerateRequest struct {
	SessionID string
	Plan      domain.Plan
	Profile   domain.NormalizedProfile
	Title     string
}

// GenerateResult references the produced board.
type GenerateResult struct {
	Assets    domain.Assets  `json:"assets"`
	Timings   domain.Timings `json:"timings_ms"`
	SessionID string         `json:"session_id"`
}

// Generate produces images, labels and the rendered board. The session is
// finalized on success and on every failure. rep may be nil.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest, rep generation.Reporter) (result *GenerateResult, err error) {
	defer o.recoverInto(req.SessionID, StageImages, &err)

	if err := o.validate(req); err != nil {
		return nil, o.fail(req.SessionID, StageValidate, err)
	}
	entities := req.Plan.Entities
	o.telemetry.RecordGenerateStart(req.SessionID, len(entities))

	prompts := o.buildPrompts(ctx, req)

	imagesStart := time.Now()
	files, err := o.generator.Run(ctx, req.SessionID, prompts, o.assetsDir, rep)
	imagesTook := time.Since(imagesStart)
	o.metrics.ObservePhase(StageImages, imagesTook)
	if err != nil {
		return nil, o.fail(req.SessionID, StageImages, err)
	}

	if rep != nil {
		rep.Report(generation.Update{Completed: len(files), Message: "מרכיב את הלוח..."})
	}

	renderStart := time.Now()
	pngName, pdfName, err := o.renderer.Render(render.Request{
		Layout:   req.Plan.Layout,
		Title:    req.Title,
		Entities: entities,
		Images:   files,
		Labels:   o.translator.Labels(entities, req.Profile.LabelsLanguages),
		Dir:      o.assetsDir,
		Prefix:   req.SessionID,
	})
	renderTook := time.Since(renderStart)
	o.metrics.ObservePhase(StageRender, renderTook)
	if err != nil {
		return nil, o.fail(req.SessionID, StageRender, fmt.Errorf("render board: %w", err))
	}

	o.telemetry.RecordGenerateSuccess(req.SessionID, files, pngName, pdfName)
	o.telemetry.Finalize(req.SessionID)

	o.logger.Info("Board generated", "session_id", req.SessionID, "entities", len(entities),
		"images_ms", imagesTook.Milliseconds(), "render_ms", renderTook.Milliseconds())

	return &GenerateResult{
		Assets: domain.Assets{
			PNGURL: o.assetsURL + pngName,
			PDFURL: o.assetsURL + pdfName,
		},
		Timings: domain.Timings{
			Images: imagesTook.Milliseconds(),
			Render: renderTook.Milliseconds(),
		},
		SessionID: req.SessionID,
	}, nil
}

// StartGenerate validates the plan and queues Generate on the job pool.
func (o *Orchestrator) StartGenerate(req GenerateRequest) (string, error) {
	if err := o.validate(req); err != nil {
		return "", o.fail(req.SessionID, StageValidate, err)
	}
	return o.jobs.Start(req.SessionID, len(req.Plan.Entities), func(ctx context.Context, jobID string, rep generation.Reporter) (*domain.Assets, error) {
		o.logger.Info("Job running", "job_id", jobID, "session_id", req.SessionID)
		res, err := o.Generate(ctx, req, rep)
		if err != nil {
			return nil, err
		}
		return &res.Assets, nil
	})
}

func (o *Orchestrator) validate(req GenerateRequest) error {
	checks := o.validator.Check(req.Profile, req.Plan)
	if !checks.OK {
		return fmt.Errorf("%w: missing %v", ErrInvalidPlan, checks.Missing)
	}
	return nil
}

// buildPrompts falls back to templated prompts when the interpreter fails.
func (o *Orchestrator) buildPrompts(ctx context.Context, req GenerateRequest) []interpreter.EntityPrompt {
	board := interpreter.InferBoardContext(req.Plan.Topic, req.Title, req.Plan.Entities)
	prompts, err := o.interp.BuildPrompts(ctx, req.Plan.Entities, req.Profile, req.Profile.ImageStyle, board)
	if err == nil && len(prompts) == len(req.Plan.Entities) {
		return prompts
	}
	if err == nil {
		err = fmt.Errorf("got %d prompts for %d entities", len(prompts), len(req.Plan.Entities))
	}
	o.logger.Warn("Prompt building failed, using simple prompts", "session_id", req.SessionID, "error", err)
	return interpreter.FallbackPrompts(req.Plan.Entities)
}
