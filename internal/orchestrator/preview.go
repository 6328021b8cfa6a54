package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/cfi-labs/boardgen/internal/interpreter"
)

// PreviewRequest is one preview turn.
type PreviewRequest struct {
	SessionID   string
	UserName    string
	Description string
	Profile     domain.NormalizedProfile
	History     []domain.HistoryMessage
}

// PreviewResult is the answer to a preview turn.
type PreviewResult struct {
	Parsed    domain.Plan              `json:"parsed"`
	Profile   domain.NormalizedProfile `json:"profile"`
	Checks    domain.Checks            `json:"checks"`
	Summary   string                   `json:"summary"`
	SessionID string                   `json:"session_id"`
}

// Preview interprets the description and validates the resulting plan. A
// clarification is a successful result with Checks.OK=false.
func (o *Orchestrator) Preview(ctx context.Context, req PreviewRequest) (result *PreviewResult, err error) {
	defer o.recoverInto(req.SessionID, StagePreview, &err)

	outcome, err := o.interp.Understand(ctx, req.Description, req.Profile, req.History)
	o.telemetry.RecordPreviewRequest(req.SessionID, req.UserName, req.Description, req.History)
	if err != nil {
		return nil, o.fail(req.SessionID, StagePreview, fmt.Errorf("understand request: %w", err))
	}

	switch out := outcome.(type) {
	case *interpreter.Clarification:
		result = &PreviewResult{
			Parsed:    domain.Plan{Entities: []string{}, Layout: domain.DefaultLayout},
			Profile:   req.Profile,
			Checks:    domain.Checks{OK: false, Missing: []string{MissingClarification}},
			Summary:   "צריך הבהרה:\n" + strings.Join(out.Questions, "\n"),
			SessionID: req.SessionID,
		}
		o.telemetry.RecordPreviewResult(req.SessionID, result.Summary, map[string]any{
			"needs_clarification": true,
			"questions":           out.Questions,
		})
		return result, nil

	case *interpreter.Proposal:
		plan := out.Plan
		if plan.Entities == nil {
			plan.Entities = []string{}
		}
		if plan.Layout == "" {
			plan.Layout = domain.LayoutOrDefault(req.Profile.Layout).Name
		}
		checks := o.validator.Check(req.Profile, plan)
		result = &PreviewResult{
			Parsed:    plan,
			Profile:   req.Profile,
			Checks:    checks,
			Summary:   previewSummary(out.Reasoning, plan),
			SessionID: req.SessionID,
		}
		o.telemetry.RecordPreviewResult(req.SessionID, result.Summary, map[string]any{
			"plan":   plan,
			"checks": checks,
		})
		return result, nil

	default:
		return nil, o.fail(req.SessionID, StagePreview, fmt.Errorf("unexpected interpreter outcome %T", outcome))
	}
}

func previewSummary(reasoning string, plan domain.Plan) string {
	first := plan.Entities
	if len(first) > 3 {
		first = first[:3]
	}
	return fmt.Sprintf("%s\n\nאני אכין לוח %s עם %d פריטים: %s...",
		reasoning, plan.Layout, len(plan.Entities), strings.Join(first, ", "))
}
