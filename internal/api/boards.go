package api

import (
	"net/http"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/cfi-labs/boardgen/internal/identity"
	"github.com/cfi-labs/boardgen/internal/orchestrator"
)

type previewBody struct {
	SessionID        string                  `json:"session_id"`
	UserName         string                  `json:"user_name"`
	PatientProfile   domain.PatientProfile   `json:"patient_profile"`
	BoardDescription string                  `json:"board_description"`
	Preferences      *domain.Preferences     `json:"preferences"`
	History          []domain.HistoryMessage `json:"history"`
}

type parsedBody struct {
	Topic    string   `json:"topic"`
	Layout   string   `json:"layout"`
	Entities []string `json:"entities"`
}

type generateBody struct {
	SessionID      string                   `json:"session_id"`
	Parsed         parsedBody               `json:"parsed"`
	Profile        domain.NormalizedProfile `json:"profile"`
	PatientProfile domain.PatientProfile    `json:"patient_profile"`
	Preferences    *domain.Preferences      `json:"preferences"`
	Title          string                   `json:"title"`
}

type asyncResponse struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id"`
}

// HandlePreview handles POST /api/boards/preview.
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	var body previewBody
	if err := decode(w, r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sessionID := identity.Resolve(r.Context(), body.SessionID)
	userName := identity.SanitizeUserName(body.UserName)
	if userName == "" {
		userName = identity.UserNameFromContext(r.Context())
	}

	result, err := h.boards.Preview(r.Context(), orchestrator.PreviewRequest{
		SessionID:   sessionID,
		UserName:    userName,
		Description: body.BoardDescription,
		Profile:     domain.NormalizeProfile(body.PatientProfile, body.Preferences),
		History:     body.History,
	})
	if err != nil {
		h.writeCoreError(w, r, sessionID, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// HandleGenerate handles POST /api/boards/generate.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.generateRequest(w, r)
	if !ok {
		return
	}
	result, err := h.boards.Generate(r.Context(), req, nil)
	if err != nil {
		h.writeCoreError(w, r, req.SessionID, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// HandleGenerateAsync handles POST /api/boards/generate/async.
func (h *Handler) HandleGenerateAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.generateRequest(w, r)
	if !ok {
		return
	}
	jobID, err := h.boards.StartGenerate(req)
	if err != nil {
		h.writeCoreError(w, r, req.SessionID, err)
		return
	}
	JSON(w, http.StatusAccepted, asyncResponse{JobID: jobID, SessionID: req.SessionID})
}

func (h *Handler) generateRequest(w http.ResponseWriter, r *http.Request) (orchestrator.GenerateRequest, bool) {
	var body generateBody
	if err := decode(w, r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return orchestrator.GenerateRequest{}, false
	}
	return orchestrator.GenerateRequest{
		SessionID: identity.Resolve(r.Context(), body.SessionID),
		Plan: domain.Plan{
			Topic:    body.Parsed.Topic,
			Layout:   body.Parsed.Layout,
			Entities: body.Parsed.Entities,
		},
		Profile: generateProfile(body),
		Title:   body.Title,
	}, true
}

// generateProfile normalizes the optional client profile and lets the
// preview's normalized fields, echoed back by the client, take precedence.
func generateProfile(body generateBody) domain.NormalizedProfile {
	p := domain.NormalizeProfile(body.PatientProfile, body.Preferences)
	if len(body.Profile.LabelsLanguages) > 0 {
		p.LabelsLanguages = body.Profile.LabelsLanguages
	}
	if body.Profile.ImageStyle != "" {
		p.ImageStyle = body.Profile.ImageStyle
	}
	if _, ok := domain.LookupLayout(body.Parsed.Layout); ok {
		p.Layout = body.Parsed.Layout
	}
	return p
}
