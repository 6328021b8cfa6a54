package api

import (
	"errors"
	"net/http"

	"github.com/cfi-labs/boardgen/internal/identity"
	"github.com/cfi-labs/boardgen/internal/telemetry"
)

type feedbackBody struct {
	SessionID string `json:"session_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

// HandleFeedback handles POST /api/feedback.
func (h *Handler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	var body feedbackBody
	if err := decode(w, r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sessionID := identity.SanitizeSessionID(body.SessionID)
	if sessionID == "" {
		sessionID = identity.SessionIDFromContext(r.Context())
	}
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	err := h.feedback.RecordFeedback(sessionID, body.Rating, body.Comment)
	switch {
	case errors.Is(err, telemetry.ErrInvalidRating):
		Error(w, http.StatusBadRequest, "rating must be between 1 and 5")
	case errors.Is(err, telemetry.ErrCommentTooLong):
		Error(w, http.StatusBadRequest, "comment is too long")
	case err != nil:
		Error(w, http.StatusInternalServerError, "failed to record feedback")
	default:
		JSON(w, http.StatusOK, map[string]any{"status": "ok", "session_id": sessionID})
	}
}
