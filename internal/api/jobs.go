package api

import (
	"errors"
	"net/http"

	"github.com/cfi-labs/boardgen/internal/jobs"
	"github.com/go-chi/chi/v5"
)

// HandleJob handles GET /api/jobs/{id}.
func (h *Handler) HandleJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.jobs.Poll(r.Context(), id)
	if errors.Is(err, jobs.ErrJobNotFound) {
		Error(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to poll job", "job_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	JSON(w, http.StatusOK, job)
}
