package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"storyboard/internal/domain"
	"storyboard/internal/executor"
	"storyboard/internal/orchestrator"
)

// IllustrationStyles lists the style presets the illustration executor
// supports. The list is static and requires no authorization.
func (a *App) IllustrationStyles(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"styles": executor.IllustrationStyles()})
}

// StatsSummary reports job counts by status and the dead-letter depth.
func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	ac, ok := a.access(w, r)
	if !ok {
		return
	}
	if ac.Role != domain.RoleSuperAdmin {
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	counts, err := a.JobStore.CountByStatus(r.Context())
	if err != nil {
		a.domainError(w, err)
		return
	}
	letters, err := a.DeadLetters.List(r.Context(), 1000)
	if err != nil {
		a.domainError(w, err)
		return
	}
	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	a.json(w, http.StatusOK, map[string]any{
		"jobs_by_status":    byStatus,
		"dead_letter_depth": len(letters),
	})
}

type deadLetterResponse struct {
	ID            string `json:"id"`
	JobID         string `json:"job_id"`
	Reason        string `json:"reason"`
	CreatedAt     string `json:"created_at"`
	RepublishedAt string `json:"republished_at,omitempty"`
}

// DeadLettersList pages through dead-lettered jobs for operator inspection.
func (a *App) DeadLettersList(w http.ResponseWriter, r *http.Request) {
	ac, ok := a.access(w, r)
	if !ok {
		return
	}
	if ac.Role != domain.RoleSuperAdmin {
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	letters, err := a.DeadLetters.List(r.Context(), limit)
	if err != nil {
		a.domainError(w, err)
		return
	}
	items := make([]deadLetterResponse, 0, len(letters))
	for _, dl := range letters {
		item := deadLetterResponse{
			ID:        dl.ID,
			JobID:     dl.JobID,
			Reason:    dl.Reason,
			CreatedAt: dl.CreatedAt.Format(timeFormat),
		}
		if !dl.RepublishedAt.IsZero() {
			item.RepublishedAt = dl.RepublishedAt.Format(timeFormat)
		}
		items = append(items, item)
	}
	a.json(w, http.StatusOK, map[string]any{"dead_letters": items})
}

// DeadLetterRepublish resubmits a dead-lettered job as a fresh generation
// attempt superseding the failed one.
func (a *App) DeadLetterRepublish(w http.ResponseWriter, r *http.Request) {
	ac, ok := a.access(w, r)
	if !ok {
		return
	}
	if ac.Role != domain.RoleSuperAdmin {
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	dl, err := a.DeadLetters.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	handle, err := a.Jobs.Regenerate(r.Context(), orchestrator.GenerationRequest{Context: ac}, dl.JobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if err := a.DeadLetters.MarkRepublished(r.Context(), dl.ID); err != nil {
		a.Logger.Error().Err(err).Str("dead_letter_id", dl.ID).Msg("mark republished failed")
	}
	a.json(w, http.StatusAccepted, handleResponse(handle))
}
