package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storyboard/internal/domain"
	"storyboard/internal/orchestrator"
)

type submitBatchRequest struct {
	Family       string          `json:"family"`
	TargetKind   string          `json:"target_kind"`
	TargetIDs    []string        `json:"target_ids"`
	SharedParams json.RawMessage `json:"shared_params"`
}

type batchHandleResponse struct {
	BatchID      string   `json:"batch_id"`
	MemberJobIDs []string `json:"member_job_ids"`
}

// BatchesSubmit fans one request out over many targets. Individual member
// rejections do not fail the batch.
func (a *App) BatchesSubmit(w http.ResponseWriter, r *http.Request) {
	ac, ok := a.access(w, r)
	if !ok {
		return
	}
	var req submitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	targets := make([]domain.EntityRef, len(req.TargetIDs))
	for i, id := range req.TargetIDs {
		targets[i] = domain.EntityRef{Kind: domain.EntityKind(req.TargetKind), ID: id}
	}

	handle, err := a.Batches.SubmitBatch(r.Context(), orchestrator.BatchRequest{
		Context:      ac,
		Family:       domain.JobFamily(req.Family),
		Targets:      targets,
		SharedParams: req.SharedParams,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, batchHandleResponse{
		BatchID:      handle.BatchID,
		MemberJobIDs: handle.MemberJobIDs,
	})
}

type batchStatusResponse struct {
	BatchID        string   `json:"batch_id"`
	Status         string   `json:"status"`
	RequestedCount int      `json:"requested_count"`
	CompletedCount int      `json:"completed_count"`
	FailedCount    int      `json:"failed_count"`
	MemberJobIDs   []string `json:"member_job_ids"`
}

// BatchesStatus recomputes the batch view from its member jobs.
func (a *App) BatchesStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.access(w, r); !ok {
		return
	}
	view, err := a.Batches.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, batchStatusResponse{
		BatchID:        view.BatchID,
		Status:         string(view.Status),
		RequestedCount: view.RequestedCount,
		CompletedCount: view.CompletedCount,
		FailedCount:    view.FailedCount,
		MemberJobIDs:   view.MemberJobIDs,
	})
}
