package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storyboard/internal/domain"
	"storyboard/internal/orchestrator"
)

type submitJobRequest struct {
	Family     string          `json:"family"`
	TargetKind string          `json:"target_kind"`
	TargetID   string          `json:"target_id"`
	Params     json.RawMessage `json:"params"`
}

type jobHandleResponse struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Existing bool   `json:"existing,omitempty"`
	Error    string `json:"error,omitempty"`
}

func handleResponse(h *orchestrator.JobHandle) jobHandleResponse {
	return jobHandleResponse{JobID: h.JobID, Status: string(h.Status), Existing: h.Existing}
}

// JobsSubmit accepts a generation request and responds before the artifact
// exists. A duplicate of an in-flight target answers 200 with the existing
// handle instead of 202.
func (a *App) JobsSubmit(w http.ResponseWriter, r *http.Request) {
	ac, ok := a.access(w, r)
	if !ok {
		return
	}
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	handle, err := a.Jobs.Submit(r.Context(), orchestrator.GenerationRequest{
		Context: ac,
		Family:  domain.JobFamily(req.Family),
		Target:  domain.EntityRef{Kind: domain.EntityKind(req.TargetKind), ID: req.TargetID},
		Params:  req.Params,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDispatchFailed) && handle != nil {
			resp := handleResponse(handle)
			resp.Error = string(domain.ErrCodeDispatchFailed)
			a.json(w, http.StatusBadGateway, resp)
			return
		}
		a.domainError(w, err)
		return
	}
	if handle.Existing {
		a.json(w, http.StatusOK, handleResponse(handle))
		return
	}
	a.json(w, http.StatusAccepted, handleResponse(handle))
}

type jobStatusResponse struct {
	JobID         string            `json:"job_id"`
	Family        string            `json:"family"`
	TargetKind    string            `json:"target_kind"`
	TargetID      string            `json:"target_id"`
	Status        string            `json:"status"`
	Progress      float64           `json:"progress"`
	Attempt       int               `json:"attempt"`
	Epoch         int               `json:"epoch"`
	SupersededJob string            `json:"superseded_job,omitempty"`
	Result        *domain.JobResult `json:"result,omitempty"`
	LastError     *domain.JobError  `json:"last_error,omitempty"`
	CreatedAt     string            `json:"created_at"`
	UpdatedAt     string            `json:"updated_at"`
}

// JobsStatus reads one job, refreshing it against the executor. The caller
// is authorized against the stored record before any executor traffic.
func (a *App) JobsStatus(w http.ResponseWriter, r *http.Request) {
	ac, ok := a.access(w, r)
	if !ok {
		return
	}
	jobID := chi.URLParam(r, "id")
	stored, err := a.JobStore.GetByID(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if err := a.Authz.Authorize(r.Context(), ac, stored.Target); err != nil {
		a.domainError(w, err)
		return
	}
	job, err := a.Reader.ReconcileJob(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, jobStatusResponse{
		JobID:         job.ID,
		Family:        string(job.Family),
		TargetKind:    string(job.Target.Kind),
		TargetID:      job.Target.ID,
		Status:        string(job.Status),
		Progress:      job.Progress,
		Attempt:       job.Attempt,
		Epoch:         job.Epoch,
		SupersededJob: job.SupersededJob,
		Result:        job.Result,
		LastError:     job.LastError,
		CreatedAt:     job.CreatedAt.Format(timeFormat),
		UpdatedAt:     job.UpdatedAt.Format(timeFormat),
	})
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobsCancel cancels a job; cancelling a settled job acknowledges its state.
func (a *App) JobsCancel(w http.ResponseWriter, r *http.Request) {
	ac, ok := a.access(w, r)
	if !ok {
		return
	}
	handle, err := a.Jobs.Cancel(r.Context(), ac, chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, handleResponse(handle))
}

type regenerateRequest struct {
	Params json.RawMessage `json:"params"`
}

// JobsRegenerate supersedes a prior job with a fresh generation attempt.
func (a *App) JobsRegenerate(w http.ResponseWriter, r *http.Request) {
	ac, ok := a.access(w, r)
	if !ok {
		return
	}
	var req regenerateRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	handle, err := a.Jobs.Regenerate(r.Context(), orchestrator.GenerationRequest{
		Context: ac,
		Params:  req.Params,
	}, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrDispatchFailed) && handle != nil {
			resp := handleResponse(handle)
			resp.Error = string(domain.ErrCodeDispatchFailed)
			a.json(w, http.StatusBadGateway, resp)
			return
		}
		a.domainError(w, err)
		return
	}
	if handle.Existing {
		a.json(w, http.StatusOK, handleResponse(handle))
		return
	}
	a.json(w, http.StatusAccepted, handleResponse(handle))
}
