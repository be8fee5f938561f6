package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"storyboard/internal/domain"
	"storyboard/internal/middleware"
	"storyboard/internal/orchestrator"
)

// JobService is the dispatcher surface the handlers depend on.
type JobService interface {
	Submit(ctx context.Context, req orchestrator.GenerationRequest) (*orchestrator.JobHandle, error)
	Regenerate(ctx context.Context, req orchestrator.GenerationRequest, priorJobID string) (*orchestrator.JobHandle, error)
	Cancel(ctx context.Context, ac domain.AccessContext, jobID string) (*orchestrator.JobHandle, error)
}

// BatchService is the coordinator surface the handlers depend on.
type BatchService interface {
	SubmitBatch(ctx context.Context, req orchestrator.BatchRequest) (*orchestrator.BatchHandle, error)
	Status(ctx context.Context, batchID string) (*orchestrator.BatchView, error)
}

// JobReader refreshes and returns a job on demand.
type JobReader interface {
	ReconcileJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// CallbackSink merges executor push notifications.
type CallbackSink interface {
	HandleCallback(ctx context.Context, cb orchestrator.CallbackPayload) error
}

// Authorizer decides whether a principal may act on an entity.
type Authorizer interface {
	Authorize(ctx context.Context, ac domain.AccessContext, ref domain.EntityRef) error
}

// App bundles the dependencies of the HTTP surface.
type App struct {
	Jobs          JobService
	Batches       BatchService
	Reader        JobReader
	Callbacks     CallbackSink
	Authz         Authorizer
	JobStore      domain.JobRepository
	DeadLetters   domain.DeadLetterRepository
	CallbackToken string
	Logger        zerolog.Logger
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, errorBody{Error: slug, Message: message})
}

func (a *App) access(w http.ResponseWriter, r *http.Request) (domain.AccessContext, bool) {
	ac, ok := middleware.AccessFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing access context")
	}
	return ac, ok
}

// domainError translates sentinel errors to HTTP responses. Denied access is
// reported exactly like a missing resource.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrAccessDenied):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrContentRejected):
		var rejected *orchestrator.ContentRejectedError
		if errors.As(err, &rejected) {
			a.json(w, http.StatusUnprocessableEntity, map[string]any{
				"error":      "content_rejected",
				"message":    rejected.Error(),
				"categories": rejected.Categories,
			})
			return
		}
		a.error(w, http.StatusUnprocessableEntity, "content_rejected", err.Error())
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrDispatchFailed):
		a.error(w, http.StatusBadGateway, "dispatch_failed", "executor rejected the dispatch")
	default:
		a.Logger.Error().Err(err).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
