package executor

import (
	"context"
	"encoding/json"
	"time"

	"storyboard/internal/domain"
)

// SubmitRequest asks an executor to begin generating one artifact. The
// idempotency key lets the executor deduplicate at-least-once submissions.
type SubmitRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	TargetEntityID string          `json:"target_entity_id"`
	Payload        json.RawMessage `json:"payload"`
}

// SubmitResponse acknowledges acceptance, not completion.
type SubmitResponse struct {
	ExecutorJobID string    `json:"executor_job_id"`
	AcceptedAt    time.Time `json:"accepted_at"`
}

// StatusResponse is the executor's view of a running job.
type StatusResponse struct {
	Status   string          `json:"status"` // queued | generating | completed | failed
	Progress float64         `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Client abstracts the external generation executor, one endpoint per job
// family. Implementations must bound Submit by the dispatch timeout: the
// executor is expected to acknowledge acceptance within seconds, not to
// finish generating.
type Client interface {
	Submit(ctx context.Context, family domain.JobFamily, req SubmitRequest) (*SubmitResponse, error)
	Status(ctx context.Context, family domain.JobFamily, executorJobID string) (*StatusResponse, error)
	// Cancel is best effort; a late completion callback for a cancelled
	// job is discarded by the reconciler, not treated as an error.
	Cancel(ctx context.Context, family domain.JobFamily, executorJobID string) error
}

// MapStatus translates an executor-side status into the job lifecycle state.
func MapStatus(s string) (domain.JobStatus, bool) {
	switch s {
	case "queued", "pending":
		return domain.JobStatusDispatched, true
	case "generating", "processing", "running":
		return domain.JobStatusGenerating, true
	case "completed", "succeeded":
		return domain.JobStatusCompleted, true
	case "failed":
		return domain.JobStatusFailed, true
	}
	return "", false
}
