package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storyboard/internal/audit"
	"storyboard/internal/domain"
	"storyboard/internal/executor"
	"storyboard/internal/safety"
)

// Authorizer decides whether a principal may act on an entity.
type Authorizer interface {
	Authorize(ctx context.Context, ac domain.AccessContext, ref domain.EntityRef) error
}

// SafetyGate classifies generation payloads before dispatch.
type SafetyGate interface {
	Classify(ctx context.Context, p safety.Payload) safety.Verdict
}

// Auditor records state-changing actions, best effort.
type Auditor interface {
	Emit(ctx context.Context, ac domain.AccessContext, entry audit.Entry)
}

// GenerationRequest is one validated-and-gated request to generate a single
// artifact for a target entity.
type GenerationRequest struct {
	Context         domain.AccessContext
	Family          domain.JobFamily
	Target          domain.EntityRef
	Params          json.RawMessage
	IdempotencySalt string
}

// JobHandle is returned to the caller immediately; completion is observed by
// polling or callbacks, never by blocking the submission.
type JobHandle struct {
	JobID  string
	Status domain.JobStatus
	// Existing is true when the handle refers to a job that already held
	// the target, rather than one created by this call.
	Existing bool
}

// ContentRejectedError carries the offending categories of a rejected payload.
type ContentRejectedError struct {
	Categories []string
	Reason     string
}

func (e *ContentRejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("content rejected: %s", e.Reason)
	}
	return fmt.Sprintf("content rejected: %s", strings.Join(e.Categories, ", "))
}

func (e *ContentRejectedError) Unwrap() error { return domain.ErrContentRejected }

// Dispatcher is the orchestration entry point: it validates, authorizes,
// gates, persists and dispatches generation requests. The job record store is
// the only synchronization point; the at-most-one-in-flight guarantee comes
// from its conditional insert, not from any lock held here.
type Dispatcher struct {
	jobs       domain.JobRepository
	authorizer Authorizer
	gate       SafetyGate
	exec       executor.Client
	auditor    Auditor
	logger     zerolog.Logger
}

// NewDispatcher constructs a Dispatcher with explicit dependencies.
func NewDispatcher(jobs domain.JobRepository, authorizer Authorizer, gate SafetyGate, exec executor.Client, auditor Auditor, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:       jobs,
		authorizer: authorizer,
		gate:       gate,
		exec:       exec,
		auditor:    auditor,
		logger:     logger,
	}
}

// Submit accepts a generation request and returns a handle. When another
// non-terminal job already holds the target, that job's handle is returned
// instead of creating a duplicate.
func (d *Dispatcher) Submit(ctx context.Context, req GenerationRequest) (*JobHandle, error) {
	if err := d.validateAndGate(ctx, req); err != nil {
		return nil, err
	}

	if handle := d.existingActive(ctx, req.Target.ID); handle != nil {
		return handle, nil
	}

	epoch, err := d.jobs.LatestEpoch(ctx, req.Target.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve epoch: %w", err)
	}
	if epoch < 0 {
		epoch = 0
	}
	return d.createAndDispatch(ctx, req, epoch, "")
}

// Regenerate creates a new job superseding a prior one. The new job's
// idempotency key intentionally differs by bumping the generation epoch; the
// prior job is never mutated.
func (d *Dispatcher) Regenerate(ctx context.Context, req GenerationRequest, priorJobID string) (*JobHandle, error) {
	prior, err := d.jobs.GetByID(ctx, priorJobID)
	if err != nil {
		return nil, err
	}
	req.Target = prior.Target
	req.Family = prior.Family
	if len(req.Params) == 0 {
		req.Params = prior.Params
	}
	if err := d.validateAndGate(ctx, req); err != nil {
		return nil, err
	}

	if handle := d.existingActive(ctx, req.Target.ID); handle != nil {
		return handle, nil
	}

	epoch, err := d.jobs.LatestEpoch(ctx, req.Target.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve epoch: %w", err)
	}
	return d.createAndDispatch(ctx, req, epoch+1, prior.ID)
}

// Cancel marks a non-terminal job cancelled and notifies the executor best
// effort. Cancelling an already-terminal job acknowledges with the current
// status.
func (d *Dispatcher) Cancel(ctx context.Context, ac domain.AccessContext, jobID string) (*JobHandle, error) {
	job, err := d.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := d.authorizer.Authorize(ctx, ac, job.Target); err != nil {
		if errors.Is(err, domain.ErrAccessDenied) {
			d.auditor.Emit(ctx, ac, audit.Entry{Action: "job.cancel_denied", Entity: job.Target})
		}
		return nil, err
	}
	if job.Status.Terminal() {
		return &JobHandle{JobID: job.ID, Status: job.Status, Existing: true}, nil
	}

	// Two attempts cover losing a race against a concurrent transition.
	for i := 0; i < 2; i++ {
		applied, err := d.jobs.Advance(ctx, job.ID, job.Seq, domain.JobMutation{Status: domain.JobStatusCancelled})
		if err != nil {
			return nil, err
		}
		if applied {
			d.notifyExecutorCancel(ctx, job)
			d.auditor.Emit(ctx, ac, audit.Entry{Action: "job.cancelled", Entity: job.Target})
			return &JobHandle{JobID: job.ID, Status: domain.JobStatusCancelled}, nil
		}
		if job, err = d.jobs.GetByID(ctx, job.ID); err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return &JobHandle{JobID: job.ID, Status: job.Status, Existing: true}, nil
		}
	}
	return nil, fmt.Errorf("cancel job %s: lost transition race twice", jobID)
}

func (d *Dispatcher) validateAndGate(ctx context.Context, req GenerationRequest) error {
	if !req.Family.Valid() {
		return fmt.Errorf("%w: unknown job family %q", domain.ErrValidation, req.Family)
	}
	if !req.Target.Kind.Valid() || req.Target.ID == "" {
		return fmt.Errorf("%w: invalid target entity", domain.ErrValidation)
	}
	if len(req.Params) == 0 {
		return fmt.Errorf("%w: params are required", domain.ErrValidation)
	}

	if err := d.authorizer.Authorize(ctx, req.Context, req.Target); err != nil {
		if errors.Is(err, domain.ErrAccessDenied) {
			d.auditor.Emit(ctx, req.Context, audit.Entry{Action: "job.submit_denied", Entity: req.Target})
		}
		return err
	}

	verdict := d.gate.Classify(ctx, gatePayload(req.Params))
	if !verdict.Safe {
		d.auditor.Emit(ctx, req.Context, audit.Entry{Action: "job.content_rejected", Entity: req.Target})
		return &ContentRejectedError{Categories: verdict.Categories, Reason: verdict.Reason}
	}
	return nil
}

func (d *Dispatcher) existingActive(ctx context.Context, targetID string) *JobHandle {
	active, err := d.jobs.ActiveByTarget(ctx, targetID)
	if err != nil {
		return nil
	}
	return &JobHandle{JobID: active.ID, Status: active.Status, Existing: true}
}

func (d *Dispatcher) createAndDispatch(ctx context.Context, req GenerationRequest, epoch int, supersededJobID string) (*JobHandle, error) {
	now := time.Now().UTC()
	job := &domain.Job{
		ID:             uuid.NewString(),
		Family:         req.Family,
		Target:         req.Target,
		TenantID:       req.Context.TenantID,
		PrincipalID:    req.Context.PrincipalID,
		IdempotencyKey: domain.IdempotencyKey(req.Target, req.Params, epoch, req.IdempotencySalt),
		Epoch:          epoch,
		Status:         domain.JobStatusPending,
		SupersededJob:  supersededJobID,
		Params:         req.Params,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := d.jobs.Insert(ctx, job); err != nil {
		if errors.Is(err, domain.ErrDuplicateOperation) {
			// Lost the insert race: the winner's handle satisfies the
			// at-most-one invariant.
			if handle := d.existingActive(ctx, req.Target.ID); handle != nil {
				return handle, nil
			}
			return nil, domain.ErrDuplicateOperation
		}
		return nil, fmt.Errorf("persist job: %w", err)
	}
	d.auditor.Emit(ctx, req.Context, audit.Entry{Action: "job.submitted", Entity: req.Target})

	attempt := 1
	accepted, err := d.exec.Submit(ctx, job.Family, executor.SubmitRequest{
		IdempotencyKey: job.IdempotencyKey,
		TargetEntityID: job.Target.ID,
		Payload:        job.Params,
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("job_id", job.ID).Msg("dispatch to executor failed")
		jobErr := &domain.JobError{Code: domain.ErrCodeDispatchFailed, Message: err.Error()}
		if _, advErr := d.jobs.Advance(ctx, job.ID, job.Seq, domain.JobMutation{
			Status:    domain.JobStatusFailed,
			Attempt:   &attempt,
			LastError: jobErr,
		}); advErr != nil {
			d.logger.Error().Err(advErr).Str("job_id", job.ID).Msg("failed to record dispatch failure")
		}
		return &JobHandle{JobID: job.ID, Status: domain.JobStatusFailed},
			fmt.Errorf("%w: %s", domain.ErrDispatchFailed, err)
	}

	if _, err := d.jobs.Advance(ctx, job.ID, job.Seq, domain.JobMutation{
		Status:        domain.JobStatusDispatched,
		Attempt:       &attempt,
		ExecutorJobID: &accepted.ExecutorJobID,
	}); err != nil {
		return nil, fmt.Errorf("record dispatch: %w", err)
	}

	d.logger.Info().
		Str("job_id", job.ID).
		Str("family", string(job.Family)).
		Str("target_id", job.Target.ID).
		Msg("job dispatched")
	return &JobHandle{JobID: job.ID, Status: domain.JobStatusDispatched}, nil
}

func (d *Dispatcher) notifyExecutorCancel(ctx context.Context, job *domain.Job) {
	if job.ExecutorJobID == "" {
		return
	}
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.exec.Cancel(cancelCtx, job.Family, job.ExecutorJobID); err != nil {
		d.logger.Warn().Err(err).Str("job_id", job.ID).Msg("executor cancel notification failed")
	}
}

type gateParams struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	ImageBase64    []byte `json:"image_base64"`
}

// gatePayload extracts the classifiable fields from request params.
func gatePayload(params json.RawMessage) safety.Payload {
	var p gateParams
	_ = json.Unmarshal(params, &p)
	return safety.Payload{
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		ImageBytes:     p.ImageBase64,
	}
}
