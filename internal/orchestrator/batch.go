package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"storyboard/internal/domain"
)

// Submitter is the slice of the dispatcher the coordinator needs.
type Submitter interface {
	Submit(ctx context.Context, req GenerationRequest) (*JobHandle, error)
}

// BatchRequest fans one set of shared params out over many targets.
type BatchRequest struct {
	Context      domain.AccessContext
	Family       domain.JobFamily
	Targets      []domain.EntityRef
	SharedParams json.RawMessage
}

// BatchHandle correlates the batch with its members. MemberJobIDs preserve
// the request order even though dispatch order is unspecified.
type BatchHandle struct {
	BatchID      string
	MemberJobIDs []string
}

// BatchView is the derived status of a batch at read time.
type BatchView struct {
	BatchID        string
	Status         domain.BatchStatus
	RequestedCount int
	CompletedCount int
	FailedCount    int
	MemberJobIDs   []string
}

// Coordinator fans a batch out into individual jobs with bounded
// concurrency. A single member's authorization or safety failure never
// aborts the batch; it becomes an immediately-failed member job so batch
// accounting stays exact.
type Coordinator struct {
	submitter Submitter
	jobs      domain.JobRepository
	batches   domain.BatchRepository
	width     int
	logger    zerolog.Logger
}

// NewCoordinator constructs a Coordinator. width bounds the dispatch fan-out.
func NewCoordinator(submitter Submitter, jobs domain.JobRepository, batches domain.BatchRepository, width int, logger zerolog.Logger) *Coordinator {
	if width <= 0 {
		width = 4
	}
	return &Coordinator{submitter: submitter, jobs: jobs, batches: batches, width: width, logger: logger}
}

// SubmitBatch dispatches one job per target and persists the grouping.
func (c *Coordinator) SubmitBatch(ctx context.Context, req BatchRequest) (*BatchHandle, error) {
	if len(req.Targets) == 0 {
		return nil, fmt.Errorf("%w: at least one target is required", domain.ErrValidation)
	}
	if !req.Family.Valid() {
		return nil, fmt.Errorf("%w: unknown job family %q", domain.ErrValidation, req.Family)
	}

	memberIDs := make([]string, len(req.Targets))

	g := &errgroup.Group{}
	g.SetLimit(c.width)
	for i, target := range req.Targets {
		i, target := i, target
		g.Go(func() error {
			id, err := c.submitMember(ctx, req, target)
			if err != nil {
				return err
			}
			memberIDs[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch := &domain.Batch{
		ID:             uuid.NewString(),
		Family:         req.Family,
		MemberJobIDs:   memberIDs,
		RequestedCount: len(memberIDs),
		CreatedAt:      time.Now().UTC(),
	}
	if err := c.batches.Insert(ctx, batch); err != nil {
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	c.logger.Info().
		Str("batch_id", batch.ID).
		Int("requested", batch.RequestedCount).
		Msg("batch submitted")
	return &BatchHandle{BatchID: batch.ID, MemberJobIDs: memberIDs}, nil
}

// submitMember submits one member and converts synchronous rejections into
// immediately-failed member jobs.
func (c *Coordinator) submitMember(ctx context.Context, req BatchRequest, target domain.EntityRef) (string, error) {
	handle, err := c.submitter.Submit(ctx, GenerationRequest{
		Context: req.Context,
		Family:  req.Family,
		Target:  target,
		Params:  req.SharedParams,
	})
	if err == nil {
		return handle.JobID, nil
	}
	// A dispatch failure already produced a failed job; keep its id.
	if errors.Is(err, domain.ErrDispatchFailed) && handle != nil {
		return handle.JobID, nil
	}

	code, ok := rejectionCode(err)
	if !ok {
		return "", fmt.Errorf("submit member %s: %w", target.ID, err)
	}
	c.logger.Debug().
		Str("target_id", target.ID).
		Str("code", string(code)).
		Msg("batch member rejected, recording failed job")

	now := time.Now().UTC()
	member := &domain.Job{
		ID:             uuid.NewString(),
		Family:         req.Family,
		Target:         target,
		TenantID:       req.Context.TenantID,
		PrincipalID:    req.Context.PrincipalID,
		IdempotencyKey: domain.IdempotencyKey(target, req.SharedParams, 0, "rejected"),
		Status:         domain.JobStatusFailed,
		LastError:      &domain.JobError{Code: code, Message: err.Error()},
		Params:         req.SharedParams,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.jobs.Insert(ctx, member); err != nil {
		return "", fmt.Errorf("record rejected member %s: %w", target.ID, err)
	}
	return member.ID, nil
}

// Status recomputes the batch view from member job statuses.
func (c *Coordinator) Status(ctx context.Context, batchID string) (*BatchView, error) {
	batch, err := c.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	statuses, err := c.batches.MemberStatuses(ctx, batch.MemberJobIDs)
	if err != nil {
		return nil, err
	}
	acc := domain.DeriveBatchStatus(statuses)
	return &BatchView{
		BatchID:        batch.ID,
		Status:         acc.Status,
		RequestedCount: acc.RequestedCount,
		CompletedCount: acc.CompletedCount,
		FailedCount:    acc.FailedCount,
		MemberJobIDs:   batch.MemberJobIDs,
	}, nil
}

func rejectionCode(err error) (domain.ErrorCode, bool) {
	switch {
	case errors.Is(err, domain.ErrAccessDenied):
		return domain.ErrCodeAccessDenied, true
	case errors.Is(err, domain.ErrContentRejected):
		return domain.ErrCodeContentRejected, true
	case errors.Is(err, domain.ErrValidation):
		return domain.ErrCodeGenerationFailed, true
	case errors.Is(err, domain.ErrDispatchFailed):
		return domain.ErrCodeDispatchFailed, true
	}
	return "", false
}
