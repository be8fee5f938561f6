package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storyboard/internal/domain"
	"storyboard/internal/executor"
)

// CallbackPayload is the executor's push notification for a job, correlated
// back to the core job via the stored executor job id.
type CallbackPayload struct {
	ExecutorJobID string  `json:"executor_job_id"`
	Status        string  `json:"status"`
	Progress      float64 `json:"progress"`
	Result        []byte  `json:"result,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// ReconcilerOptions tunes the reconciliation loop.
type ReconcilerOptions struct {
	// Interval between reconciliation passes.
	Interval time.Duration
	// UnavailableAfter is the maximum executor unavailability window
	// before a job is escalated.
	UnavailableAfter time.Duration
	// MaxAttempts bounds automatic re-dispatch attempts before the job is
	// terminally failed and dead-lettered.
	MaxAttempts int
}

type retryState struct {
	bo     backoff.BackOff
	nextAt time.Time
}

// Reconciler merges executor-observed state into the job record store. All
// merges are monotonic: an observation older than the stored status is
// discarded, never applied. The single ticker loop owns all polling, so a
// job reaching a terminal state simply stops being listed, leaving no
// orphaned timers behind.
type Reconciler struct {
	jobs        domain.JobRepository
	deadletters domain.DeadLetterRepository
	exec        executor.Client
	opts        ReconcilerOptions
	logger      zerolog.Logger
	now         func() time.Time

	mu      sync.Mutex
	retries map[string]*retryState
}

// NewReconciler constructs a Reconciler.
func NewReconciler(jobs domain.JobRepository, deadletters domain.DeadLetterRepository, exec executor.Client, opts ReconcilerOptions, logger zerolog.Logger) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.UnavailableAfter <= 0 {
		opts.UnavailableAfter = 2 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Reconciler{
		jobs:        jobs,
		deadletters: deadletters,
		exec:        exec,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
		retries:     make(map[string]*retryState),
	}
}

// Run drives reconciliation passes until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	r.logger.Info().Dur("interval", r.opts.Interval).Msg("reconciler started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Pass(ctx); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation pass failed")
			}
		}
	}
}

// Pass reconciles every non-terminal job once.
func (r *Reconciler) Pass(ctx context.Context) error {
	active, err := r.jobs.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}
	for i := range active {
		job := &active[i]
		switch job.Status {
		case domain.JobStatusPending:
			r.expireStalePending(ctx, job)
		case domain.JobStatusDispatched, domain.JobStatusGenerating:
			r.pollJob(ctx, job)
		}
	}
	return nil
}

// ReconcileJob refreshes one job on demand (the pull path behind status
// queries). On executor unavailability the last persisted state is returned
// instead of surfacing the transport error.
func (r *Reconciler) ReconcileJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() || job.ExecutorJobID == "" {
		return job, nil
	}
	r.pollJob(ctx, job)
	return r.jobs.GetByID(ctx, jobID)
}

// HandleCallback merges a push notification from the executor. Callbacks for
// terminal jobs (including cancelled ones) are accepted and ignored.
func (r *Reconciler) HandleCallback(ctx context.Context, cb CallbackPayload) error {
	if cb.ExecutorJobID == "" {
		return fmt.Errorf("%w: executor_job_id is required", domain.ErrValidation)
	}
	job, err := r.jobs.GetByExecutorJobID(ctx, cb.ExecutorJobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		r.logger.Debug().Str("job_id", job.ID).Msg("callback for terminal job discarded")
		return nil
	}
	st := &executor.StatusResponse{
		Status:   cb.Status,
		Progress: cb.Progress,
		Result:   cb.Result,
		Error:    cb.Error,
	}
	if _, err := r.applyObservation(ctx, job, st); err != nil {
		return err
	}
	return nil
}

func (r *Reconciler) pollJob(ctx context.Context, job *domain.Job) {
	if r.waitingForRetry(job.ID) {
		return
	}
	st, err := r.exec.Status(ctx, job.Family, job.ExecutorJobID)
	if err != nil {
		r.handleUnreachable(ctx, job, err)
		return
	}
	r.clearRetry(job.ID)
	applied, err := r.applyObservation(ctx, job, st)
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("apply observation failed")
		return
	}
	if !applied && !job.UnreachableAt.IsZero() {
		// The executor answered, so the unavailability window is over even
		// when the observation itself is a no-op.
		var clear time.Time
		if _, err := r.jobs.Advance(ctx, job.ID, job.Seq, domain.JobMutation{
			Status:        job.Status,
			UnreachableAt: &clear,
		}); err != nil {
			r.logger.Error().Err(err).Str("job_id", job.ID).Msg("clear unreachable window failed")
		}
	}
}

// applyObservation merges one executor observation, discarding anything that
// would move the job backwards in the status order.
func (r *Reconciler) applyObservation(ctx context.Context, job *domain.Job, st *executor.StatusResponse) (bool, error) {
	newStatus, ok := executor.MapStatus(st.Status)
	if !ok {
		r.logger.Warn().Str("job_id", job.ID).Str("status", st.Status).Msg("unknown executor status ignored")
		return false, nil
	}
	if newStatus.Rank() < job.Status.Rank() {
		return false, nil
	}
	if newStatus.Rank() == job.Status.Rank() && st.Progress <= job.Progress {
		return false, nil
	}

	mut := domain.JobMutation{Status: newStatus, Progress: &st.Progress}
	if !job.UnreachableAt.IsZero() {
		var clear time.Time
		mut.UnreachableAt = &clear
	}
	switch newStatus {
	case domain.JobStatusCompleted:
		result, err := domain.DecodeResult(job.Family, st.Result)
		if err != nil {
			return false, err
		}
		mut.Result = result
		full := 1.0
		mut.Progress = &full
	case domain.JobStatusFailed:
		mut.LastError = &domain.JobError{Code: domain.ErrCodeGenerationFailed, Message: st.Error}
	}

	applied, err := r.jobs.Advance(ctx, job.ID, job.Seq, mut)
	if err != nil {
		return false, err
	}
	if applied && newStatus.Terminal() {
		r.clearRetry(job.ID)
		r.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(newStatus)).
			Msg("job reached terminal state")
	}
	return applied, nil
}

// handleUnreachable tracks executor unavailability, and once the maximum
// window is exceeded re-dispatches with jittered backoff until the attempt
// budget is exhausted, at which point the job is failed exactly once and
// routed to the dead-letter store.
func (r *Reconciler) handleUnreachable(ctx context.Context, job *domain.Job, cause error) {
	now := r.now().UTC()
	r.logger.Warn().Err(cause).Str("job_id", job.ID).Msg("executor unreachable, keeping last known status")

	if job.UnreachableAt.IsZero() {
		at := now
		if _, err := r.jobs.Advance(ctx, job.ID, job.Seq, domain.JobMutation{
			Status:        job.Status,
			UnreachableAt: &at,
		}); err != nil {
			r.logger.Error().Err(err).Str("job_id", job.ID).Msg("record unreachable window failed")
		}
		return
	}
	if now.Sub(job.UnreachableAt) <= r.opts.UnavailableAfter {
		return
	}

	if job.Attempt >= r.opts.MaxAttempts {
		r.failUnreachable(ctx, job)
		return
	}
	r.redispatch(ctx, job, now)
}

func (r *Reconciler) redispatch(ctx context.Context, job *domain.Job, now time.Time) {
	attempt := job.Attempt + 1
	accepted, err := r.exec.Submit(ctx, job.Family, executor.SubmitRequest{
		IdempotencyKey: job.IdempotencyKey,
		TargetEntityID: job.Target.ID,
		Payload:        job.Params,
	})
	if err != nil {
		r.scheduleRetry(job.ID, now)
		if _, advErr := r.jobs.Advance(ctx, job.ID, job.Seq, domain.JobMutation{
			Status:  job.Status,
			Attempt: &attempt,
		}); advErr != nil {
			r.logger.Error().Err(advErr).Str("job_id", job.ID).Msg("record retry attempt failed")
		}
		r.logger.Warn().Err(err).Str("job_id", job.ID).Int("attempt", attempt).Msg("re-dispatch failed")
		return
	}

	var clear time.Time
	if _, err := r.jobs.Advance(ctx, job.ID, job.Seq, domain.JobMutation{
		Status:        domain.JobStatusDispatched,
		Attempt:       &attempt,
		ExecutorJobID: &accepted.ExecutorJobID,
		UnreachableAt: &clear,
	}); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("record re-dispatch failed")
		return
	}
	r.clearRetry(job.ID)
	r.logger.Info().Str("job_id", job.ID).Int("attempt", attempt).Msg("job re-dispatched")
}

// failUnreachable marks the job terminally failed. The conditional write
// makes the transition happen exactly once even with concurrent reconcilers.
func (r *Reconciler) failUnreachable(ctx context.Context, job *domain.Job) {
	applied, err := r.jobs.Advance(ctx, job.ID, job.Seq, domain.JobMutation{
		Status:    domain.JobStatusFailed,
		LastError: &domain.JobError{Code: domain.ErrCodeExecutorUnreachable, Message: "executor unreachable beyond maximum window"},
	})
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("record unreachable failure failed")
		return
	}
	if !applied {
		return
	}
	r.clearRetry(job.ID)
	dl := &domain.DeadLetter{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Reason:    string(domain.ErrCodeExecutorUnreachable),
		Payload:   job.Params,
		CreatedAt: r.now().UTC(),
	}
	if err := r.deadletters.Append(ctx, dl); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("dead-letter append failed")
	}
	r.logger.Error().Str("job_id", job.ID).Msg("job failed: executor unreachable")
}

func (r *Reconciler) waitingForRetry(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.retries[jobID]
	return ok && r.now().Before(state.nextAt)
}

func (r *Reconciler) scheduleRetry(jobID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.retries[jobID]
	if !ok {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Second
		bo.MaxInterval = 5 * time.Minute
		bo.RandomizationFactor = 0.1
		bo.Multiplier = 4
		bo.MaxElapsedTime = 0
		state = &retryState{bo: bo}
		r.retries[jobID] = state
	}
	state.nextAt = now.Add(state.bo.NextBackOff())
}

func (r *Reconciler) clearRetry(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.retries, jobID)
}

// expireStalePending fails jobs stuck in pending, which can only happen when
// an orchestrator crashed between persisting and dispatching.
func (r *Reconciler) expireStalePending(ctx context.Context, job *domain.Job) {
	if r.now().Sub(job.UpdatedAt) <= r.opts.UnavailableAfter {
		return
	}
	if _, err := r.jobs.Advance(ctx, job.ID, job.Seq, domain.JobMutation{
		Status:    domain.JobStatusFailed,
		LastError: &domain.JobError{Code: domain.ErrCodeDispatchFailed, Message: "job stuck in pending"},
	}); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("expire stale pending failed")
	}
}
