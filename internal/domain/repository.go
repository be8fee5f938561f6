package domain

import "context"

// JobRepository is the durable record store for jobs. It is the single
// synchronization point of the orchestration core: the at-most-one-in-flight
// invariant is enforced here by conditional writes, not by in-process locks.
type JobRepository interface {
	// Insert persists a new job. It returns ErrDuplicateOperation when
	// another non-terminal job already holds the same target entity.
	Insert(ctx context.Context, job *Job) error
	// Advance applies a mutation only when the stored sequence still
	// equals expectedSeq and the stored status is non-terminal. It
	// reports whether the write was applied.
	Advance(ctx context.Context, jobID string, expectedSeq int64, mut JobMutation) (bool, error)
	GetByID(ctx context.Context, jobID string) (*Job, error)
	GetByExecutorJobID(ctx context.Context, executorJobID string) (*Job, error)
	// ActiveByTarget returns the single non-terminal job for the target,
	// or ErrNotFound.
	ActiveByTarget(ctx context.Context, targetID string) (*Job, error)
	// ListActive returns all jobs awaiting reconciliation.
	ListActive(ctx context.Context) ([]Job, error)
	// LatestEpoch returns the highest generation epoch recorded for the
	// target, or -1 when the target has never been generated.
	LatestEpoch(ctx context.Context, targetID string) (int, error)
	CountByStatus(ctx context.Context) (map[JobStatus]int, error)
}

// BatchRepository persists batch groupings.
type BatchRepository interface {
	Insert(ctx context.Context, batch *Batch) error
	GetByID(ctx context.Context, batchID string) (*Batch, error)
	// MemberStatuses returns the statuses of the batch's member jobs in
	// member order.
	MemberStatuses(ctx context.Context, memberJobIDs []string) ([]JobStatus, error)
}

// EntityRepository resolves ownership-tree nodes by reference. Lookups are
// read-only; the cascade resolver performs no mutation.
type EntityRepository interface {
	Get(ctx context.Context, ref EntityRef) (*Entity, error)
}

// GrantRepository answers direct project grant lookups.
type GrantRepository interface {
	HasProjectGrant(ctx context.Context, projectID, principalID string) (bool, error)
}

// AuditRepository appends immutable audit records.
type AuditRepository interface {
	Append(ctx context.Context, rec *AuditRecord) error
}

// DeadLetterRepository stores jobs routed aside for operator inspection.
type DeadLetterRepository interface {
	Append(ctx context.Context, dl *DeadLetter) error
	GetByID(ctx context.Context, id string) (*DeadLetter, error)
	List(ctx context.Context, limit int) ([]DeadLetter, error)
	MarkRepublished(ctx context.Context, id string) error
}
