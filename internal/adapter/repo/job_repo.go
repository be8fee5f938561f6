package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyboard/internal/domain"
)

const pgUniqueViolation = "23505"

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. The
// at-most-one-in-flight invariant is backed by a unique partial index over
// non-terminal jobs, so the guarantee holds across orchestrator instances.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, family, target_kind, target_id, tenant_id, principal_id,
idempotency_key, epoch, status, progress, attempt, seq, superseded_job,
executor_job_id, params, result, last_error, unreachable_at, created_at, updated_at`

// Insert persists a new job record. A unique-violation on the active-target
// index is mapped to domain.ErrDuplicateOperation so the dispatcher can hand
// back the existing job instead.
func (r *JobRepositoryPG) Insert(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, family, target_kind, target_id, tenant_id, principal_id,
                  idempotency_key, epoch, status, progress, attempt, seq,
                  superseded_job, executor_job_id, params, result, last_error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17);
`
	resultJSON, err := marshalNullable(job.Result)
	if err != nil {
		return err
	}
	errJSON, err := marshalNullable(job.LastError)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.Family,
		job.Target.Kind,
		job.Target.ID,
		job.TenantID,
		job.PrincipalID,
		job.IdempotencyKey,
		job.Epoch,
		job.Status,
		job.Progress,
		job.Attempt,
		job.Seq,
		nullableString(job.SupersededJob),
		nullableString(job.ExecutorJobID),
		job.Params,
		resultJSON,
		errJSON,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return domain.ErrDuplicateOperation
	}
	return err
}

// Advance applies a conditional transition. The write lands only when the
// stored sequence matches expectedSeq and the job is still non-terminal,
// which gives each job a total order of transitions.
func (r *JobRepositoryPG) Advance(ctx context.Context, jobID string, expectedSeq int64, mut domain.JobMutation) (bool, error) {
	query := `
UPDATE jobs
SET status = $3,
    seq = seq + 1,
    updated_at = NOW(),
    progress = COALESCE($4, progress),
    attempt = COALESCE($5, attempt),
    executor_job_id = COALESCE($6, executor_job_id),
    result = COALESCE($7, result),
    last_error = COALESCE($8, last_error),
    unreachable_at = CASE WHEN $9 THEN $10 ELSE unreachable_at END
WHERE id = $1
  AND seq = $2
  AND status NOT IN ('completed', 'failed', 'cancelled');
`
	resultJSON, err := marshalNullable(mut.Result)
	if err != nil {
		return false, err
	}
	errJSON, err := marshalNullable(mut.LastError)
	if err != nil {
		return false, err
	}
	var unreachable *time.Time
	if mut.UnreachableAt != nil && !mut.UnreachableAt.IsZero() {
		unreachable = mut.UnreachableAt
	}
	tag, err := r.pool.Exec(ctx, query,
		jobID,
		expectedSeq,
		mut.Status,
		mut.Progress,
		mut.Attempt,
		mut.ExecutorJobID,
		resultJSON,
		errJSON,
		mut.UnreachableAt != nil,
		unreachable,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1;`, jobColumns)
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// GetByExecutorJobID fetches the job correlated with an executor-side id.
func (r *JobRepositoryPG) GetByExecutorJobID(ctx context.Context, executorJobID string) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE executor_job_id = $1;`, jobColumns)
	return r.scanJob(r.pool.QueryRow(ctx, query, executorJobID))
}

// ActiveByTarget returns the single non-terminal job holding the target.
func (r *JobRepositoryPG) ActiveByTarget(ctx context.Context, targetID string) (*domain.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM jobs
WHERE target_id = $1 AND status IN ('pending', 'dispatched', 'generating');`, jobColumns)
	return r.scanJob(r.pool.QueryRow(ctx, query, targetID))
}

// ListActive returns all non-terminal jobs for reconciliation.
func (r *JobRepositoryPG) ListActive(ctx context.Context) ([]domain.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM jobs
WHERE status IN ('pending', 'dispatched', 'generating')
ORDER BY created_at ASC;`, jobColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// LatestEpoch returns the highest epoch recorded for a target, or -1.
func (r *JobRepositoryPG) LatestEpoch(ctx context.Context, targetID string) (int, error) {
	query := `SELECT COALESCE(MAX(epoch), -1) FROM jobs WHERE target_id = $1;`
	var epoch int
	if err := r.pool.QueryRow(ctx, query, targetID).Scan(&epoch); err != nil {
		return -1, err
	}
	return epoch, nil
}

// CountByStatus returns the number of jobs per lifecycle state.
func (r *JobRepositoryPG) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM jobs GROUP BY status;`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *JobRepositoryPG) scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job           domain.Job
		supersededJob *string
		executorJobID *string
		resultJSON    []byte
		errJSON       []byte
		unreachableAt *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.Family,
		&job.Target.Kind,
		&job.Target.ID,
		&job.TenantID,
		&job.PrincipalID,
		&job.IdempotencyKey,
		&job.Epoch,
		&job.Status,
		&job.Progress,
		&job.Attempt,
		&job.Seq,
		&supersededJob,
		&executorJobID,
		&job.Params,
		&resultJSON,
		&errJSON,
		&unreachableAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if supersededJob != nil {
		job.SupersededJob = *supersededJob
	}
	if executorJobID != nil {
		job.ExecutorJobID = *executorJobID
	}
	if len(resultJSON) > 0 {
		job.Result = &domain.JobResult{}
		if err := json.Unmarshal(resultJSON, job.Result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}
	if len(errJSON) > 0 {
		job.LastError = &domain.JobError{}
		if err := json.Unmarshal(errJSON, job.LastError); err != nil {
			return nil, fmt.Errorf("decode job error: %w", err)
		}
	}
	if unreachableAt != nil {
		job.UnreachableAt = *unreachableAt
	}
	return &job, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case *domain.JobResult:
		if val == nil {
			return nil, nil
		}
	case *domain.JobError:
		if val == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}
	return b, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
