package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyboard/internal/domain"
)

// BatchRepositoryPG implements domain.BatchRepository. Only the grouping is
// stored; batch status is always recomputed from member job statuses.
type BatchRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewBatchRepository creates a new batch repository backed by PostgreSQL.
func NewBatchRepository(pool *pgxpool.Pool) *BatchRepositoryPG {
	return &BatchRepositoryPG{pool: pool}
}

// Insert persists a batch grouping with its ordered member job ids.
func (r *BatchRepositoryPG) Insert(ctx context.Context, batch *domain.Batch) error {
	query := `
INSERT INTO batches (id, family, member_job_ids, requested_count)
VALUES ($1, $2, $3, $4);
`
	_, err := r.pool.Exec(ctx, query, batch.ID, batch.Family, batch.MemberJobIDs, batch.RequestedCount)
	return err
}

// GetByID fetches a batch by its identifier.
func (r *BatchRepositoryPG) GetByID(ctx context.Context, batchID string) (*domain.Batch, error) {
	query := `
SELECT id, family, member_job_ids, requested_count, created_at
FROM batches
WHERE id = $1;
`
	var batch domain.Batch
	if err := r.pool.QueryRow(ctx, query, batchID).Scan(
		&batch.ID,
		&batch.Family,
		&batch.MemberJobIDs,
		&batch.RequestedCount,
		&batch.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// MemberStatuses returns member job statuses in member order.
func (r *BatchRepositoryPG) MemberStatuses(ctx context.Context, memberJobIDs []string) ([]domain.JobStatus, error) {
	if len(memberJobIDs) == 0 {
		return nil, nil
	}
	query := `SELECT id, status FROM jobs WHERE id = ANY($1);`
	rows, err := r.pool.Query(ctx, query, memberJobIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byID := make(map[string]domain.JobStatus, len(memberJobIDs))
	for rows.Next() {
		var id string
		var status domain.JobStatus
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		byID[id] = status
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	statuses := make([]domain.JobStatus, 0, len(memberJobIDs))
	for _, id := range memberJobIDs {
		status, ok := byID[id]
		if !ok {
			return nil, domain.ErrNotFound
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
