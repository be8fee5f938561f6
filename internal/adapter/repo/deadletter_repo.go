package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyboard/internal/domain"
)

// DeadLetterRepositoryPG implements domain.DeadLetterRepository.
type DeadLetterRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewDeadLetterRepository creates a dead-letter repository backed by PostgreSQL.
func NewDeadLetterRepository(pool *pgxpool.Pool) *DeadLetterRepositoryPG {
	return &DeadLetterRepositoryPG{pool: pool}
}

// Append inserts a dead-letter record.
func (r *DeadLetterRepositoryPG) Append(ctx context.Context, dl *domain.DeadLetter) error {
	query := `
INSERT INTO dead_letters (id, job_id, reason, payload)
VALUES ($1, $2, $3, $4);
`
	_, err := r.pool.Exec(ctx, query, dl.ID, dl.JobID, dl.Reason, nullableBytes(dl.Payload))
	return err
}

// GetByID fetches a dead-letter record.
func (r *DeadLetterRepositoryPG) GetByID(ctx context.Context, id string) (*domain.DeadLetter, error) {
	query := `
SELECT id, job_id, reason, payload, created_at, republished_at
FROM dead_letters
WHERE id = $1;
`
	return scanDeadLetter(r.pool.QueryRow(ctx, query, id))
}

// List returns the most recent dead-letter records.
func (r *DeadLetterRepositoryPG) List(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	query := `
SELECT id, job_id, reason, payload, created_at, republished_at
FROM dead_letters
ORDER BY created_at DESC
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *dl)
	}
	return out, rows.Err()
}

// MarkRepublished stamps the record with the republish time.
func (r *DeadLetterRepositoryPG) MarkRepublished(ctx context.Context, id string) error {
	query := `UPDATE dead_letters SET republished_at = NOW() WHERE id = $1;`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanDeadLetter(row pgx.Row) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	var republishedAt *time.Time
	if err := row.Scan(&dl.ID, &dl.JobID, &dl.Reason, &dl.Payload, &dl.CreatedAt, &republishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if republishedAt != nil {
		dl.RepublishedAt = *republishedAt
	}
	return &dl, nil
}
