package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"storyboard/internal/domain"
)

// AuditRepositoryPG appends audit records. Rows are never updated or deleted.
type AuditRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates an audit repository backed by PostgreSQL.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepositoryPG {
	return &AuditRepositoryPG{pool: pool}
}

// Append inserts a new audit record.
func (r *AuditRepositoryPG) Append(ctx context.Context, rec *domain.AuditRecord) error {
	query := `
INSERT INTO audit_records (id, action, entity_kind, entity_id, principal_id, tenant_id, country, before_snapshot, after_snapshot)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.Action,
		rec.EntityKind,
		rec.EntityID,
		rec.PrincipalID,
		rec.TenantID,
		rec.Country,
		nullableBytes(rec.Before),
		nullableBytes(rec.After),
	)
	return err
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
