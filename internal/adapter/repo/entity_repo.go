package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyboard/internal/domain"
)

// EntityRepositoryPG resolves ownership-tree nodes from their per-kind
// tables. Entities carry explicit parent ids, so a resolution is a fixed
// chain of primary-key lookups rather than a graph traversal.
type EntityRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewEntityRepository creates an entity repository backed by PostgreSQL.
func NewEntityRepository(pool *pgxpool.Pool) *EntityRepositoryPG {
	return &EntityRepositoryPG{pool: pool}
}

// Get resolves a single entity reference.
func (r *EntityRepositoryPG) Get(ctx context.Context, ref domain.EntityRef) (*domain.Entity, error) {
	entity := &domain.Entity{Ref: ref}
	var err error
	switch ref.Kind {
	case domain.EntityProject:
		err = r.pool.QueryRow(ctx,
			`SELECT tenant_id FROM projects WHERE id = $1;`, ref.ID,
		).Scan(&entity.TenantID)
	case domain.EntityScene:
		entity.Parent.Kind = domain.EntityProject
		err = r.pool.QueryRow(ctx,
			`SELECT project_id FROM scenes WHERE id = $1;`, ref.ID,
		).Scan(&entity.Parent.ID)
	case domain.EntityShot:
		entity.Parent.Kind = domain.EntityScene
		err = r.pool.QueryRow(ctx,
			`SELECT scene_id FROM shots WHERE id = $1;`, ref.ID,
		).Scan(&entity.Parent.ID)
	case domain.EntityFrame:
		entity.Parent.Kind = domain.EntityShot
		err = r.pool.QueryRow(ctx,
			`SELECT shot_id FROM frames WHERE id = $1;`, ref.ID,
		).Scan(&entity.Parent.ID)
	case domain.EntityAnimatic:
		entity.Parent.Kind = domain.EntityProject
		err = r.pool.QueryRow(ctx,
			`SELECT project_id FROM animatics WHERE id = $1;`, ref.ID,
		).Scan(&entity.Parent.ID)
	case domain.EntityExport:
		entity.Parent.Kind = domain.EntityProject
		err = r.pool.QueryRow(ctx,
			`SELECT project_id FROM exports WHERE id = $1;`, ref.ID,
		).Scan(&entity.Parent.ID)
	default:
		return nil, fmt.Errorf("entity: unknown kind %q", ref.Kind)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return entity, nil
}

// GrantRepositoryPG implements domain.GrantRepository.
type GrantRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGrantRepository creates a grant repository backed by PostgreSQL.
func NewGrantRepository(pool *pgxpool.Pool) *GrantRepositoryPG {
	return &GrantRepositoryPG{pool: pool}
}

// HasProjectGrant reports whether the principal holds a direct grant on the project.
func (r *GrantRepositoryPG) HasProjectGrant(ctx context.Context, projectID, principalID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM project_grants WHERE project_id = $1 AND principal_id = $2);`
	var found bool
	if err := r.pool.QueryRow(ctx, query, projectID, principalID).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}
