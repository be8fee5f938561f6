package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"storyboard/internal/domain"
)

// Ownership chains are a strict tree of fixed depth: frame -> shot -> scene
// -> project, with animatics and exports hanging directly off projects.
const maxChainDepth = 4

// Resolver decides whether a principal may act on an entity by walking the
// entity's ownership chain to its project, then checking tenant membership,
// direct grants and the super-tenant role. It performs no mutation.
type Resolver struct {
	entities domain.EntityRepository
	grants   domain.GrantRepository
	logger   zerolog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(entities domain.EntityRepository, grants domain.GrantRepository, logger zerolog.Logger) *Resolver {
	return &Resolver{entities: entities, grants: grants, logger: logger}
}

// Authorize returns nil when the principal may act on the referenced entity.
// A missing entity and a denied entity both return domain.ErrAccessDenied so
// the response shape never reveals whether the entity exists.
func (r *Resolver) Authorize(ctx context.Context, ac domain.AccessContext, ref domain.EntityRef) error {
	if !ref.Kind.Valid() || ref.ID == "" {
		return fmt.Errorf("%w: invalid entity reference", domain.ErrValidation)
	}

	project, err := r.resolveProject(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrAccessDenied
		}
		return err
	}

	if ac.Role == domain.RoleSuperAdmin {
		return nil
	}
	if ac.TenantID != "" && ac.TenantID == project.TenantID {
		return nil
	}
	granted, err := r.grants.HasProjectGrant(ctx, project.Ref.ID, ac.PrincipalID)
	if err != nil {
		return fmt.Errorf("grant lookup: %w", err)
	}
	if granted {
		return nil
	}

	r.logger.Debug().
		Str("principal_id", ac.PrincipalID).
		Str("entity_kind", string(ref.Kind)).
		Msg("access denied")
	return domain.ErrAccessDenied
}

// resolveProject walks parent pointers from the leaf to the owning project.
func (r *Resolver) resolveProject(ctx context.Context, ref domain.EntityRef) (*domain.Entity, error) {
	current := ref
	for depth := 0; depth < maxChainDepth; depth++ {
		entity, err := r.entities.Get(ctx, current)
		if err != nil {
			return nil, err
		}
		if entity.Ref.Kind == domain.EntityProject {
			return entity, nil
		}
		current = entity.Parent
	}
	return nil, fmt.Errorf("ownership chain for %s %s exceeds depth %d", ref.Kind, ref.ID, maxChainDepth)
}
