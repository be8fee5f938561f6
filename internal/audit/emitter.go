package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storyboard/internal/domain"
	"storyboard/internal/infra/geoip"
)

// Emitter appends audit records for state-changing actions. Emission is best
// effort from the orchestration core's point of view: failures are logged and
// never block or fail the action being audited.
type Emitter struct {
	repo   domain.AuditRepository
	geo    geoip.CountryResolver
	logger zerolog.Logger
}

// NewEmitter constructs an Emitter. geo may be nil when country enrichment is
// disabled.
func NewEmitter(repo domain.AuditRepository, geo geoip.CountryResolver, logger zerolog.Logger) *Emitter {
	return &Emitter{repo: repo, geo: geo, logger: logger}
}

// Entry describes one auditable action.
type Entry struct {
	Action string
	Entity domain.EntityRef
	Before []byte
	After  []byte
}

// Emit appends a record for the action performed by the given principal.
func (e *Emitter) Emit(ctx context.Context, ac domain.AccessContext, entry Entry) {
	rec := &domain.AuditRecord{
		ID:          uuid.NewString(),
		Action:      entry.Action,
		EntityKind:  entry.Entity.Kind,
		EntityID:    entry.Entity.ID,
		PrincipalID: ac.PrincipalID,
		TenantID:    ac.TenantID,
		Before:      entry.Before,
		After:       entry.After,
		CreatedAt:   time.Now().UTC(),
	}
	if e.geo != nil && ac.ClientIP != "" {
		if country, err := e.geo.CountryCode(ac.ClientIP); err == nil {
			rec.Country = country
		}
	}
	if err := e.repo.Append(ctx, rec); err != nil {
		e.logger.Error().Err(err).
			Str("action", entry.Action).
			Str("entity_id", entry.Entity.ID).
			Msg("audit append failed")
	}
}
