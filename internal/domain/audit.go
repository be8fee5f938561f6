package domain

import (
	"encoding/json"
	"time"
)

// AuditRecord is an append-only trace of a state-changing action. The
// orchestration core only ever writes these, never reads them back.
type AuditRecord struct {
	ID          string
	Action      string
	EntityKind  EntityKind
	EntityID    string
	PrincipalID string
	TenantID    string
	Country     string
	Before      json.RawMessage
	After       json.RawMessage
	CreatedAt   time.Time
}
