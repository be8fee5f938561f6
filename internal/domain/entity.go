package domain

// EntityKind enumerates the node types of the project ownership tree.
type EntityKind string

const (
	EntityProject  EntityKind = "project"
	EntityScene    EntityKind = "scene"
	EntityShot     EntityKind = "shot"
	EntityFrame    EntityKind = "frame"
	EntityAnimatic EntityKind = "animatic"
	EntityExport   EntityKind = "export"
)

// Valid reports whether the kind is one of the known entity kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case EntityProject, EntityScene, EntityShot, EntityFrame, EntityAnimatic, EntityExport:
		return true
	}
	return false
}

// EntityRef identifies an entity by kind and opaque id. Entities are always
// referenced by id and resolved through a repository, never held as pointers.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// Entity is a resolved node of the ownership tree. Non-project entities carry
// a parent reference; projects carry the owning tenant instead.
type Entity struct {
	Ref      EntityRef
	Parent   EntityRef // zero for projects
	TenantID string    // set on projects only
}

// PrincipalRole enumerates the roles a caller may hold.
type PrincipalRole string

const (
	RoleMember     PrincipalRole = "member"
	RoleSuperAdmin PrincipalRole = "superadmin"
)

// AccessContext carries the identity resolved once per request. It is
// ephemeral and never persisted as an entity.
type AccessContext struct {
	PrincipalID string
	Role        PrincipalRole
	TenantID    string
	ClientIP    string
}
