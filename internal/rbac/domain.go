// Package rbac implements the role and capability authorization core: the
// static permission catalog, scope-relative role resolution, the decision
// guard and the enforcement helpers used at every request boundary.
//
// Role bindings are read from the store at check time. A check running
// concurrently with a role change may observe either the old or the new
// binding; only checks causally ordered after the write are guaranteed to see it.
package rbac

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScopeKind names the kind of resource a role binding is relative to.
type ScopeKind string

const (
	ScopeOrganization ScopeKind = "organization"
	ScopeProject      ScopeKind = "project"
)

// ParseScopeKind validates a scope kind received from the outside world.
func ParseScopeKind(raw string) (ScopeKind, error) {
	switch ScopeKind(raw) {
	case ScopeOrganization, ScopeProject:
		return ScopeKind(raw), nil
	default:
		return "", fmt.Errorf("rbac: unknown scope kind %q", raw)
	}
}

// Scope identifies the organization or project a check is evaluated in.
type Scope struct {
	Kind ScopeKind
	ID   uuid.UUID
}

// OrganizationScope builds an organization scope.
func OrganizationScope(id uuid.UUID) Scope {
	return Scope{Kind: ScopeOrganization, ID: id}
}

// ProjectScope builds a project scope.
func ProjectScope(id uuid.UUID) Scope {
	return Scope{Kind: ScopeProject, ID: id}
}

func (s Scope) String() string {
	return string(s.Kind) + ":" + s.ID.String()
}

// Binding is a persisted direct role assignment of a user in a scope.
type Binding struct {
	SubjectID uuid.UUID `json:"user_id"`
	Scope     Scope     `json:"-"`
	Role      Role      `json:"role"`
	GrantedBy uuid.UUID `json:"granted_by"`
	CreatedAt time.Time `json:"created_at"`
}

// TeamBinding grants every member of a team a role in a scope.
type TeamBinding struct {
	TeamID    uuid.UUID `json:"team_id"`
	Scope     Scope     `json:"-"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
