package rbac

import (
	"context"

	"github.com/google/uuid"
)

// BindingWriter mutates direct bindings. Bind and Unbind return the role held
// before the change, RoleNone when there was none.
type BindingWriter interface {
	Bind(ctx context.Context, b Binding) (Role, error)
	Unbind(ctx context.Context, subject uuid.UUID, scope Scope) (Role, error)
	UnbindScope(ctx context.Context, scope Scope) error
	// LockAdmins returns the direct admins of scope and holds their rows
	// until the surrounding transaction ends.
	LockAdmins(ctx context.Context, scope Scope) ([]uuid.UUID, error)
}

// TeamWriter mutates team membership and team bindings.
type TeamWriter interface {
	AddTeamMember(ctx context.Context, team, user uuid.UUID) error
	RemoveTeamMember(ctx context.Context, team, user uuid.UUID) error
	BindTeam(ctx context.Context, tb TeamBinding) (Role, error)
	UnbindTeam(ctx context.Context, team uuid.UUID, scope Scope) (Role, error)
}

// ScopeLookup reports whether an organization or project exists. It returns
// ErrScopeNotFound for absent or deleted scopes.
type ScopeLookup interface {
	ScopeExists(ctx context.Context, scope Scope) error
}
