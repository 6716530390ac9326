// Package rbactest wires the authorization core over an in-memory store for
// service and handler tests in other packages.
package rbactest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/projecthub/projecthub/internal/rbac"
)

// Env bundles a memory store with the guard and enforcer reading from it.
type Env struct {
	Store    *rbac.MemoryStore
	Guard    *rbac.Guard
	Enforcer *rbac.Enforcer
}

// New builds an Env with the default catalog and no rate limiter.
func New(t testing.TB, limiter rbac.Limiter) *Env {
	t.Helper()
	store := rbac.NewMemoryStore()
	guard := rbac.NewGuard(rbac.MustDefaultCatalog(), rbac.NewResolver(store, store))
	return &Env{Store: store, Guard: guard, Enforcer: rbac.NewEnforcer(guard, limiter, nil)}
}

// Organization registers a new organization scope.
func (e *Env) Organization() rbac.Scope {
	scope := rbac.OrganizationScope(uuid.New())
	e.Store.AddScope(scope)
	return scope
}

// Project registers a new project scope.
func (e *Env) Project() rbac.Scope {
	scope := rbac.ProjectScope(uuid.New())
	e.Store.AddScope(scope)
	return scope
}

// Bind gives a new user role in scope and returns the user id.
func (e *Env) Bind(t testing.TB, scope rbac.Scope, role rbac.Role) uuid.UUID {
	t.Helper()
	user := uuid.New()
	e.BindUser(t, user, scope, role)
	return user
}

// BindUser gives user role in scope.
func (e *Env) BindUser(t testing.TB, user uuid.UUID, scope rbac.Scope, role rbac.Role) {
	t.Helper()
	_, err := e.Store.Bind(context.Background(), rbac.Binding{SubjectID: user, Scope: scope, Role: role})
	require.NoError(t, err)
}

// Role returns the resolved role of user in scope.
func (e *Env) Role(t testing.TB, user uuid.UUID, scope rbac.Scope) rbac.Role {
	t.Helper()
	role, err := rbac.NewResolver(e.Store, e.Store).Resolve(context.Background(), user, scope)
	require.NoError(t, err)
	return role
}
