package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/platform/httpx"
)

type bindingKey struct {
	subject uuid.UUID
	scope   Scope
}

type teamKey struct {
	team  uuid.UUID
	scope Scope
}

// MemoryStore is an in-process binding store for tests and local fixtures.
type MemoryStore struct {
	mu        sync.RWMutex
	direct    map[bindingKey]Binding
	members   map[uuid.UUID]map[uuid.UUID]struct{}
	teamRoles map[teamKey]TeamBinding
	scopes    map[Scope]struct{}
	failure   error
	lookups   int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		direct:    make(map[bindingKey]Binding),
		members:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
		teamRoles: make(map[teamKey]TeamBinding),
		scopes:    make(map[Scope]struct{}),
	}
}

// FailWith makes every read return err until called again with nil.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// Lookups counts reads served since creation.
func (m *MemoryStore) Lookups() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookups
}

// AddScope registers an existing organization or project.
func (m *MemoryStore) AddScope(scope Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes[scope] = struct{}{}
}

// RemoveScope forgets a scope.
func (m *MemoryStore) RemoveScope(scope Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scopes, scope)
}

// ScopeExists implements ScopeLookup.
func (m *MemoryStore) ScopeExists(ctx context.Context, scope Scope) error {
	if err := m.read(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: scope lookup: %w", ErrLookupUnavailable, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.scopes[scope]; !ok {
		return ErrScopeNotFound
	}
	return nil
}

// DirectRole implements BindingStore.
func (m *MemoryStore) DirectRole(ctx context.Context, subject uuid.UUID, scope Scope) (Role, error) {
	if err := m.read(ctx); err != nil {
		return RoleNone, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.direct[bindingKey{subject, scope}].Role, nil
}

// TeamsOf implements TeamStore.
func (m *MemoryStore) TeamsOf(ctx context.Context, subject uuid.UUID) ([]uuid.UUID, error) {
	if err := m.read(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var teams []uuid.UUID
	for team, members := range m.members {
		if _, ok := members[subject]; ok {
			teams = append(teams, team)
		}
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].String() < teams[j].String() })
	return teams, nil
}

// TeamRole implements TeamStore.
func (m *MemoryStore) TeamRole(ctx context.Context, team uuid.UUID, scope Scope) (Role, error) {
	if err := m.read(ctx); err != nil {
		return RoleNone, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.teamRoles[teamKey{team, scope}].Role, nil
}

// Bind implements BindingWriter.
func (m *MemoryStore) Bind(_ context.Context, b Binding) (Role, error) {
	if !b.Role.Valid() {
		return RoleNone, fmt.Errorf("%w: invalid role", httpx.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bindingKey{b.SubjectID, b.Scope}
	prev := m.direct[key]
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	m.direct[key] = b
	return prev.Role, nil
}

// Unbind implements BindingWriter.
func (m *MemoryStore) Unbind(_ context.Context, subject uuid.UUID, scope Scope) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bindingKey{subject, scope}
	prev := m.direct[key]
	delete(m.direct, key)
	return prev.Role, nil
}

// UnbindScope implements BindingWriter.
func (m *MemoryStore) UnbindScope(_ context.Context, scope Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.direct {
		if key.scope == scope {
			delete(m.direct, key)
		}
	}
	for key := range m.teamRoles {
		if key.scope == scope {
			delete(m.teamRoles, key)
		}
	}
	return nil
}

// ListBindings returns the direct bindings of scope ordered by subject.
func (m *MemoryStore) ListBindings(ctx context.Context, scope Scope) ([]Binding, error) {
	if err := m.read(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Binding
	for key, b := range m.direct {
		if key.scope == scope {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID.String() < out[j].SubjectID.String() })
	return out, nil
}

// LockAdmins implements BindingWriter. The store has no transactions, so
// nothing stays locked after it returns.
func (m *MemoryStore) LockAdmins(ctx context.Context, scope Scope) ([]uuid.UUID, error) {
	if err := m.read(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []uuid.UUID
	for key, b := range m.direct {
		if key.scope == scope && b.Role == RoleAdmin {
			out = append(out, key.subject)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// AddTeamMember implements TeamWriter.
func (m *MemoryStore) AddTeamMember(_ context.Context, team, user uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.members[team]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		m.members[team] = members
	}
	if _, exists := members[user]; exists {
		return fmt.Errorf("team member: %w", httpx.ErrDuplicate)
	}
	members[user] = struct{}{}
	return nil
}

// RemoveTeamMember implements TeamWriter.
func (m *MemoryStore) RemoveTeamMember(_ context.Context, team, user uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[team][user]; !ok {
		return fmt.Errorf("team member: %w", httpx.ErrNotFound)
	}
	delete(m.members[team], user)
	return nil
}

// BindTeam implements TeamWriter.
func (m *MemoryStore) BindTeam(_ context.Context, tb TeamBinding) (Role, error) {
	if !tb.Role.Valid() {
		return RoleNone, fmt.Errorf("%w: invalid role", httpx.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := teamKey{tb.TeamID, tb.Scope}
	prev := m.teamRoles[key]
	if tb.CreatedAt.IsZero() {
		tb.CreatedAt = time.Now().UTC()
	}
	m.teamRoles[key] = tb
	return prev.Role, nil
}

// UnbindTeam implements TeamWriter.
func (m *MemoryStore) UnbindTeam(_ context.Context, team uuid.UUID, scope Scope) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := teamKey{team, scope}
	prev := m.teamRoles[key]
	delete(m.teamRoles, key)
	return prev.Role, nil
}

func (m *MemoryStore) read(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	return m.failure
}

var (
	_ BindingStore  = (*MemoryStore)(nil)
	_ TeamStore     = (*MemoryStore)(nil)
	_ BindingWriter = (*MemoryStore)(nil)
	_ TeamWriter    = (*MemoryStore)(nil)
	_ ScopeLookup   = (*MemoryStore)(nil)
)
