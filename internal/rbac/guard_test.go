package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu        sync.Mutex
	decisions []Decision
}

func (o *recordingObserver) ObserveDecision(_ string, d Decision) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, d)
}

func newGuard(f *fixture, opts ...GuardOption) *Guard {
	return NewGuard(MustDefaultCatalog(), NewResolver(f.store, f.store), opts...)
}

func TestGuardAdminScenario(t *testing.T) {
	f := newFixture(t)
	admin := uuid.New()
	f.bind(t, admin, f.project, RoleAdmin)
	g := newGuard(f)
	ctx := context.Background()

	d := g.RequireMinimumRole(ctx, admin, f.project, RoleAdmin)
	assert.True(t, d.Allowed)
	assert.Equal(t, RoleAdmin, d.Role)

	d = g.RequireCapability(ctx, admin, f.project, CapDeleteTask)
	assert.True(t, d.Allowed)
	assert.Equal(t, CapDeleteTask, d.Capability)
	assert.NoError(t, d.Err())
}

func TestGuardMemberCannotCreateProject(t *testing.T) {
	f := newFixture(t)
	member := uuid.New()
	f.bind(t, member, f.project, RoleMember)

	d := newGuard(f).RequireCapability(context.Background(), member, f.project, CapCreateProject)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonMissingCapability, d.Reason)
	assert.ErrorIs(t, d.Err(), ErrForbidden)
}

func TestGuardViewerScenario(t *testing.T) {
	f := newFixture(t)
	viewer := uuid.New()
	f.bind(t, viewer, f.project, RoleViewer)
	g := newGuard(f)
	ctx := context.Background()

	assert.False(t, g.RequireCapability(ctx, viewer, f.project, CapCreateComment).Allowed)
	assert.True(t, g.RequireCapability(ctx, viewer, f.project, CapViewFullAnalytics).Allowed)
}

func TestGuardNoRoleDeniesEverything(t *testing.T) {
	f := newFixture(t)
	stranger := uuid.New()
	f.bind(t, stranger, ProjectScope(uuid.New()), RoleAdmin)
	g := newGuard(f)
	ctx := context.Background()

	for capability := range knownCapabilities {
		d := g.RequireCapability(ctx, stranger, f.project, capability)
		assert.False(t, d.Allowed, capability)
		assert.Equal(t, ReasonNoRole, d.Reason)
	}
	for _, min := range Roles() {
		d := g.RequireMinimumRole(ctx, stranger, f.project, min)
		assert.False(t, d.Allowed, min.String())
		assert.ErrorIs(t, d.Err(), ErrForbidden)
	}
}

func TestGuardOwnershipRefinement(t *testing.T) {
	f := newFixture(t)
	member, other := uuid.New(), uuid.New()
	f.bind(t, member, f.project, RoleMember)
	f.bind(t, other, f.project, RoleMember)
	g := newGuard(f)
	ctx := context.Background()

	ownTask := member
	otherTask := other

	d := g.RequireAnyCapability(ctx, member, f.project, CapEditAnyTask, CapEditOwnTask)
	require.True(t, d.Allowed)
	assert.Equal(t, CapEditOwnTask, d.Capability)
	assert.True(t, RequireOwner(d, member, &ownTask).Allowed)

	refused := RequireOwner(d, member, &otherTask)
	assert.False(t, refused.Allowed)
	assert.Equal(t, ReasonNotOwner, refused.Reason)
	assert.ErrorIs(t, refused.Err(), ErrForbidden)

	assert.False(t, RequireOwner(d, member, nil).Allowed)
}

func TestGuardAnyCapabilityPrefersFirstGranted(t *testing.T) {
	f := newFixture(t)
	admin := uuid.New()
	f.bind(t, admin, f.project, RoleAdmin)

	d := newGuard(f).RequireAnyCapability(context.Background(), admin, f.project, CapEditAnyTask, CapEditOwnTask)
	require.True(t, d.Allowed)
	assert.Equal(t, CapEditAnyTask, d.Capability)
}

func TestGuardMinimumRoleMatrix(t *testing.T) {
	f := newFixture(t)
	g := newGuard(f)
	ctx := context.Background()

	subjects := map[Role]uuid.UUID{}
	for _, role := range Roles() {
		subjects[role] = uuid.New()
		f.bind(t, subjects[role], f.project, role)
	}
	for _, held := range Roles() {
		for _, min := range Roles() {
			d := g.RequireMinimumRole(ctx, subjects[held], f.project, min)
			assert.Equal(t, held >= min, d.Allowed, "%s vs minimum %s", held, min)
			if !d.Allowed {
				assert.Equal(t, ReasonInsufficientRole, d.Reason)
			}
		}
	}
}

func TestGuardUnauthenticated(t *testing.T) {
	f := newFixture(t)
	d := newGuard(f).RequireCapability(context.Background(), uuid.Nil, f.project, CapViewProject)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUnauthenticated, d.Reason)
	assert.ErrorIs(t, d.Err(), ErrUnauthenticated)
	assert.Zero(t, f.store.Lookups())
}

func TestGuardLookupFailureIsNotForbidden(t *testing.T) {
	f := newFixture(t)
	admin := uuid.New()
	f.bind(t, admin, f.project, RoleAdmin)
	f.store.FailWith(errStoreDown)

	d := newGuard(f).RequireCapability(context.Background(), admin, f.project, CapViewProject)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUnavailable, d.Reason)
	assert.ErrorIs(t, d.Err(), ErrLookupUnavailable)
	assert.NotErrorIs(t, d.Err(), ErrForbidden)
}

func TestGuardCanceledIsReported(t *testing.T) {
	f := newFixture(t)
	admin := uuid.New()
	f.bind(t, admin, f.project, RoleAdmin)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newGuard(f).RequireMinimumRole(ctx, admin, f.project, RoleViewer)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCanceled, d.Reason)
	assert.ErrorIs(t, d.Err(), context.Canceled)
}

type rawErrorResolver struct{}

func (rawErrorResolver) Resolve(context.Context, uuid.UUID, Scope) (Role, error) {
	return RoleNone, errors.New("driver exploded")
}

func TestGuardWrapsUnclassifiedResolverErrors(t *testing.T) {
	g := NewGuard(MustDefaultCatalog(), rawErrorResolver{})
	d := g.RequireCapability(context.Background(), uuid.New(), ProjectScope(uuid.New()), CapViewTask)
	assert.Equal(t, ReasonUnavailable, d.Reason)
	assert.ErrorIs(t, d.Err(), ErrLookupUnavailable)
}

func TestGuardIdempotentDecisions(t *testing.T) {
	f := newFixture(t)
	member := uuid.New()
	f.team(t, f.project, RoleMember, member)
	g := newGuard(f)

	first := g.RequireCapability(context.Background(), member, f.project, CapUploadFile)
	second := g.RequireCapability(context.Background(), member, f.project, CapUploadFile)
	assert.Equal(t, first, second)
}

func TestGuardCapabilitiesQuery(t *testing.T) {
	f := newFixture(t)
	viewer, stranger := uuid.New(), uuid.New()
	f.bind(t, viewer, f.project, RoleViewer)
	g := newGuard(f)
	ctx := context.Background()

	role, caps, err := g.Capabilities(ctx, viewer, f.project)
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, role)
	assert.ElementsMatch(t, []Capability{CapViewProject, CapViewTask, CapViewTeams, CapViewFullAnalytics, CapViewOrgSettings}, caps)

	role, caps, err = g.Capabilities(ctx, stranger, f.project)
	require.NoError(t, err)
	assert.Equal(t, RoleNone, role)
	assert.Empty(t, caps)

	_, _, err = g.Capabilities(ctx, uuid.Nil, f.project)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	f.store.FailWith(errStoreDown)
	_, _, err = g.Capabilities(ctx, viewer, f.project)
	assert.ErrorIs(t, err, ErrLookupUnavailable)
}

func TestGuardNotifiesObserver(t *testing.T) {
	f := newFixture(t)
	admin := uuid.New()
	f.bind(t, admin, f.project, RoleAdmin)
	obs := &recordingObserver{}
	g := newGuard(f, WithObserver(obs), WithLogger(nil))

	g.RequireCapability(context.Background(), admin, f.project, CapCreateTask)
	g.RequireMinimumRole(context.Background(), uuid.New(), f.project, RoleViewer)

	require.Len(t, obs.decisions, 2)
	assert.True(t, obs.decisions[0].Allowed)
	assert.Equal(t, ReasonNoRole, obs.decisions[1].Reason)
}
