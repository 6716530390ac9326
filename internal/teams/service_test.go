package teams

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/rbac"
	"github.com/projecthub/projecthub/internal/rbac/rbactest"
	"github.com/projecthub/projecthub/internal/shared"
)

// ============================================================================
// MOCKS
// ============================================================================

type auditSink struct {
	logs []shared.AuditLog
}

func (s *auditSink) Record(_ context.Context, log shared.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

type mockRepository struct {
	env      *rbactest.Env
	audit    *auditSink
	teams    map[uuid.UUID]*Team
	projects map[uuid.UUID]uuid.UUID
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func (m *mockRepository) Create(_ context.Context, t *Team) error {
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	m.teams[t.ID] = t
	return nil
}

func (m *mockRepository) Get(_ context.Context, id uuid.UUID) (*Team, error) {
	t, ok := m.teams[id]
	if !ok {
		return nil, httpx.ErrNotFound
	}
	return t, nil
}

func (m *mockRepository) ListByOrganization(_ context.Context, orgID uuid.UUID) ([]Team, error) {
	out := make([]Team, 0)
	for _, t := range m.teams {
		if t.OrganizationID == orgID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockRepository) ProjectOrganization(_ context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	orgID, ok := m.projects[projectID]
	if !ok {
		return uuid.Nil, httpx.ErrNotFound
	}
	return orgID, nil
}

func (m *mockRepository) Writer() rbac.TeamWriter   { return m.env.Store }
func (m *mockRepository) Audit() rbac.AuditRecorder { return m.audit }

type testEnv struct {
	env     *rbactest.Env
	repo    *mockRepository
	svc     *Service
	org     rbac.Scope
	project rbac.Scope
	admin   uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := rbactest.New(t, nil)
	repo := &mockRepository{
		env:      env,
		audit:    &auditSink{},
		teams:    make(map[uuid.UUID]*Team),
		projects: make(map[uuid.UUID]uuid.UUID),
	}
	org := env.Organization()
	project := env.Project()
	repo.projects[project.ID] = org.ID
	admin := env.Bind(t, org, rbac.RoleAdmin)
	env.BindUser(t, admin, project, rbac.RoleAdmin)
	return &testEnv{env: env, repo: repo, svc: NewService(repo, env.Enforcer, nil), org: org, project: project, admin: admin}
}

func (e *testEnv) team(t *testing.T) *Team {
	t.Helper()
	team, err := e.svc.Create(context.Background(), e.admin, e.org.ID, CreateRequest{Name: " Platform "})
	require.NoError(t, err)
	return team
}

// ============================================================================
// SERVICE TESTS
// ============================================================================

func TestTeamMembershipGrantsProjectRole(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	team := e.team(t)
	assert.Equal(t, "Platform", team.Name)
	user := e.env.Bind(t, e.org, rbac.RoleViewer)

	require.NoError(t, e.svc.AddMember(ctx, e.admin, team.ID, user))
	assert.ErrorIs(t, e.svc.AddMember(ctx, e.admin, team.ID, user), httpx.ErrDuplicate)
	assert.Equal(t, rbac.RoleNone, e.env.Role(t, user, e.project))

	role, err := e.svc.GrantProjectRole(ctx, e.admin, team.ID, e.project.ID, ProjectRoleRequest{Role: "member"})
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleMember, role)
	assert.Equal(t, rbac.RoleMember, e.env.Role(t, user, e.project))

	require.NoError(t, e.svc.RevokeProjectRole(ctx, e.admin, team.ID, e.project.ID))
	assert.Equal(t, rbac.RoleNone, e.env.Role(t, user, e.project))
	assert.ErrorIs(t, e.svc.RevokeProjectRole(ctx, e.admin, team.ID, e.project.ID), httpx.ErrNotFound)

	require.NoError(t, e.svc.RemoveMember(ctx, e.admin, team.ID, user))
	assert.ErrorIs(t, e.svc.RemoveMember(ctx, e.admin, team.ID, user), httpx.ErrNotFound)

	actions := make([]string, 0, len(e.repo.audit.logs))
	for _, l := range e.repo.audit.logs {
		actions = append(actions, l.Action)
	}
	assert.Equal(t, []string{AuditCreate, AuditMemberAdd, AuditProjectGrant, AuditProjectDrop, AuditMemberRemove}, actions)
}

func TestTeamOperationsRequireCapabilities(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	team := e.team(t)
	orgMember := e.env.Bind(t, e.org, rbac.RoleMember)
	projectMember := e.env.Bind(t, e.project, rbac.RoleMember)
	orgAdminOnly := e.env.Bind(t, e.org, rbac.RoleAdmin)

	assert.ErrorIs(t, e.svc.AddMember(ctx, orgMember, team.ID, uuid.New()), httpx.ErrForbidden)
	assert.ErrorIs(t, e.svc.AddMember(ctx, orgMember, uuid.New(), uuid.New()), httpx.ErrNotFound)

	_, err := e.svc.GrantProjectRole(ctx, projectMember, team.ID, e.project.ID, ProjectRoleRequest{Role: "viewer"})
	assert.ErrorIs(t, err, httpx.ErrForbidden)

	_, err = e.svc.GrantProjectRole(ctx, orgAdminOnly, team.ID, e.project.ID, ProjectRoleRequest{Role: "viewer"})
	assert.ErrorIs(t, err, httpx.ErrForbidden, "organization admin holds no project role")

	_, err = e.svc.GrantProjectRole(ctx, e.admin, team.ID, uuid.New(), ProjectRoleRequest{Role: "viewer"})
	assert.ErrorIs(t, err, httpx.ErrNotFound)

	foreign := e.env.Project()
	e.repo.projects[foreign.ID] = uuid.New()
	_, err = e.svc.GrantProjectRole(ctx, e.admin, team.ID, foreign.ID, ProjectRoleRequest{Role: "viewer"})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = e.svc.GrantProjectRole(ctx, e.admin, team.ID, e.project.ID, ProjectRoleRequest{Role: "owner"})
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

// ============================================================================
// HANDLER TESTS
// ============================================================================

func withSubject(r *http.Request, subject uuid.UUID) *http.Request {
	sess := &shared.Session{}
	sess.SetUser(subject)
	return r.WithContext(shared.ContextWithSession(r.Context(), sess))
}

func serve(router http.Handler, method, path, body string, subject uuid.UUID) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withSubject(httptest.NewRequest(method, path, strings.NewReader(body)), subject))
	return rec
}

func TestHandlerTeamRoutes(t *testing.T) {
	e := newTestEnv(t)
	h := NewHandler(nil, e.svc, rbac.Middleware{Enforcer: e.env.Enforcer, Scopes: e.env.Store})
	router := chi.NewRouter()
	router.Route("/organizations/{orgID}/teams", h.MountOrgRoutes)
	router.Route("/teams", h.MountRoutes)
	viewer := e.env.Bind(t, e.org, rbac.RoleViewer)
	orgPath := "/organizations/" + e.org.ID.String() + "/teams/"

	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodPost, orgPath, `{"name":"Design"}`, viewer).Code)
	rec := serve(router, http.MethodPost, orgPath, `{"name":"Design"}`, e.admin)
	require.Equal(t, http.StatusCreated, rec.Code)
	var team Team
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &team))

	rec = serve(router, http.MethodGet, orgPath, "", viewer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), team.ID.String())
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodGet, orgPath, "", uuid.New()).Code)

	base := "/teams/" + team.ID.String()
	body := `{"user_id":"` + viewer.String() + `"}`
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodPost, base+"/members", body, viewer).Code)
	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodPost, base+"/members", body, e.admin).Code)
	assert.Equal(t, http.StatusConflict, serve(router, http.MethodPost, base+"/members", body, e.admin).Code)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodPost, "/teams/"+uuid.NewString()+"/members", body, e.admin).Code)

	projectPath := base + "/projects/" + e.project.ID.String()
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPut, projectPath, `{"role":"viewer"}`, e.admin).Code)
	assert.Equal(t, rbac.RoleViewer, e.env.Role(t, viewer, e.project))
	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodDelete, projectPath, "", e.admin).Code)
	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodDelete, base+"/members/"+viewer.String(), "", e.admin).Code)
}
