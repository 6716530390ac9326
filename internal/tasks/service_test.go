package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
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

type mockRepository struct {
	mu       sync.Mutex
	projects map[uuid.UUID]bool
	tasks    map[uuid.UUID]*Task
	clock    time.Time
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		projects: make(map[uuid.UUID]bool),
		tasks:    make(map[uuid.UUID]*Task),
		clock:    time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (m *mockRepository) ProjectExists(_ context.Context, id uuid.UUID) error {
	if !m.projects[id] {
		return httpx.ErrNotFound
	}
	return nil
}

func (m *mockRepository) Create(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	m.clock = m.clock.Add(time.Second)
	t.CreatedAt, t.UpdatedAt = m.clock, m.clock
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockRepository) Get(_ context.Context, id uuid.UUID) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || !m.projects[t.ProjectID] {
		return nil, fmt.Errorf("task %w", httpx.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *mockRepository) List(_ context.Context, f ListFilter) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0)
	for _, t := range m.tasks {
		if t.ProjectID != f.ProjectID {
			continue
		}
		if f.AssigneeID != nil && !t.AssignedTo(*f.AssigneeID) {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockRepository) ListAssigned(_ context.Context, user uuid.UUID, _, _ int) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0)
	for _, t := range m.tasks {
		if t.AssignedTo(user) && m.projects[t.ProjectID] {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockRepository) Update(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return httpx.ErrNotFound
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockRepository) SoftDelete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return httpx.ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *mockRepository) DueBetween(_ context.Context, from, to time.Time) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0)
	for _, t := range m.tasks {
		if t.Status == StatusTodo && t.AssigneeID != nil && t.DueDate != nil && !t.DueDate.Before(from) && t.DueDate.Before(to) {
			out = append(out, *t)
		}
	}
	return out, nil
}

type assignment struct {
	assignee uuid.UUID
	task     uuid.UUID
}

type notifierSpy struct {
	sent []assignment
}

func (n *notifierSpy) TaskAssigned(_ context.Context, assignee, taskID uuid.UUID, _ string) error {
	n.sent = append(n.sent, assignment{assignee, taskID})
	return nil
}

type quota struct {
	left int
}

func (q *quota) Allow(context.Context, uuid.UUID, rbac.Role) error {
	if q.left <= 0 {
		return fmt.Errorf("%w: slow down", httpx.ErrRateLimited)
	}
	q.left--
	return nil
}

// fixture holds one project with an admin, two members, a viewer and an outsider.
type fixture struct {
	env      *rbactest.Env
	repo     *mockRepository
	notifier *notifierSpy
	svc      *Service
	project  rbac.Scope
	admin    uuid.UUID
	member   uuid.UUID
	member2  uuid.UUID
	viewer   uuid.UUID
	outsider uuid.UUID
}

func newFixture(t *testing.T, limiter rbac.Limiter) *fixture {
	t.Helper()
	env := rbactest.New(t, limiter)
	repo := newMockRepository()
	project := env.Project()
	repo.projects[project.ID] = true
	notifier := &notifierSpy{}
	return &fixture{
		env:      env,
		repo:     repo,
		notifier: notifier,
		svc:      NewService(repo, env.Enforcer, notifier, nil),
		project:  project,
		admin:    env.Bind(t, project, rbac.RoleAdmin),
		member:   env.Bind(t, project, rbac.RoleMember),
		member2:  env.Bind(t, project, rbac.RoleMember),
		viewer:   env.Bind(t, project, rbac.RoleViewer),
		outsider: uuid.New(),
	}
}

func (f *fixture) task(t *testing.T, assignee *uuid.UUID) *Task {
	t.Helper()
	task, err := f.svc.Create(context.Background(), f.admin, CreateRequest{ProjectID: f.project.ID, Title: "Write tests", AssigneeID: assignee})
	require.NoError(t, err)
	return task
}

func ptr[T any](v T) *T { return &v }

// ============================================================================
// CREATE
// ============================================================================

func TestCreateRequiresCreateTask(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := []struct {
		name    string
		subject uuid.UUID
		project uuid.UUID
		want    error
	}{
		{"admin", f.admin, f.project.ID, nil},
		{"member", f.member, f.project.ID, httpx.ErrForbidden},
		{"viewer", f.viewer, f.project.ID, httpx.ErrForbidden},
		{"outsider", f.outsider, f.project.ID, httpx.ErrForbidden},
		{"anonymous", uuid.Nil, f.project.ID, httpx.ErrUnauthorized},
		{"unknown project", f.admin, uuid.New(), httpx.ErrNotFound},
		{"unknown project for outsider", f.outsider, uuid.New(), httpx.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task, err := f.svc.Create(ctx, tc.subject, CreateRequest{ProjectID: tc.project, Title: "Plan sprint"})
			if tc.want == nil {
				require.NoError(t, err)
				assert.Equal(t, StatusTodo, task.Status)
				assert.Equal(t, PriorityMedium, task.Priority)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateValidatesAndNotifiesAssignee(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.admin, CreateRequest{ProjectID: f.project.ID, Title: "x", AssigneeID: ptr(f.outsider)})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.Create(ctx, f.admin, CreateRequest{ProjectID: f.project.ID, Title: "   "})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.Create(ctx, f.admin, CreateRequest{ProjectID: f.project.ID, Title: "x", Status: "blocked"})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	task, err := f.svc.Create(ctx, f.admin, CreateRequest{ProjectID: f.project.ID, Title: "Review", Priority: "high", AssigneeID: ptr(f.member)})
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, task.Priority)
	assert.Equal(t, []assignment{{f.member, task.ID}}, f.notifier.sent)

	_, err = f.svc.Create(ctx, f.admin, CreateRequest{ProjectID: f.project.ID, Title: "Self", AssigneeID: ptr(f.admin)})
	require.NoError(t, err)
	assert.Len(t, f.notifier.sent, 1, "self assignment is not notified")
}

// ============================================================================
// READ
// ============================================================================

func TestGetMembersOnlySeeOwnTasks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	mine := f.task(t, ptr(f.member))
	theirs := f.task(t, ptr(f.member2))
	unassigned := f.task(t, nil)

	cases := []struct {
		name    string
		subject uuid.UUID
		task    uuid.UUID
		want    error
	}{
		{"admin reads any", f.admin, theirs.ID, nil},
		{"viewer reads any", f.viewer, unassigned.ID, nil},
		{"member reads own", f.member, mine.ID, nil},
		{"member reads other", f.member, theirs.ID, httpx.ErrForbidden},
		{"member reads unassigned", f.member, unassigned.ID, httpx.ErrForbidden},
		{"outsider", f.outsider, mine.ID, httpx.ErrForbidden},
		{"unknown task", f.admin, uuid.New(), httpx.ErrNotFound},
		{"unknown task for outsider", f.outsider, uuid.New(), httpx.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Get(ctx, tc.subject, tc.task)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestListFiltersMembersToOwnTasks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.task(t, ptr(f.member))
	f.task(t, ptr(f.member2))
	f.task(t, nil)

	all, err := f.svc.List(ctx, f.viewer, ListFilter{ProjectID: f.project.ID})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	own, err := f.svc.List(ctx, f.member, ListFilter{ProjectID: f.project.ID})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.True(t, own[0].AssignedTo(f.member))

	_, err = f.svc.List(ctx, f.outsider, ListFilter{ProjectID: f.project.ID})
	assert.ErrorIs(t, err, httpx.ErrForbidden)

	_, err = f.svc.List(ctx, f.admin, ListFilter{ProjectID: uuid.New()})
	assert.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestListMineDropsProjectsNoLongerVisible(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.task(t, ptr(f.member))

	other := f.env.Project()
	f.repo.projects[other.ID] = true
	f.env.BindUser(t, f.member, other, rbac.RoleMember)
	otherAdmin := f.env.Bind(t, other, rbac.RoleAdmin)
	_, err := f.svc.Create(ctx, otherAdmin, CreateRequest{ProjectID: other.ID, Title: "Elsewhere", AssigneeID: ptr(f.member)})
	require.NoError(t, err)

	items, err := f.svc.ListMine(ctx, f.member, shared.NewPage(0, 0))
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = f.env.Store.Unbind(ctx, f.member, other)
	require.NoError(t, err)
	items, err = f.svc.ListMine(ctx, f.member, shared.NewPage(0, 0))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, f.project.ID, items[0].ProjectID)
}

// ============================================================================
// UPDATE
// ============================================================================

func TestUpdateEditRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	mine := f.task(t, ptr(f.member))
	theirs := f.task(t, ptr(f.member2))

	cases := []struct {
		name    string
		subject uuid.UUID
		task    uuid.UUID
		req     UpdateRequest
		want    error
	}{
		{"admin edits any task", f.admin, theirs.ID, UpdateRequest{Title: ptr("Renamed")}, nil},
		{"member edits own task", f.member, mine.ID, UpdateRequest{Status: ptr("in_progress")}, nil},
		{"member edits other task", f.member, theirs.ID, UpdateRequest{Status: ptr("completed")}, httpx.ErrForbidden},
		{"member keeps own assignee", f.member, mine.ID, UpdateRequest{AssigneeID: ptr(f.member)}, nil},
		{"member reassigns own task", f.member, mine.ID, UpdateRequest{AssigneeID: ptr(f.member2)}, httpx.ErrForbidden},
		{"viewer edits", f.viewer, mine.ID, UpdateRequest{Title: ptr("x")}, httpx.ErrForbidden},
		{"outsider edits", f.outsider, mine.ID, UpdateRequest{Title: ptr("x")}, httpx.ErrForbidden},
		{"admin reassigns to outsider", f.admin, mine.ID, UpdateRequest{AssigneeID: ptr(f.outsider)}, httpx.ErrValidation},
		{"invalid priority", f.admin, mine.ID, UpdateRequest{Priority: ptr("urgent")}, httpx.ErrValidation},
		{"unknown task", f.member, uuid.New(), UpdateRequest{Title: ptr("x")}, httpx.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Update(ctx, tc.subject, tc.task, tc.req)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}

	got, err := f.repo.Get(ctx, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.True(t, got.AssignedTo(f.member))
}

func TestUpdateReassignNotifiesNewAssignee(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	task := f.task(t, ptr(f.member))
	f.notifier.sent = nil

	updated, err := f.svc.Update(ctx, f.admin, task.ID, UpdateRequest{AssigneeID: ptr(f.member2)})
	require.NoError(t, err)
	assert.True(t, updated.AssignedTo(f.member2))
	assert.Equal(t, []assignment{{f.member2, task.ID}}, f.notifier.sent)

	_, err = f.svc.Update(ctx, f.admin, task.ID, UpdateRequest{AssigneeID: ptr(f.member2), Title: ptr("Same assignee")})
	require.NoError(t, err)
	assert.Len(t, f.notifier.sent, 1)
}

// ============================================================================
// DELETE
// ============================================================================

func TestDeleteRequiresAdminRole(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	task := f.task(t, ptr(f.member))

	assert.ErrorIs(t, f.svc.Delete(ctx, f.member, task.ID), httpx.ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(ctx, f.viewer, task.ID), httpx.ErrForbidden)
	require.NoError(t, f.svc.Delete(ctx, f.admin, task.ID))
	assert.ErrorIs(t, f.svc.Delete(ctx, f.admin, task.ID), httpx.ErrNotFound)
}

// ============================================================================
// FAILURE CLASSES
// ============================================================================

func TestLookupFailureIsUnavailableNotForbidden(t *testing.T) {
	f := newFixture(t, nil)
	task := f.task(t, ptr(f.member))
	f.env.Store.FailWith(errors.New("connection refused"))

	_, err := f.svc.Get(context.Background(), f.member, task.ID)
	assert.ErrorIs(t, err, httpx.ErrUnavailable)
	assert.NotErrorIs(t, err, httpx.ErrForbidden)

	_, err = f.svc.ListMine(context.Background(), f.member, shared.NewPage(0, 0))
	assert.ErrorIs(t, err, httpx.ErrUnavailable)
}

func TestRateLimitAppliesAfterAuthorization(t *testing.T) {
	f := newFixture(t, &quota{left: 1})
	ctx := context.Background()
	task := f.task(t, nil)

	_, err := f.svc.Get(ctx, f.outsider, task.ID)
	assert.ErrorIs(t, err, httpx.ErrForbidden)

	_, err = f.svc.Get(ctx, f.admin, task.ID)
	assert.ErrorIs(t, err, httpx.ErrRateLimited)
}

func TestDueWithinWindow(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	soon, later := now.Add(3*time.Hour), now.Add(48*time.Hour)
	ctx := context.Background()
	for _, due := range []time.Time{soon, later} {
		_, err := f.svc.Create(ctx, f.admin, CreateRequest{ProjectID: f.project.ID, Title: "Due", AssigneeID: ptr(f.member), DueDate: ptr(due)})
		require.NoError(t, err)
	}

	items, err := f.svc.DueWithin(ctx, now, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, soon, *items[0].DueDate)
}

// ============================================================================
// HANDLER
// ============================================================================

func TestHandlerStatusMapping(t *testing.T) {
	f := newFixture(t, nil)
	task := f.task(t, ptr(f.member))
	router := chi.NewRouter()
	router.Route("/tasks", NewHandler(nil, f.svc).MountRoutes)

	do := func(method, path, body string, subject uuid.UUID) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		sess := &shared.Session{}
		if subject != uuid.Nil {
			sess.SetUser(subject)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		return rec.Code
	}
	createBody := `{"project_id":"` + f.project.ID.String() + `","title":"From API"}`

	assert.Equal(t, http.StatusCreated, do(http.MethodPost, "/tasks/", createBody, f.admin))
	assert.Equal(t, http.StatusForbidden, do(http.MethodPost, "/tasks/", createBody, f.member))
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodPost, "/tasks/", createBody, uuid.Nil))
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/tasks/", `{"title":""}`, f.admin))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/tasks/?project_id="+f.project.ID.String(), "", f.viewer))
	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/tasks/", "", f.viewer))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/tasks/"+task.ID.String(), "", f.member))
	assert.Equal(t, http.StatusForbidden, do(http.MethodGet, "/tasks/"+task.ID.String(), "", f.member2))
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/tasks/"+uuid.NewString(), "", f.member2))
	assert.Equal(t, http.StatusOK, do(http.MethodPatch, "/tasks/"+task.ID.String(), `{"status":"completed"}`, f.member))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/tasks/mine", "", f.member))
	assert.Equal(t, http.StatusForbidden, do(http.MethodDelete, "/tasks/"+task.ID.String(), "", f.member))
	assert.Equal(t, http.StatusNoContent, do(http.MethodDelete, "/tasks/"+task.ID.String(), "", f.admin))
}
