package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecthub/projecthub/internal/auth"
	"github.com/projecthub/projecthub/internal/comments"
	"github.com/projecthub/projecthub/internal/files"
	"github.com/projecthub/projecthub/internal/notifications"
	"github.com/projecthub/projecthub/internal/observability"
	"github.com/projecthub/projecthub/internal/organizations"
	"github.com/projecthub/projecthub/internal/projects"
	"github.com/projecthub/projecthub/internal/rbac"
	"github.com/projecthub/projecthub/internal/rbac/rbactest"
	"github.com/projecthub/projecthub/internal/shared"
	"github.com/projecthub/projecthub/internal/tasks"
	"github.com/projecthub/projecthub/internal/teams"
	"github.com/projecthub/projecthub/jobs"
)

type testRouter struct {
	http.Handler
	redis    *miniredis.Miniredis
	sessions *shared.SessionManager
	csrf     *shared.CSRFManager
}

// newTestRouter wires every handler over nil repositories; the requests
// below are all answered before any repository is touched.
func newTestRouter(t *testing.T) *testRouter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.Default()
	env := rbactest.New(t, nil)
	sessions := shared.NewSessionManager(client, "projecthub_session", "secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf")
	mw := rbac.Middleware{Enforcer: env.Enforcer, Scopes: env.Store, Logger: logger}

	router := NewRouter(RouterParams{
		Logger:              logger,
		Config:              &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, IPRateLimit: 1000},
		SessionManager:      sessions,
		CSRFManager:         csrf,
		RBACMiddleware:      mw,
		AuthHandler:         auth.NewHandler(logger, auth.NewService(nil), sessions, csrf),
		PermissionsHandler:  rbac.NewPermissionsHandler(logger, env.Guard, env.Store),
		OrganizationHandler: organizations.NewHandler(logger, organizations.NewService(nil, nil, nil, logger), mw),
		ProjectHandler:      projects.NewHandler(logger, projects.NewService(nil, env.Enforcer, logger), mw),
		TeamHandler:         teams.NewHandler(logger, teams.NewService(nil, env.Enforcer, logger), mw),
		TaskHandler:         tasks.NewHandler(logger, tasks.NewService(nil, env.Enforcer, nil, logger)),
		CommentHandler:      comments.NewHandler(logger, comments.NewService(nil, nil, nil, env.Enforcer, nil, logger)),
		FileHandler:         files.NewHandler(logger, files.NewService(nil, nil, nil, env.Enforcer, logger, 0)),
		NotificationHandler: notifications.NewHandler(logger, notifications.NewService(nil, logger)),
		JobHandler:          jobs.NewHandler(nil, logger),
		Metrics:             observability.NewMetrics(),
	})
	return &testRouter{Handler: router, redis: mr, sessions: sessions, csrf: csrf}
}

// signIn stores an authenticated session and returns its cookie and token.
func (tr *testRouter) signIn(t *testing.T) ([]*http.Cookie, string) {
	t.Helper()
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := tr.sessions.Load(ctx, req)
	require.NoError(t, err)
	sess.SetUser(uuid.New())
	token, err := tr.csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	require.NoError(t, tr.sessions.Commit(ctx, rec, req, sess))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies, token
}

func serve(router http.Handler, req *http.Request, cookies []*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouterOperationalEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	assert.Equal(t, http.StatusOK, serve(router, httptest.NewRequest(http.MethodGet, "/jobs/health", nil), nil).Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "projecthub_http_requests_total")

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/nowhere", nil), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestRouterRequiresIdentityOnAPI(t *testing.T) {
	router := newTestRouter(t)
	for _, path := range []string{
		"/api/tasks/mine",
		"/api/projects",
		"/api/organizations",
		"/api/notifications",
		"/api/permissions?scope=project&id=00000000-0000-0000-0000-000000000001",
	} {
		rec := serve(router, httptest.NewRequest(http.MethodGet, path, nil), nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestRouterAnonymousWritesAreUnauthenticated(t *testing.T) {
	router := newTestRouter(t)
	taskPath := "/api/tasks/00000000-0000-0000-0000-000000000001"
	for _, tc := range []struct {
		method, path, body string
	}{
		{http.MethodPost, "/api/tasks", `{"title":"x"}`},
		{http.MethodPatch, taskPath, `{"title":"x"}`},
		{http.MethodDelete, taskPath, ""},
		{http.MethodPost, "/api/comments", `{"content":"hi"}`},
		{http.MethodPost, "/api/organizations", `{"name":"Acme"}`},
	} {
		rec := serve(router, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)), nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.method+" "+tc.path)
	}
}

func TestRouterExpiredSessionWriteIsUnauthenticated(t *testing.T) {
	router := newTestRouter(t)
	cookies, token := router.signIn(t)
	router.redis.FlushAll()

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{}`))
	req.Header.Set(CSRFHeader, token)
	rec := serve(router, req, cookies)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterEnforcesCSRF(t *testing.T) {
	router := newTestRouter(t)
	cookies, token := router.signIn(t)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{}`))
	rec := serve(router, req, cookies)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{}`))
	req.Header.Set(CSRFHeader, "forged")
	rec = serve(router, req, cookies)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{}`))
	req.Header.Set(CSRFHeader, token)
	rec = serve(router, req, cookies)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterIssuesAnonymousCSRFToken(t *testing.T) {
	router := newTestRouter(t)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/auth/csrf", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var token map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))
	assert.NotEmpty(t, token["csrf_token"])
	assert.NotEmpty(t, rec.Result().Cookies())

	rec = serve(router, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil), rec.Result().Cookies())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
