package auth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecthub/projecthub/internal/app"
	"github.com/projecthub/projecthub/internal/auth"
	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/shared"
	_ "github.com/projecthub/projecthub/testing"
)

type stubRepo struct {
	user     *auth.User
	sessions map[string]uuid.UUID
}

func (s *stubRepo) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	if s.user == nil || !strings.EqualFold(s.user.Email, email) {
		return nil, fmt.Errorf("user %w", httpx.ErrNotFound)
	}
	return s.user, nil
}

func (s *stubRepo) FindByID(_ context.Context, id uuid.UUID) (*auth.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, fmt.Errorf("user %w", httpx.ErrNotFound)
	}
	return s.user, nil
}

func (s *stubRepo) CreateSession(_ context.Context, id string, userID uuid.UUID, _ time.Time, _, _ string) error {
	if s.sessions == nil {
		s.sessions = make(map[string]uuid.UUID)
	}
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(_ context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

func newUser(t *testing.T, active bool) *auth.User {
	t.Helper()
	hash, err := auth.HashPassword("correct horse")
	require.NoError(t, err)
	return &auth.User{ID: uuid.New(), Email: "ada@example.com", FullName: "Ada", PasswordHash: hash, IsActive: active}
}

type harness struct {
	router   chi.Router
	sessions *shared.SessionManager
	repo     *stubRepo
}

func newHarness(t *testing.T, repo *stubRepo) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	handler := auth.NewHandler(nil, auth.NewService(repo), sessions, shared.NewCSRFManager("csrfsecret"))

	r := chi.NewRouter()
	r.Use(app.SessionMiddleware(sessions, slog.Default()))
	r.Route("/auth", handler.MountRoutes)
	return &harness{router: r, sessions: sessions, repo: repo}
}

func (h *harness) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func login(email, password string) *http.Request {
	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestLoginEstablishesSession(t *testing.T) {
	user := newUser(t, true)
	h := newHarness(t, &stubRepo{user: user})

	rec := h.do(login("ADA@example.com", "correct horse"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, user.ID.String(), body["id"])
	assert.NotContains(t, body, "PasswordHash")
	assert.NotEmpty(t, rec.Header().Get(shared.CSRFHeader))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Len(t, h.repo.sessions, 1)

	me := h.do(httptest.NewRequest(http.MethodGet, "/auth/me", nil), cookies...)
	assert.Equal(t, http.StatusOK, me.Code)
}

func TestLoginRejections(t *testing.T) {
	cases := []struct {
		name     string
		user     *auth.User
		email    string
		password string
		status   int
	}{
		{"wrong password", newUser(t, true), "ada@example.com", "wrong password", http.StatusUnauthorized},
		{"unknown email", newUser(t, true), "bob@example.com", "correct horse", http.StatusUnauthorized},
		{"inactive", newUser(t, false), "ada@example.com", "correct horse", http.StatusUnauthorized},
		{"invalid email", newUser(t, true), "not-an-email", "correct horse", http.StatusBadRequest},
		{"short password", newUser(t, true), "ada@example.com", "short", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, &stubRepo{user: tc.user})
			rec := h.do(login(tc.email, tc.password))
			assert.Equal(t, tc.status, rec.Code)
			assert.Empty(t, h.repo.sessions)
		})
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	user := newUser(t, true)
	h := newHarness(t, &stubRepo{user: user})

	rec := h.do(login(user.Email, "correct horse"))
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()

	out := h.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), cookies...)
	assert.Equal(t, http.StatusNoContent, out.Code)
	assert.Empty(t, h.repo.sessions)

	me := h.do(httptest.NewRequest(http.MethodGet, "/auth/me", nil), cookies...)
	assert.Equal(t, http.StatusUnauthorized, me.Code)
}

func TestCSRFEndpointIssuesToken(t *testing.T) {
	h := newHarness(t, &stubRepo{})
	rec := h.do(httptest.NewRequest(http.MethodGet, "/auth/csrf", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["csrf_token"])
}
