package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/projecthub/projecthub/internal/auth"
	"github.com/projecthub/projecthub/internal/comments"
	"github.com/projecthub/projecthub/internal/files"
	"github.com/projecthub/projecthub/internal/notifications"
	"github.com/projecthub/projecthub/internal/observability"
	"github.com/projecthub/projecthub/internal/organizations"
	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/projects"
	"github.com/projecthub/projecthub/internal/rbac"
	"github.com/projecthub/projecthub/internal/shared"
	"github.com/projecthub/projecthub/internal/tasks"
	"github.com/projecthub/projecthub/internal/teams"
	"github.com/projecthub/projecthub/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	SessionManager      *shared.SessionManager
	CSRFManager         *shared.CSRFManager
	RBACMiddleware      rbac.Middleware
	AuthHandler         *auth.Handler
	PermissionsHandler  *rbac.PermissionsHandler
	OrganizationHandler *organizations.Handler
	ProjectHandler      *projects.Handler
	TeamHandler         *teams.Handler
	TaskHandler         *tasks.Handler
	CommentHandler      *comments.Handler
	FileHandler         *files.Handler
	NotificationHandler *notifications.Handler
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with ProjectHub defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.RespondError(w, httpx.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	csrf := CSRFMiddleware(params.CSRFManager, params.Logger)
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(csrf)
			params.AuthHandler.MountRoutes(r)
		})

		// CSRF runs after identity: anonymous and expired sessions get 401.
		r.Group(func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireIdentity)
			r.Use(csrf)

			if params.PermissionsHandler != nil {
				r.Route("/permissions", params.PermissionsHandler.MountRoutes)
			}
			r.Route("/organizations", func(r chi.Router) {
				params.OrganizationHandler.MountRoutes(r)
				r.Route("/{orgID}/projects", params.ProjectHandler.MountOrgRoutes)
				r.Route("/{orgID}/teams", params.TeamHandler.MountOrgRoutes)
			})
			r.Route("/projects", params.ProjectHandler.MountRoutes)
			r.Route("/teams", params.TeamHandler.MountRoutes)
			r.Route("/tasks", func(r chi.Router) {
				params.TaskHandler.MountRoutes(r)
				params.FileHandler.MountTaskRoutes(r)
			})
			r.Route("/comments", params.CommentHandler.MountRoutes)
			r.Route("/files", params.FileHandler.MountRoutes)
			r.Route("/notifications", params.NotificationHandler.MountRoutes)
		})
	})

	return r
}
