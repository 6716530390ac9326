package teams

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/rbac"
	"github.com/projecthub/projecthub/internal/shared"
)

// Handler exposes team endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: mw, validator: validator.New()}
}

// MountOrgRoutes registers the team routes nested under an organization.
func (h *Handler) MountOrgRoutes(r chi.Router) {
	org := rbac.OrganizationParam("orgID")
	r.With(h.rbac.RequireCapability(rbac.CapViewTeams, org)).Get("/", h.list)
	r.With(h.rbac.RequireCapability(rbac.CapManageTeams, org)).Post("/", h.create)
}

// MountRoutes registers team routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{teamID}/members", h.addMember)
	r.Delete("/{teamID}/members/{userID}", h.removeMember)
	r.Put("/{teamID}/projects/{projectID}", h.grantProject)
	r.Delete("/{teamID}/projects/{projectID}", h.revokeProject)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.Bind(r, &req, h.validator); err != nil {
		httpx.RespondError(w, err)
		return
	}
	orgID, _ := uuid.Parse(chi.URLParam(r, "orgID"))
	team, err := h.service.Create(r.Context(), shared.SubjectFromContext(r.Context()), orgID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, team)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orgID, _ := uuid.Parse(chi.URLParam(r, "orgID"))
	items, err := h.service.List(r.Context(), orgID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"teams": items})
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	var req MemberRequest
	if err := httpx.Bind(r, &req, h.validator); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.AddMember(r.Context(), shared.SubjectFromContext(r.Context()), teamID, req.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	if err := h.service.RemoveMember(r.Context(), shared.SubjectFromContext(r.Context()), teamID, userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) grantProject(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	var req ProjectRoleRequest
	if err := httpx.Bind(r, &req, h.validator); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.GrantProjectRole(r.Context(), shared.SubjectFromContext(r.Context()), teamID, projectID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"team_id": teamID, "project_id": projectID, "role": role})
}

func (h *Handler) revokeProject(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	if err := h.service.RevokeProjectRole(r.Context(), shared.SubjectFromContext(r.Context()), teamID, projectID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return uuid.Nil, false
	}
	return id, true
}
