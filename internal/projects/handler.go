package projects

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

// Handler exposes project endpoints.
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

// MountOrgRoutes registers the project routes nested under an organization.
func (h *Handler) MountOrgRoutes(r chi.Router) {
	r.With(h.rbac.RequireCapability(rbac.CapCreateProject, rbac.OrganizationParam("orgID"))).Post("/", h.create)
}

// MountRoutes registers project routes.
func (h *Handler) MountRoutes(r chi.Router) {
	project := rbac.ProjectParam("projectID")
	r.Get("/", h.list)
	r.Delete("/{projectID}", h.delete)
	r.Get("/{projectID}/analytics", h.analytics)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireCapability(rbac.CapViewProject, project))
		r.Get("/{projectID}", h.get)
		r.Get("/{projectID}/members", h.members)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireCapability(rbac.CapAssignRoles, project))
		r.Put("/{projectID}/members/{userID}", h.assignMember)
		r.Delete("/{projectID}/members/{userID}", h.removeMember)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.Bind(r, &req, h.validator); err != nil {
		httpx.RespondError(w, err)
		return
	}
	orgID, _ := uuid.Parse(chi.URLParam(r, "orgID"))
	p, err := h.service.Create(r.Context(), shared.SubjectFromContext(r.Context()), orgID, req)
	if err != nil {
		h.logger.Error("create project", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context(), shared.SubjectFromContext(r.Context()), shared.PageFromRequest(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"projects": items})
}

// projectView adds the caller's effective role to a project.
type projectView struct {
	*Project
	Role rbac.Role `json:"role"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), projectParam(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, _ := rbac.DecisionFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, projectView{Project: p, Role: d.Role})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	if err := h.service.Delete(r.Context(), shared.SubjectFromContext(r.Context()), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) analytics(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	out, err := h.service.Analytics(r.Context(), shared.SubjectFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) members(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.Members(r.Context(), projectParam(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": members})
}

func (h *Handler) assignMember(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	var req RoleRequest
	if err := httpx.Bind(r, &req, h.validator); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.AssignMember(r.Context(), shared.SubjectFromContext(r.Context()), projectParam(r), userID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "role": role})
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	if err := h.service.RemoveMember(r.Context(), shared.SubjectFromContext(r.Context()), projectParam(r), userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// projectParam reads the project id already validated by the rbac middleware.
func projectParam(r *http.Request) uuid.UUID {
	id, _ := uuid.Parse(chi.URLParam(r, "projectID"))
	return id
}
