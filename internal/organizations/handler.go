package organizations

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

// Handler exposes organization endpoints.
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

// MountRoutes registers organization routes.
func (h *Handler) MountRoutes(r chi.Router) {
	org := rbac.OrganizationParam("orgID")
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.With(h.rbac.RequireRole(rbac.RoleViewer, org)).Get("/{orgID}/members", h.members)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireCapability(rbac.CapAssignRoles, org))
		r.Post("/{orgID}/invite", h.invite)
		r.Put("/{orgID}/members/{userID}", h.assignRole)
		r.Delete("/{orgID}/members/{userID}", h.removeMember)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.Bind(r, &req, h.validator); err != nil {
		httpx.RespondError(w, err)
		return
	}
	org, err := h.service.Create(r.Context(), shared.SubjectFromContext(r.Context()), req)
	if err != nil {
		h.logger.Error("create organization", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, org)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.service.ListForUser(r.Context(), shared.SubjectFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"organizations": orgs})
}

func (h *Handler) members(w http.ResponseWriter, r *http.Request) {
	orgID := orgParam(r)
	members, err := h.service.Members(r.Context(), orgID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": members})
}

func (h *Handler) invite(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if err := httpx.Bind(r, &req, h.validator); err != nil {
		httpx.RespondError(w, err)
		return
	}
	orgID := orgParam(r)
	result, err := h.service.Invite(r.Context(), shared.SubjectFromContext(r.Context()), orgID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Status == InvitationPending {
		status = http.StatusAccepted
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
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
	orgID := orgParam(r)
	role, err := h.service.AssignRole(r.Context(), shared.SubjectFromContext(r.Context()), orgID, userID, req)
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
	orgID := orgParam(r)
	if err := h.service.RemoveMember(r.Context(), shared.SubjectFromContext(r.Context()), orgID, userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// orgParam reads the organization id already validated by the rbac middleware.
func orgParam(r *http.Request) uuid.UUID {
	id, _ := uuid.Parse(chi.URLParam(r, "orgID"))
	return id
}
