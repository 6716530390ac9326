package tasks

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/shared"
)

// Handler exposes task endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers task routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/mine", h.mine)
	r.Get("/{taskID}", h.get)
	r.Patch("/{taskID}", h.update)
	r.Delete("/{taskID}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID, err := uuid.Parse(q.Get("project_id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: project_id required", httpx.ErrValidation))
		return
	}
	filter := ListFilter{ProjectID: projectID}
	if raw := q.Get("status"); raw != "" {
		if filter.Status, err = ParseStatus(raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	page := shared.PageFromRequest(r)
	filter.Limit, filter.Offset = page.Limit, page.Offset

	items, err := h.service.List(r.Context(), shared.SubjectFromContext(r.Context()), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tasks": items})
}

func (h *Handler) mine(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListMine(r.Context(), shared.SubjectFromContext(r.Context()), shared.PageFromRequest(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tasks": items})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.Bind(r, &req, h.validator); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Create(r.Context(), shared.SubjectFromContext(r.Context()), req)
	if err != nil {
		h.logger.Debug("create task rejected", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	t, err := h.service.Get(r.Context(), shared.SubjectFromContext(r.Context()), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := httpx.Bind(r, &req, h.validator); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Update(r.Context(), shared.SubjectFromContext(r.Context()), id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), shared.SubjectFromContext(r.Context()), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return uuid.Nil, false
	}
	return id, true
}
