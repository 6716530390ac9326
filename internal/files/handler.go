package files

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/shared"
)

// multipartMemory is the in-memory share of a parsed upload; the rest
// spills to temporary files.
const multipartMemory = 1 << 20

// Handler exposes attachment endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers /files routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/upload", h.upload)
	r.Delete("/{fileID}", h.delete)
}

// MountTaskRoutes registers attachment listing under /tasks.
func (h *Handler) MountTaskRoutes(r chi.Router) {
	r.Get("/{taskID}/files", h.list)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.service.MaxBytes()+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.RespondError(w, ErrTooLarge)
			return
		}
		httpx.RespondError(w, fmt.Errorf("%w: multipart form required", httpx.ErrValidation))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	taskID, err := uuid.Parse(r.FormValue("task_id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: file and task_id required", httpx.ErrValidation))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: file and task_id required", httpx.ErrValidation))
		return
	}
	defer func() {
		_ = file.Close()
	}()

	f, err := h.service.Upload(r.Context(), shared.SubjectFromContext(r.Context()), Upload{
		TaskID:   taskID,
		Filename: header.Filename,
		Size:     header.Size,
		Content:  file,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, f)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	items, err := h.service.List(r.Context(), shared.SubjectFromContext(r.Context()), taskID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"files": items})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "fileID"))
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
