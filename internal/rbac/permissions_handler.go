package rbac

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/shared"
)

// PermissionsHandler answers the capability query for the calling user.
type PermissionsHandler struct {
	logger *slog.Logger
	guard  *Guard
	scopes ScopeLookup
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, guard *Guard, scopes ScopeLookup) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, guard: guard, scopes: scopes}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.capabilities)
}

type capabilitiesResponse struct {
	Scope        ScopeKind    `json:"scope"`
	ID           uuid.UUID    `json:"id"`
	Role         Role         `json:"role"`
	Capabilities []Capability `json:"capabilities"`
}

func (h *PermissionsHandler) capabilities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := shared.SubjectFromContext(ctx)
	if subject == uuid.Nil {
		httpx.RespondError(w, ErrUnauthenticated)
		return
	}
	query := r.URL.Query()
	kind, err := ParseScopeKind(query.Get("scope"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	id, err := uuid.Parse(query.Get("id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	scope := Scope{Kind: kind, ID: id}
	if err := h.scopes.ScopeExists(ctx, scope); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, caps, err := h.guard.Capabilities(ctx, subject, scope)
	if err != nil {
		h.logger.Warn("capability query", slog.String("scope", scope.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if caps == nil {
		caps = []Capability{}
	}
	httpx.JSON(w, http.StatusOK, capabilitiesResponse{Scope: kind, ID: id, Role: role, Capabilities: caps})
}
