package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/shared"
)

// ScopeFunc extracts the target scope from a request.
type ScopeFunc func(r *http.Request) (Scope, error)

// OrganizationParam reads an organization id from a chi URL parameter.
func OrganizationParam(param string) ScopeFunc {
	return func(r *http.Request) (Scope, error) {
		id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, param)))
		if err != nil {
			return Scope{}, fmt.Errorf("%w: invalid organization id", httpx.ErrValidation)
		}
		return OrganizationScope(id), nil
	}
}

// ProjectParam reads a project id from a chi URL parameter.
func ProjectParam(param string) ScopeFunc {
	return func(r *http.Request) (Scope, error) {
		id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, param)))
		if err != nil {
			return Scope{}, fmt.Errorf("%w: invalid project id", httpx.ErrValidation)
		}
		return ProjectScope(id), nil
	}
}

// RateLimitRemainingHeader reports the caller's remaining requests in the
// current rate limit window.
const RateLimitRemainingHeader = "X-RateLimit-Remaining"

// QuotaReporter reads the request budget left for a subject under role.
type QuotaReporter interface {
	Remaining(ctx context.Context, subject uuid.UUID, role Role) (remaining int, limited bool, err error)
}

// Middleware enforces authorization for routes whose scope is a URL parameter.
// Quota is optional.
type Middleware struct {
	Enforcer *Enforcer
	Scopes   ScopeLookup
	Quota    QuotaReporter
	Logger   *slog.Logger
}

type decisionContextKey struct{}

// DecisionFromContext returns the decision recorded by RequireCapability or
// RequireRole for the current request.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(Decision)
	return d, ok
}

// RequireIdentity rejects requests without an authenticated session user.
func (m Middleware) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.SubjectFromContext(r.Context()) == uuid.Nil {
			httpx.RespondError(w, ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCapability authorizes capability in the scope named by scopeOf.
func (m Middleware) RequireCapability(capability Capability, scopeOf ScopeFunc) func(http.Handler) http.Handler {
	return m.require(scopeOf, func(ctx context.Context, subject uuid.UUID, scope Scope) (Decision, error) {
		return m.Enforcer.Authorize(ctx, subject, scope, capability)
	})
}

// RequireRole authorizes a minimum role in the scope named by scopeOf.
func (m Middleware) RequireRole(min Role, scopeOf ScopeFunc) func(http.Handler) http.Handler {
	return m.require(scopeOf, func(ctx context.Context, subject uuid.UUID, scope Scope) (Decision, error) {
		return m.Enforcer.AuthorizeRole(ctx, subject, scope, min)
	})
}

type authorizeFunc func(ctx context.Context, subject uuid.UUID, scope Scope) (Decision, error)

func (m Middleware) require(scopeOf ScopeFunc, authorize authorizeFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			subject := shared.SubjectFromContext(ctx)
			if subject == uuid.Nil {
				httpx.RespondError(w, ErrUnauthenticated)
				return
			}
			scope, err := scopeOf(r)
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			if m.Scopes != nil {
				if err := m.Scopes.ScopeExists(ctx, scope); err != nil {
					m.logFailure(r, "rbac scope lookup", err)
					httpx.RespondError(w, err)
					return
				}
			}
			d, err := authorize(ctx, subject, scope)
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			m.reportQuota(w, r, subject, d.Role)
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, decisionContextKey{}, d)))
		})
	}
}

func (m Middleware) reportQuota(w http.ResponseWriter, r *http.Request, subject uuid.UUID, role Role) {
	if m.Quota == nil {
		return
	}
	remaining, limited, err := m.Quota.Remaining(r.Context(), subject, role)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Warn("rate limit quota", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		return
	}
	if limited {
		w.Header().Set(RateLimitRemainingHeader, strconv.Itoa(remaining))
	}
}

func (m Middleware) logFailure(r *http.Request, msg string, err error) {
	if m.Logger == nil || !errors.Is(err, ErrLookupUnavailable) {
		return
	}
	m.Logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
}
