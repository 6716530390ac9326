package rbac

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Limiter throttles authorized callers by subject and resolved role. Allow
// returns an error wrapping httpx.ErrRateLimited when the caller is over quota.
type Limiter interface {
	Allow(ctx context.Context, subject uuid.UUID, role Role) error
}

// Enforcer applies the boundary contract on top of the guard: deny and
// unavailable decisions become errors, and allowed callers are throttled.
// Resource lookup (404) must already have happened.
type Enforcer struct {
	guard   *Guard
	limiter Limiter
	logger  *slog.Logger
}

// NewEnforcer builds an Enforcer. limiter may be nil.
func NewEnforcer(guard *Guard, limiter Limiter, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{guard: guard, limiter: limiter, logger: logger}
}

// Guard returns the underlying guard.
func (e *Enforcer) Guard() *Guard {
	return e.guard
}

// Authorize requires capability in scope.
func (e *Enforcer) Authorize(ctx context.Context, subject uuid.UUID, scope Scope, capability Capability) (Decision, error) {
	return e.finish(ctx, subject, e.guard.RequireCapability(ctx, subject, scope, capability))
}

// AuthorizeAny requires at least one of caps in scope; see Guard.RequireAnyCapability.
func (e *Enforcer) AuthorizeAny(ctx context.Context, subject uuid.UUID, scope Scope, caps ...Capability) (Decision, error) {
	return e.finish(ctx, subject, e.guard.RequireAnyCapability(ctx, subject, scope, caps...))
}

// AuthorizeRole requires a role ranked at least min in scope.
func (e *Enforcer) AuthorizeRole(ctx context.Context, subject uuid.UUID, scope Scope, min Role) (Decision, error) {
	return e.finish(ctx, subject, e.guard.RequireMinimumRole(ctx, subject, scope, min))
}

// Admit finishes a decision the caller refined itself, for example with
// RequireOwner: denials become errors and allowed callers are throttled.
func (e *Enforcer) Admit(ctx context.Context, subject uuid.UUID, d Decision) (Decision, error) {
	return e.finish(ctx, subject, d)
}

func (e *Enforcer) finish(ctx context.Context, subject uuid.UUID, d Decision) (Decision, error) {
	if err := d.Err(); err != nil {
		return d, err
	}
	if e.limiter == nil {
		return d, nil
	}
	if err := e.limiter.Allow(ctx, subject, d.Role); err != nil {
		return d, err
	}
	return d, nil
}
