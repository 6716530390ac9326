package rbac

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// DecisionObserver receives every decision the guard makes.
type DecisionObserver interface {
	ObserveDecision(check string, d Decision)
}

// Guard is the single decision point combining role resolution with the catalog.
type Guard struct {
	catalog  *Catalog
	resolver RoleResolver
	logger   *slog.Logger
	observer DecisionObserver
}

// GuardOption customises a Guard.
type GuardOption func(*Guard)

// WithLogger sets the logger used for decision records.
func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithObserver attaches a decision observer such as a metrics collector.
func WithObserver(observer DecisionObserver) GuardOption {
	return func(g *Guard) { g.observer = observer }
}

// NewGuard wires a guard over an immutable catalog and a resolver.
func NewGuard(catalog *Catalog, resolver RoleResolver, opts ...GuardOption) *Guard {
	g := &Guard{catalog: catalog, resolver: resolver, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Catalog exposes the catalog the guard evaluates against.
func (g *Guard) Catalog() *Catalog {
	return g.catalog
}

// RequireCapability allows when the subject's resolved role holds capability.
func (g *Guard) RequireCapability(ctx context.Context, subject uuid.UUID, scope Scope, capability Capability) Decision {
	return g.RequireAnyCapability(ctx, subject, scope, capability)
}

// RequireAnyCapability allows when the resolved role holds at least one of
// caps. The first granted capability, in argument order, is recorded on the
// decision so callers can apply refinements such as ownership.
func (g *Guard) RequireAnyCapability(ctx context.Context, subject uuid.UUID, scope Scope, caps ...Capability) Decision {
	role, d, ok := g.resolve(ctx, subject, scope)
	if ok {
		d = deny(role, ReasonMissingCapability)
		for _, capability := range caps {
			if g.catalog.Grants(role, capability) {
				d = allow(role, capability)
				break
			}
		}
	}
	g.record(ctx, "capability", subject, scope, slog.Any("capabilities", caps), d)
	return d
}

// RequireMinimumRole allows when the resolved role ranks at or above min.
func (g *Guard) RequireMinimumRole(ctx context.Context, subject uuid.UUID, scope Scope, min Role) Decision {
	role, d, ok := g.resolve(ctx, subject, scope)
	if ok {
		if role.AtLeast(min) {
			d = allow(role, "")
		} else {
			d = deny(role, ReasonInsufficientRole)
		}
	}
	g.record(ctx, "minimum_role", subject, scope, slog.String("minimum", min.String()), d)
	return d
}

// Capabilities answers "what can this subject do here". It is a display aid;
// operations are always re-checked at their boundary.
func (g *Guard) Capabilities(ctx context.Context, subject uuid.UUID, scope Scope) (Role, []Capability, error) {
	role, d, ok := g.resolve(ctx, subject, scope)
	if !ok && d.Reason != ReasonNoRole {
		return RoleNone, nil, d.Err()
	}
	return role, g.catalog.CapabilitiesOf(role), nil
}

// resolve returns ok=false with a final decision when no role-based
// evaluation is possible.
func (g *Guard) resolve(ctx context.Context, subject uuid.UUID, scope Scope) (Role, Decision, bool) {
	if subject == uuid.Nil {
		return RoleNone, deny(RoleNone, ReasonUnauthenticated), false
	}
	role, err := g.resolver.Resolve(ctx, subject, scope)
	if err != nil {
		if errors.Is(err, ErrLookupUnavailable) {
			return RoleNone, Decision{Reason: ReasonUnavailable, cause: err}, false
		}
		if IsCanceled(err) {
			return RoleNone, Decision{Reason: ReasonCanceled, cause: err}, false
		}
		return RoleNone, Decision{Reason: ReasonUnavailable, cause: errors.Join(ErrLookupUnavailable, err)}, false
	}
	if !role.Valid() {
		return RoleNone, deny(RoleNone, ReasonNoRole), false
	}
	return role, Decision{}, true
}

func (g *Guard) record(ctx context.Context, check string, subject uuid.UUID, scope Scope, requirement slog.Attr, d Decision) {
	if g.observer != nil {
		g.observer.ObserveDecision(check, d)
	}
	attrs := []slog.Attr{
		slog.String("check", check),
		slog.String("subject", subject.String()),
		slog.String("scope", scope.String()),
		requirement,
		slog.String("role", d.Role.String()),
		slog.String("reason", string(d.Reason)),
	}
	switch {
	case d.Allowed:
		g.logger.LogAttrs(ctx, slog.LevelDebug, "authz allow", attrs...)
	case d.Reason == ReasonUnavailable:
		attrs = append(attrs, slog.Any("error", d.cause))
		g.logger.LogAttrs(ctx, slog.LevelError, "authz lookup failed", attrs...)
	case d.Reason == ReasonCanceled:
		g.logger.LogAttrs(ctx, slog.LevelWarn, "authz canceled", attrs...)
	default:
		g.logger.LogAttrs(ctx, slog.LevelInfo, "authz deny", attrs...)
	}
}
