package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// BindingStore reads direct role bindings. DirectRole returns RoleNone when
// the subject has no binding in scope.
type BindingStore interface {
	DirectRole(ctx context.Context, subject uuid.UUID, scope Scope) (Role, error)
}

// TeamStore reads team membership and team role bindings. TeamRole returns
// RoleNone when the team holds no role in scope.
type TeamStore interface {
	TeamsOf(ctx context.Context, subject uuid.UUID) ([]uuid.UUID, error)
	TeamRole(ctx context.Context, team uuid.UUID, scope Scope) (Role, error)
}

// RoleResolver computes a subject's effective role in a scope.
type RoleResolver interface {
	Resolve(ctx context.Context, subject uuid.UUID, scope Scope) (Role, error)
}

const defaultTeamFanout = 8

// Resolver resolves roles with direct bindings taking precedence over team
// bindings. Among team bindings the highest-ranked role wins.
type Resolver struct {
	bindings BindingStore
	teams    TeamStore
	fanout   int
}

// NewResolver builds a Resolver. teams may be nil to disable team bindings.
func NewResolver(bindings BindingStore, teams TeamStore) *Resolver {
	return &Resolver{bindings: bindings, teams: teams, fanout: defaultTeamFanout}
}

// Resolve returns the effective role or RoleNone. Store failures wrap
// ErrLookupUnavailable; a cancelled ctx yields the context error instead.
func (r *Resolver) Resolve(ctx context.Context, subject uuid.UUID, scope Scope) (Role, error) {
	if err := ctx.Err(); err != nil {
		return RoleNone, fmt.Errorf("rbac: resolve role: %w", err)
	}

	direct, err := r.bindings.DirectRole(ctx, subject, scope)
	if err != nil {
		return RoleNone, lookupFailure(ctx, "direct binding", err)
	}
	if direct.Valid() {
		return direct, nil
	}
	if r.teams == nil {
		return RoleNone, nil
	}

	teams, err := r.teams.TeamsOf(ctx, subject)
	if err != nil {
		return RoleNone, lookupFailure(ctx, "team membership", err)
	}
	if len(teams) == 0 {
		return RoleNone, nil
	}

	roles := make([]Role, len(teams))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fanout)
	for i, team := range teams {
		g.Go(func() error {
			role, err := r.teams.TeamRole(gctx, team, scope)
			if err != nil {
				return err
			}
			roles[i] = role
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RoleNone, lookupFailure(ctx, "team binding", err)
	}
	return Highest(roles...), nil
}

func lookupFailure(ctx context.Context, what string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("rbac: resolve %s: %w", what, ctxErr)
	}
	return fmt.Errorf("%w: %s: %w", ErrLookupUnavailable, what, err)
}

// IsCanceled reports whether err stems from the caller's context ending.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
