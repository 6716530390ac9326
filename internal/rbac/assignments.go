package rbac

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/shared"
)

// Audit actions recorded for binding changes.
const (
	AuditRoleGrant  = "role.grant"
	AuditRoleChange = "role.change"
	AuditRoleRevoke = "role.revoke"
)

// ErrLastAdmin rejects changes that would leave a scope without an admin.
var ErrLastAdmin = fmt.Errorf("%w: scope must keep at least one admin", httpx.ErrValidation)

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// BindingRepository reads and writes direct bindings.
type BindingRepository interface {
	BindingStore
	BindingWriter
}

// Assigner applies direct binding changes in one scope and audits each of
// them. Callers authorize the actor before invoking it; build one per
// transaction so the change and its audit entry commit together.
type Assigner struct {
	bindings BindingRepository
	audit    AuditRecorder
}

// NewAssigner builds an Assigner. audit may be nil.
func NewAssigner(bindings BindingRepository, audit AuditRecorder) *Assigner {
	return &Assigner{bindings: bindings, audit: audit}
}

// Grant binds subject to role in scope, replacing any previous direct role.
func (a *Assigner) Grant(ctx context.Context, actor uuid.UUID, scope Scope, subject uuid.UUID, role Role) (Role, error) {
	prev, err := a.bindings.DirectRole(ctx, subject, scope)
	if err != nil {
		return RoleNone, err
	}
	if prev == RoleAdmin && role != RoleAdmin {
		if err := a.ensureOtherAdmin(ctx, scope, subject); err != nil {
			return RoleNone, err
		}
	}
	if _, err := a.bindings.Bind(ctx, Binding{SubjectID: subject, Scope: scope, Role: role, GrantedBy: actor}); err != nil {
		return RoleNone, err
	}
	action := AuditRoleGrant
	if prev.Valid() {
		action = AuditRoleChange
	}
	if err := a.record(ctx, actor, action, scope, subject, prev, role); err != nil {
		return RoleNone, err
	}
	return prev, nil
}

// Change updates the role of an existing direct binding.
func (a *Assigner) Change(ctx context.Context, actor uuid.UUID, scope Scope, subject uuid.UUID, role Role) (Role, error) {
	prev, err := a.bindings.DirectRole(ctx, subject, scope)
	if err != nil {
		return RoleNone, err
	}
	if !prev.Valid() {
		return RoleNone, fmt.Errorf("member %w", httpx.ErrNotFound)
	}
	return a.Grant(ctx, actor, scope, subject, role)
}

// Revoke removes the direct binding of subject in scope.
func (a *Assigner) Revoke(ctx context.Context, actor uuid.UUID, scope Scope, subject uuid.UUID) (Role, error) {
	prev, err := a.bindings.DirectRole(ctx, subject, scope)
	if err != nil {
		return RoleNone, err
	}
	if !prev.Valid() {
		return RoleNone, fmt.Errorf("member %w", httpx.ErrNotFound)
	}
	if prev == RoleAdmin {
		if err := a.ensureOtherAdmin(ctx, scope, subject); err != nil {
			return RoleNone, err
		}
	}
	if _, err := a.bindings.Unbind(ctx, subject, scope); err != nil {
		return RoleNone, err
	}
	if err := a.record(ctx, actor, AuditRoleRevoke, scope, subject, prev, RoleNone); err != nil {
		return RoleNone, err
	}
	return prev, nil
}

// ensureOtherAdmin holds the scope's admin rows until the transaction ends;
// a concurrent demotion in the same scope waits and then sees this one.
func (a *Assigner) ensureOtherAdmin(ctx context.Context, scope Scope, subject uuid.UUID) error {
	admins, err := a.bindings.LockAdmins(ctx, scope)
	if err != nil {
		return err
	}
	for _, id := range admins {
		if id != subject {
			return nil
		}
	}
	return ErrLastAdmin
}

func (a *Assigner) record(ctx context.Context, actor uuid.UUID, action string, scope Scope, subject uuid.UUID, from, to Role) error {
	if a.audit == nil {
		return nil
	}
	return a.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   string(scope.Kind),
		EntityID: scope.ID.String(),
		Meta: map[string]any{
			"subject": subject.String(),
			"from":    from.String(),
			"to":      to.String(),
		},
	})
}
