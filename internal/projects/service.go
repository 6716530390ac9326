package projects

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/rbac"
	"github.com/projecthub/projecthub/internal/shared"
)

// Audit actions recorded by the project service.
const (
	AuditCreate = "project.create"
	AuditDelete = "project.delete"
)

// Service implements project operations.
type Service struct {
	repo     Repository
	enforcer *rbac.Enforcer
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, enforcer *rbac.Enforcer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, enforcer: enforcer, logger: logger}
}

// Create inserts a project into orgID and binds the creator as project admin
// in the same transaction. The caller must already hold create_project in
// the organization.
func (s *Service) Create(ctx context.Context, actor, orgID uuid.UUID, req CreateRequest) (*Project, error) {
	p := &Project{
		OrganizationID: orgID,
		Name:           strings.TrimSpace(req.Name),
		Description:    strings.TrimSpace(req.Description),
		CreatedBy:      actor,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.Create(ctx, p); err != nil {
			return err
		}
		scope := rbac.ProjectScope(p.ID)
		if _, err := rbac.NewAssigner(repo.Bindings(), repo.Audit()).Grant(ctx, actor, scope, actor, rbac.RoleAdmin); err != nil {
			return fmt.Errorf("bootstrap project admin: %w", err)
		}
		return repo.Audit().Record(ctx, shared.AuditLog{
			ActorID:  actor,
			Action:   AuditCreate,
			Entity:   string(rbac.ScopeProject),
			EntityID: p.ID.String(),
			Meta:     map[string]any{"organization_id": orgID.String(), "name": p.Name},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	s.logger.Info("project created", slog.String("project_id", p.ID.String()), slog.String("actor", actor.String()))
	return p, nil
}

// Get returns a live project.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Project, error) {
	return s.repo.Get(ctx, id)
}

// List returns projects the caller can see through a direct or team binding.
func (s *Service) List(ctx context.Context, subject uuid.UUID, page shared.Page) ([]Project, error) {
	return s.repo.ListVisible(ctx, subject, page)
}

// Delete soft deletes a project and drops every binding scoped to it.
// Deletion is an organization-level capability.
func (s *Service) Delete(ctx context.Context, actor, id uuid.UUID) error {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.enforcer.Authorize(ctx, actor, rbac.OrganizationScope(p.OrganizationID), rbac.CapDeleteProject); err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.SoftDelete(ctx, id); err != nil {
			return err
		}
		if err := repo.Bindings().UnbindScope(ctx, rbac.ProjectScope(id)); err != nil {
			return fmt.Errorf("drop project bindings: %w", err)
		}
		return repo.Audit().Record(ctx, shared.AuditLog{
			ActorID:  actor,
			Action:   AuditDelete,
			Entity:   string(rbac.ScopeProject),
			EntityID: id.String(),
			Meta:     map[string]any{"organization_id": p.OrganizationID.String()},
		})
	})
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	s.logger.Info("project deleted", slog.String("project_id", id.String()), slog.String("actor", actor.String()))
	return nil
}

// Analytics returns task statistics. Callers with full analytics see every
// task; callers with limited analytics only their own.
func (s *Service) Analytics(ctx context.Context, actor, id uuid.UUID) (*Analytics, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	d, err := s.enforcer.AuthorizeAny(ctx, actor, rbac.ProjectScope(id), rbac.CapViewFullAnalytics, rbac.CapViewLimitedAnalytics)
	if err != nil {
		return nil, err
	}
	out := &Analytics{ProjectID: id, Scope: AnalyticsFull}
	var assignee *uuid.UUID
	if d.Capability != rbac.CapViewFullAnalytics {
		out.Scope = AnalyticsLimited
		assignee = &actor
	}
	if out.Tasks, err = s.repo.TaskStats(ctx, id, assignee); err != nil {
		return nil, fmt.Errorf("project analytics: %w", err)
	}
	return out, nil
}

// Members lists the direct members of a project.
func (s *Service) Members(ctx context.Context, id uuid.UUID) ([]Member, error) {
	return s.repo.Members(ctx, id)
}

// AssignMember grants or changes a user's project role. The caller must
// already hold assign_roles in the project.
func (s *Service) AssignMember(ctx context.Context, actor, projectID, userID uuid.UUID, req RoleRequest) (rbac.Role, error) {
	role, err := rbac.ParseRole(req.Role)
	if err != nil {
		return rbac.RoleNone, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	if err := s.repo.UserExists(ctx, userID); err != nil {
		return rbac.RoleNone, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		_, err := rbac.NewAssigner(repo.Bindings(), repo.Audit()).Grant(ctx, actor, rbac.ProjectScope(projectID), userID, role)
		return err
	})
	if err != nil {
		return rbac.RoleNone, fmt.Errorf("assign project role: %w", err)
	}
	return role, nil
}

// RemoveMember revokes a user's direct project role.
func (s *Service) RemoveMember(ctx context.Context, actor, projectID, userID uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		_, err := rbac.NewAssigner(repo.Bindings(), repo.Audit()).Revoke(ctx, actor, rbac.ProjectScope(projectID), userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("remove project member: %w", err)
	}
	return nil
}
