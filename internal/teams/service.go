package teams

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

// Audit actions recorded by the team service.
const (
	AuditCreate       = "team.create"
	AuditMemberAdd    = "team.member_add"
	AuditMemberRemove = "team.member_remove"
	AuditProjectGrant = "team.project_grant"
	AuditProjectDrop  = "team.project_revoke"
)

// Service implements team operations.
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

// Create adds a team to orgID. The caller must already hold manage_teams
// in the organization.
func (s *Service) Create(ctx context.Context, actor, orgID uuid.UUID, req CreateRequest) (*Team, error) {
	team := &Team{OrganizationID: orgID, Name: strings.TrimSpace(req.Name)}
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.Create(ctx, team); err != nil {
			return err
		}
		return repo.Audit().Record(ctx, auditEntry(actor, AuditCreate, team.ID, map[string]any{"name": team.Name}))
	})
	if err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	return team, nil
}

// List returns the teams of an organization.
func (s *Service) List(ctx context.Context, orgID uuid.UUID) ([]Team, error) {
	return s.repo.ListByOrganization(ctx, orgID)
}

// AddMember puts userID on the team.
func (s *Service) AddMember(ctx context.Context, actor, teamID, userID uuid.UUID) error {
	team, err := s.authorizeTeam(ctx, actor, teamID)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.Writer().AddTeamMember(ctx, team.ID, userID); err != nil {
			return err
		}
		return repo.Audit().Record(ctx, auditEntry(actor, AuditMemberAdd, team.ID, map[string]any{"subject": userID.String()}))
	})
}

// RemoveMember takes userID off the team.
func (s *Service) RemoveMember(ctx context.Context, actor, teamID, userID uuid.UUID) error {
	team, err := s.authorizeTeam(ctx, actor, teamID)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.Writer().RemoveTeamMember(ctx, team.ID, userID); err != nil {
			return err
		}
		return repo.Audit().Record(ctx, auditEntry(actor, AuditMemberRemove, team.ID, map[string]any{"subject": userID.String()}))
	})
}

// GrantProjectRole gives every team member role in the project. The project
// must belong to the team's organization.
func (s *Service) GrantProjectRole(ctx context.Context, actor, teamID, projectID uuid.UUID, req ProjectRoleRequest) (rbac.Role, error) {
	role, err := rbac.ParseRole(req.Role)
	if err != nil {
		return rbac.RoleNone, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	team, err := s.authorizeProject(ctx, actor, teamID, projectID)
	if err != nil {
		return rbac.RoleNone, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		prev, err := repo.Writer().BindTeam(ctx, rbac.TeamBinding{TeamID: team.ID, Scope: rbac.ProjectScope(projectID), Role: role})
		if err != nil {
			return err
		}
		return repo.Audit().Record(ctx, auditEntry(actor, AuditProjectGrant, team.ID, map[string]any{
			"project_id": projectID.String(),
			"from":       prev.String(),
			"to":         role.String(),
		}))
	})
	if err != nil {
		return rbac.RoleNone, fmt.Errorf("grant team project role: %w", err)
	}
	return role, nil
}

// RevokeProjectRole removes the team's role in the project.
func (s *Service) RevokeProjectRole(ctx context.Context, actor, teamID, projectID uuid.UUID) error {
	team, err := s.authorizeProject(ctx, actor, teamID, projectID)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		prev, err := repo.Writer().UnbindTeam(ctx, team.ID, rbac.ProjectScope(projectID))
		if err != nil {
			return err
		}
		if prev == rbac.RoleNone {
			return fmt.Errorf("team project role %w", httpx.ErrNotFound)
		}
		return repo.Audit().Record(ctx, auditEntry(actor, AuditProjectDrop, team.ID, map[string]any{
			"project_id": projectID.String(),
			"from":       prev.String(),
		}))
	})
	if err != nil {
		return fmt.Errorf("revoke team project role: %w", err)
	}
	return nil
}

func (s *Service) authorizeTeam(ctx context.Context, actor, teamID uuid.UUID) (*Team, error) {
	team, err := s.repo.Get(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if _, err := s.enforcer.Authorize(ctx, actor, rbac.OrganizationScope(team.OrganizationID), rbac.CapManageTeams); err != nil {
		return nil, err
	}
	return team, nil
}

func (s *Service) authorizeProject(ctx context.Context, actor, teamID, projectID uuid.UUID) (*Team, error) {
	team, err := s.repo.Get(ctx, teamID)
	if err != nil {
		return nil, err
	}
	orgID, err := s.repo.ProjectOrganization(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if orgID != team.OrganizationID {
		return nil, fmt.Errorf("%w: team and project belong to different organizations", httpx.ErrValidation)
	}
	if _, err := s.enforcer.Authorize(ctx, actor, rbac.ProjectScope(projectID), rbac.CapAssignRoles); err != nil {
		return nil, err
	}
	return team, nil
}

func auditEntry(actor uuid.UUID, action string, teamID uuid.UUID, meta map[string]any) shared.AuditLog {
	return shared.AuditLog{ActorID: actor, Action: action, Entity: "team", EntityID: teamID.String(), Meta: meta}
}
