package organizations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/rbac"
	"github.com/projecthub/projecthub/internal/shared"
)

// AuditCreate is recorded when an organization is created.
const AuditCreate = "organization.create"

// Notifier delivers in-app invitation notices.
type Notifier interface {
	Invited(ctx context.Context, user, orgID uuid.UUID, orgName, role string) error
}

// InvitationMailer queues invitation emails.
type InvitationMailer interface {
	SendInvitation(ctx context.Context, email, orgName, role string) error
}

// Service implements organization membership operations. Authorization of
// the caller happens at the route boundary before these methods run.
type Service struct {
	repo     Repository
	notifier Notifier
	mailer   InvitationMailer
	logger   *slog.Logger
}

// NewService constructs a Service. notifier and mailer may be nil.
func NewService(repo Repository, notifier Notifier, mailer InvitationMailer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, notifier: notifier, mailer: mailer, logger: logger}
}

// Create inserts an organization and binds the creator as its admin in the
// same transaction.
func (s *Service) Create(ctx context.Context, actor uuid.UUID, req CreateRequest) (*Organization, error) {
	if actor == uuid.Nil {
		return nil, rbac.ErrUnauthenticated
	}
	org := &Organization{Name: strings.TrimSpace(req.Name), CreatedBy: actor}
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.Create(ctx, org); err != nil {
			return fmt.Errorf("insert organization: %w", err)
		}
		scope := rbac.OrganizationScope(org.ID)
		if _, err := rbac.NewAssigner(repo.Bindings(), repo.Audit()).Grant(ctx, actor, scope, actor, rbac.RoleAdmin); err != nil {
			return fmt.Errorf("bootstrap organization admin: %w", err)
		}
		return repo.Audit().Record(ctx, shared.AuditLog{
			ActorID:  actor,
			Action:   AuditCreate,
			Entity:   string(rbac.ScopeOrganization),
			EntityID: org.ID.String(),
			Meta:     map[string]any{"name": org.Name},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create organization: %w", err)
	}
	s.logger.Info("organization created", slog.String("organization_id", org.ID.String()), slog.String("actor", actor.String()))
	return org, nil
}

// ListForUser returns the organizations the caller is a member of.
func (s *Service) ListForUser(ctx context.Context, subject uuid.UUID) ([]Organization, error) {
	return s.repo.ListForUser(ctx, subject)
}

// Members lists the direct members of an organization.
func (s *Service) Members(ctx context.Context, orgID uuid.UUID) ([]Member, error) {
	return s.repo.Members(ctx, orgID)
}

// Invite adds an existing user to the organization, or queues an invitation
// email for an address without an account.
func (s *Service) Invite(ctx context.Context, actor, orgID uuid.UUID, req InviteRequest) (*InvitationResult, error) {
	role, err := rbac.ParseRole(req.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	org, err := s.repo.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	result := &InvitationResult{Email: email, Role: role, Status: InvitationPending}

	userID, err := s.repo.UserIDByEmail(ctx, email)
	switch {
	case errors.Is(err, httpx.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("lookup invitee: %w", err)
	default:
		scope := rbac.OrganizationScope(orgID)
		err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			current, err := repo.Bindings().DirectRole(ctx, userID, scope)
			if err != nil {
				return err
			}
			if current != rbac.RoleNone {
				return fmt.Errorf("organization member %w", httpx.ErrDuplicate)
			}
			_, err = rbac.NewAssigner(repo.Bindings(), repo.Audit()).Grant(ctx, actor, scope, userID, role)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("invite member: %w", err)
		}
		result.UserID = &userID
		result.Status = InvitationAdded
		if s.notifier != nil {
			if err := s.notifier.Invited(ctx, userID, orgID, org.Name, role.String()); err != nil {
				s.logger.Warn("invitation notification failed", slog.Any("error", err))
			}
		}
	}

	if s.mailer != nil {
		if err := s.mailer.SendInvitation(ctx, email, org.Name, role.String()); err != nil {
			s.logger.Warn("invitation email not queued", slog.String("email", email), slog.Any("error", err))
		}
	}
	s.logger.Info("organization invitation", slog.String("organization_id", orgID.String()), slog.String("status", result.Status))
	return result, nil
}

// AssignRole changes the role of an existing member.
func (s *Service) AssignRole(ctx context.Context, actor, orgID, userID uuid.UUID, req RoleRequest) (rbac.Role, error) {
	role, err := rbac.ParseRole(req.Role)
	if err != nil {
		return rbac.RoleNone, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		_, err := rbac.NewAssigner(repo.Bindings(), repo.Audit()).Change(ctx, actor, rbac.OrganizationScope(orgID), userID, role)
		return err
	})
	if err != nil {
		return rbac.RoleNone, fmt.Errorf("assign organization role: %w", err)
	}
	return role, nil
}

// RemoveMember revokes a member's organization role.
func (s *Service) RemoveMember(ctx context.Context, actor, orgID, userID uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		_, err := rbac.NewAssigner(repo.Bindings(), repo.Audit()).Revoke(ctx, actor, rbac.OrganizationScope(orgID), userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("remove organization member: %w", err)
	}
	return nil
}
