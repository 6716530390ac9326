package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/shared"
)

// Retention is how long read notifications are kept.
const Retention = 30 * 24 * time.Hour

// Service creates and serves user notifications.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Notify stores n for its recipient.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if n.UserID == uuid.Nil {
		return fmt.Errorf("%w: notification recipient required", httpx.ErrValidation)
	}
	if err := s.repo.Insert(ctx, &n); err != nil {
		return fmt.Errorf("notify %s: %w", n.Type, err)
	}
	s.logger.Debug("notification stored", slog.String("type", string(n.Type)), slog.String("user_id", n.UserID.String()))
	return nil
}

// TaskAssigned tells assignee about a task handed to them.
func (s *Service) TaskAssigned(ctx context.Context, assignee, taskID uuid.UUID, taskTitle string) error {
	return s.Notify(ctx, Notification{
		UserID:  assignee,
		Type:    TypeTaskAssigned,
		Title:   "New task assigned",
		Message: fmt.Sprintf("You have been assigned to %q", taskTitle),
		Link:    taskLink(taskID),
	})
}

// Mentioned tells user they were mentioned in a comment.
func (s *Service) Mentioned(ctx context.Context, user, taskID uuid.UUID, mentioner, taskTitle string) error {
	return s.Notify(ctx, Notification{
		UserID:  user,
		Type:    TypeMention,
		Title:   "You were mentioned",
		Message: fmt.Sprintf("%s mentioned you in %q", mentioner, taskTitle),
		Link:    taskLink(taskID),
	})
}

// Invited tells user they were added to an organization.
func (s *Service) Invited(ctx context.Context, user, orgID uuid.UUID, orgName, role string) error {
	return s.Notify(ctx, Notification{
		UserID:  user,
		Type:    TypeInvitation,
		Title:   "Organization invitation",
		Message: fmt.Sprintf("You have been added to %s as %s", orgName, cases.Title(language.English).String(role)),
		Link:    "/organizations/" + orgID.String(),
	})
}

// DueSoon reminds assignee that a task is due.
func (s *Service) DueSoon(ctx context.Context, assignee, taskID uuid.UUID, taskTitle string, due time.Time) error {
	return s.Notify(ctx, Notification{
		UserID:  assignee,
		Type:    TypeDueReminder,
		Title:   "Task due soon",
		Message: fmt.Sprintf("%q is due %s", taskTitle, due.UTC().Format("Mon Jan 2 15:04 MST")),
		Link:    taskLink(taskID),
	})
}

// List returns the caller's notifications.
func (s *Service) List(ctx context.Context, subject uuid.UUID, unreadOnly bool, page shared.Page) ([]Notification, error) {
	return s.repo.ListForUser(ctx, subject, ListFilter{UnreadOnly: unreadOnly, Limit: page.Limit, Offset: page.Offset})
}

// MarkRead marks one of the caller's notifications as read. Notifications of
// other users are reported as not found.
func (s *Service) MarkRead(ctx context.Context, subject, id uuid.UUID) error {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.UserID != subject {
		return fmt.Errorf("notification %w", httpx.ErrNotFound)
	}
	if n.Read {
		return nil
	}
	return s.repo.MarkRead(ctx, id)
}

// Cleanup deletes read notifications past the retention window.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-Retention)
	deleted, err := s.repo.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup notifications: %w", err)
	}
	s.logger.Info("notifications cleaned up", slog.Int64("deleted", deleted), slog.Time("cutoff", cutoff))
	return deleted, nil
}

func taskLink(taskID uuid.UUID) string {
	return "/tasks/" + taskID.String()
}
