package comments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/auth"
	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/rbac"
	"github.com/projecthub/projecthub/internal/shared"
	"github.com/projecthub/projecthub/internal/tasks"
)

// TaskReader loads the task a comment belongs to.
type TaskReader interface {
	Get(ctx context.Context, id uuid.UUID) (*tasks.Task, error)
}

// Users resolves comment authors for notification copy.
type Users interface {
	User(ctx context.Context, id uuid.UUID) (*auth.User, error)
}

// Notifier tells users they were mentioned.
type Notifier interface {
	Mentioned(ctx context.Context, user, taskID uuid.UUID, mentioner, taskTitle string) error
}

// Service implements comment operations.
type Service struct {
	repo     Repository
	tasks    TaskReader
	users    Users
	enforcer *rbac.Enforcer
	notifier Notifier
	logger   *slog.Logger
}

// NewService constructs a Service. users and notifier may be nil.
func NewService(repo Repository, taskReader TaskReader, users Users, enforcer *rbac.Enforcer, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tasks: taskReader, users: users, enforcer: enforcer, notifier: notifier, logger: logger}
}

// Create posts a comment on a task and notifies mentioned users who can
// see the task.
func (s *Service) Create(ctx context.Context, actor uuid.UUID, req CreateRequest) (*Comment, error) {
	task, err := s.tasks.Get(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	scope := rbac.ProjectScope(task.ProjectID)
	d := s.enforcer.Guard().RequireCapability(ctx, actor, scope, rbac.CapCreateComment)
	if _, err := s.enforcer.Admit(ctx, actor, tasks.RestrictToAssignee(d, actor, task)); err != nil {
		return nil, err
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content required", httpx.ErrValidation)
	}
	mentions, err := s.mentionable(ctx, actor, task, req.Mentions)
	if err != nil {
		return nil, err
	}

	c := &Comment{TaskID: task.ID, AuthorID: actor, Content: content, Mentions: mentions}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	s.notifyMentions(ctx, actor, task, mentions)
	return c, nil
}

// List returns the comments of a task the caller can see.
func (s *Service) List(ctx context.Context, actor, taskID uuid.UUID, page shared.Page) ([]Comment, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	d := s.enforcer.Guard().RequireCapability(ctx, actor, rbac.ProjectScope(task.ProjectID), rbac.CapViewTask)
	if _, err := s.enforcer.Admit(ctx, actor, tasks.RestrictToAssignee(d, actor, task)); err != nil {
		return nil, err
	}
	return s.repo.ListByTask(ctx, taskID, page.Limit, page.Offset)
}

// Update edits a comment. Only its author may edit it.
func (s *Service) Update(ctx context.Context, actor, id uuid.UUID, req UpdateRequest) (*Comment, error) {
	c, task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	d := s.enforcer.Guard().RequireCapability(ctx, actor, rbac.ProjectScope(task.ProjectID), rbac.CapEditOwnComment)
	d = tasks.RestrictToAssignee(d, actor, task)
	if _, err := s.enforcer.Admit(ctx, actor, rbac.RequireOwner(d, actor, &c.AuthorID)); err != nil {
		return nil, err
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content required", httpx.ErrValidation)
	}
	c.Content = content
	if err := s.repo.UpdateContent(ctx, c); err != nil {
		return nil, fmt.Errorf("update comment: %w", err)
	}
	return c, nil
}

// Delete removes a comment. Holders of delete_any_comment may remove any
// comment; authors may remove their own.
func (s *Service) Delete(ctx context.Context, actor, id uuid.UUID) error {
	c, task, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	d := s.enforcer.Guard().RequireAnyCapability(ctx, actor, rbac.ProjectScope(task.ProjectID), rbac.CapDeleteAnyComment, rbac.CapEditOwnComment)
	if d.Capability == rbac.CapEditOwnComment {
		d = rbac.RequireOwner(tasks.RestrictToAssignee(d, actor, task), actor, &c.AuthorID)
	}
	if _, err := s.enforcer.Admit(ctx, actor, d); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Comment, *tasks.Task, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	task, err := s.tasks.Get(ctx, c.TaskID)
	if err != nil {
		return nil, nil, err
	}
	return c, task, nil
}

// mentionable dedupes mentions and keeps users other than the author who
// can view the task.
func (s *Service) mentionable(ctx context.Context, actor uuid.UUID, task *tasks.Task, mentions []uuid.UUID) ([]uuid.UUID, error) {
	scope := rbac.ProjectScope(task.ProjectID)
	seen := make(map[uuid.UUID]struct{}, len(mentions))
	out := make([]uuid.UUID, 0, len(mentions))
	for _, user := range mentions {
		if user == actor || user == uuid.Nil {
			continue
		}
		if _, dup := seen[user]; dup {
			continue
		}
		seen[user] = struct{}{}
		d := tasks.RestrictToAssignee(s.enforcer.Guard().RequireCapability(ctx, user, scope, rbac.CapViewTask), user, task)
		switch {
		case d.Allowed:
			out = append(out, user)
		case d.Reason == rbac.ReasonUnavailable || d.Reason == rbac.ReasonCanceled:
			return nil, d.Err()
		}
	}
	return out, nil
}

func (s *Service) notifyMentions(ctx context.Context, actor uuid.UUID, task *tasks.Task, mentions []uuid.UUID) {
	if s.notifier == nil || len(mentions) == 0 {
		return
	}
	name := "Someone"
	if s.users != nil {
		if u, err := s.users.User(ctx, actor); err == nil {
			name = u.DisplayName()
		}
	}
	for _, user := range mentions {
		if err := s.notifier.Mentioned(ctx, user, task.ID, name, task.Title); err != nil {
			s.logger.Warn("mention notification failed", slog.String("user_id", user.String()), slog.Any("error", err))
		}
	}
}
