package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/rbac"
	"github.com/projecthub/projecthub/internal/shared"
)

// Notifier tells users about task assignments.
type Notifier interface {
	TaskAssigned(ctx context.Context, assignee, taskID uuid.UUID, taskTitle string) error
}

// Service implements task operations. Every method loads its target before
// asking the guard, so unknown tasks and projects are reported as not found
// whatever the caller's role.
type Service struct {
	repo     Repository
	enforcer *rbac.Enforcer
	notifier Notifier
	logger   *slog.Logger
}

// NewService constructs a Service. notifier may be nil.
func NewService(repo Repository, enforcer *rbac.Enforcer, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, enforcer: enforcer, notifier: notifier, logger: logger}
}

// Create adds a task to a project.
func (s *Service) Create(ctx context.Context, actor uuid.UUID, req CreateRequest) (*Task, error) {
	if err := s.repo.ProjectExists(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	scope := rbac.ProjectScope(req.ProjectID)
	if _, err := s.enforcer.Authorize(ctx, actor, scope, rbac.CapCreateTask); err != nil {
		return nil, err
	}

	t := &Task{
		ProjectID:   req.ProjectID,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Status:      StatusTodo,
		Priority:    PriorityMedium,
		AssigneeID:  req.AssigneeID,
		DueDate:     req.DueDate,
		CreatedBy:   actor,
	}
	if t.Title == "" {
		return nil, fmt.Errorf("%w: title required", httpx.ErrValidation)
	}
	var err error
	if req.Status != "" {
		if t.Status, err = ParseStatus(req.Status); err != nil {
			return nil, err
		}
	}
	if req.Priority != "" {
		if t.Priority, err = ParsePriority(req.Priority); err != nil {
			return nil, err
		}
	}
	if t.AssigneeID != nil {
		if err := s.checkAssignee(ctx, scope, *t.AssigneeID); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.logger.Info("task created", slog.String("task_id", t.ID.String()), slog.String("project_id", t.ProjectID.String()))
	if t.AssigneeID != nil && *t.AssigneeID != actor {
		s.notifyAssigned(ctx, t)
	}
	return t, nil
}

// Get returns a task. Members may only read tasks assigned to them.
func (s *Service) Get(ctx context.Context, actor, id uuid.UUID) (*Task, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d := s.enforcer.Guard().RequireCapability(ctx, actor, rbac.ProjectScope(t.ProjectID), rbac.CapViewTask)
	if _, err := s.enforcer.Admit(ctx, actor, RestrictToAssignee(d, actor, t)); err != nil {
		return nil, err
	}
	return t, nil
}

// RestrictToAssignee narrows an allowed member decision to tasks assigned to
// subject. Comments and attachments go through it as well as the task itself.
func RestrictToAssignee(d rbac.Decision, subject uuid.UUID, t *Task) rbac.Decision {
	if d.Allowed && d.Role == rbac.RoleMember {
		return rbac.RequireOwner(d, subject, t.AssigneeID)
	}
	return d
}

// List returns the tasks of a project. Members only see tasks assigned to them.
func (s *Service) List(ctx context.Context, actor uuid.UUID, filter ListFilter) ([]Task, error) {
	if err := s.repo.ProjectExists(ctx, filter.ProjectID); err != nil {
		return nil, err
	}
	d, err := s.enforcer.AuthorizeRole(ctx, actor, rbac.ProjectScope(filter.ProjectID), rbac.RoleViewer)
	if err != nil {
		return nil, err
	}
	if d.Role == rbac.RoleMember {
		filter.AssigneeID = &actor
	}
	page := shared.NewPage(filter.Limit, filter.Offset)
	filter.Limit, filter.Offset = page.Limit, page.Offset
	return s.repo.List(ctx, filter)
}

// ListMine returns the caller's assigned tasks in projects where they can
// still view tasks.
func (s *Service) ListMine(ctx context.Context, actor uuid.UUID, page shared.Page) ([]Task, error) {
	if actor == uuid.Nil {
		return nil, rbac.ErrUnauthenticated
	}
	items, err := s.repo.ListAssigned(ctx, actor, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	visible := make(map[uuid.UUID]bool)
	out := make([]Task, 0, len(items))
	for _, t := range items {
		ok, seen := visible[t.ProjectID]
		if !seen {
			if ok, err = s.canView(ctx, actor, rbac.ProjectScope(t.ProjectID)); err != nil {
				return nil, err
			}
			visible[t.ProjectID] = ok
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// Update patches a task. Holders of edit_any_task may edit any task; holders
// of edit_own_task only tasks assigned to them. Changing the assignee also
// requires assign_task.
func (s *Service) Update(ctx context.Context, actor, id uuid.UUID, req UpdateRequest) (*Task, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	scope := rbac.ProjectScope(t.ProjectID)
	d := s.enforcer.Guard().RequireAnyCapability(ctx, actor, scope, rbac.CapEditAnyTask, rbac.CapEditOwnTask)
	if d.Capability == rbac.CapEditOwnTask {
		d = rbac.RequireOwner(d, actor, t.AssigneeID)
	}
	reassigned := req.AssigneeID != nil && !t.AssignedTo(*req.AssigneeID)
	if d.Allowed && reassigned && !s.enforcer.Guard().Catalog().Grants(d.Role, rbac.CapAssignTask) {
		return nil, fmt.Errorf("%w: reassigning requires %s", rbac.ErrForbidden, rbac.CapAssignTask)
	}
	if _, err := s.enforcer.Admit(ctx, actor, d); err != nil {
		return nil, err
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title required", httpx.ErrValidation)
		}
		t.Title = title
	}
	if req.Description != nil {
		t.Description = strings.TrimSpace(*req.Description)
	}
	if req.Status != nil {
		if t.Status, err = ParseStatus(*req.Status); err != nil {
			return nil, err
		}
	}
	if req.Priority != nil {
		if t.Priority, err = ParsePriority(*req.Priority); err != nil {
			return nil, err
		}
	}
	if req.DueDate != nil {
		t.DueDate = req.DueDate
	}
	if reassigned {
		if err := s.checkAssignee(ctx, scope, *req.AssigneeID); err != nil {
			return nil, err
		}
		assignee := *req.AssigneeID
		t.AssigneeID = &assignee
	}

	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if reassigned && *t.AssigneeID != actor {
		s.notifyAssigned(ctx, t)
	}
	return t, nil
}

// Delete soft deletes a task. Only project admins may delete.
func (s *Service) Delete(ctx context.Context, actor, id uuid.UUID) error {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.enforcer.AuthorizeRole(ctx, actor, rbac.ProjectScope(t.ProjectID), rbac.RoleAdmin); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	s.logger.Info("task deleted", slog.String("task_id", id.String()), slog.String("actor", actor.String()))
	return nil
}

// DueWithin returns assigned todo tasks due between now and now+window.
func (s *Service) DueWithin(ctx context.Context, now time.Time, window time.Duration) ([]Task, error) {
	return s.repo.DueBetween(ctx, now, now.Add(window))
}

func (s *Service) checkAssignee(ctx context.Context, scope rbac.Scope, assignee uuid.UUID) error {
	ok, err := s.canView(ctx, assignee, scope)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: assignee cannot access this project", httpx.ErrValidation)
	}
	return nil
}

// canView reports whether user may view tasks in scope. Lookup failures are
// returned rather than read as a denial.
func (s *Service) canView(ctx context.Context, user uuid.UUID, scope rbac.Scope) (bool, error) {
	d := s.enforcer.Guard().RequireCapability(ctx, user, scope, rbac.CapViewTask)
	switch d.Reason {
	case rbac.ReasonUnavailable, rbac.ReasonCanceled:
		return false, d.Err()
	}
	return d.Allowed, nil
}

func (s *Service) notifyAssigned(ctx context.Context, t *Task) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.TaskAssigned(ctx, *t.AssigneeID, t.ID, t.Title); err != nil {
		s.logger.Warn("assignment notification failed", slog.String("task_id", t.ID.String()), slog.Any("error", err))
	}
}
