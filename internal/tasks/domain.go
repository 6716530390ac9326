package tasks

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/platform/httpx"
)

// Status is the workflow state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Priority ranks task urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParseStatus validates a status received from a client.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusTodo, StatusInProgress, StatusCompleted:
		return Status(raw), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", httpx.ErrValidation, raw)
}

// ParsePriority validates a priority received from a client.
func ParsePriority(raw string) (Priority, error) {
	switch Priority(raw) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(raw), nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", httpx.ErrValidation, raw)
}

// Task is a unit of work inside a project.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	ProjectID   uuid.UUID  `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	AssigneeID  *uuid.UUID `json:"assignee_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedBy   uuid.UUID  `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AssignedTo reports whether user is the task's assignee.
func (t *Task) AssignedTo(user uuid.UUID) bool {
	return t.AssigneeID != nil && *t.AssigneeID == user
}

// CreateRequest is the payload for creating a task.
type CreateRequest struct {
	ProjectID   uuid.UUID  `json:"project_id" validate:"required"`
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=5000"`
	Status      string     `json:"status" validate:"omitempty,oneof=todo in_progress completed"`
	Priority    string     `json:"priority" validate:"omitempty,oneof=low medium high"`
	AssigneeID  *uuid.UUID `json:"assignee_id"`
	DueDate     *time.Time `json:"due_date"`
}

// UpdateRequest patches a task. Nil fields are left unchanged.
type UpdateRequest struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=5000"`
	Status      *string    `json:"status" validate:"omitempty,oneof=todo in_progress completed"`
	Priority    *string    `json:"priority" validate:"omitempty,oneof=low medium high"`
	AssigneeID  *uuid.UUID `json:"assignee_id"`
	DueDate     *time.Time `json:"due_date"`
}

// ListFilter narrows a project task listing.
type ListFilter struct {
	ProjectID  uuid.UUID
	AssigneeID *uuid.UUID
	Status     Status
	Limit      int
	Offset     int
}
