package projects

import (
	"time"

	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/rbac"
)

// Project belongs to an organization and owns tasks.
type Project struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	CreatedBy      uuid.UUID `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Member is a user directly bound to a project.
type Member struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     rbac.Role `json:"role"`
}

// TaskStats aggregates the task counts of a project.
type TaskStats struct {
	Total      int `json:"total"`
	Todo       int `json:"todo"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Overdue    int `json:"overdue"`
}

// Analytics scopes.
const (
	AnalyticsFull    = "full"
	AnalyticsLimited = "limited"
)

// Analytics is the project dashboard payload. Limited analytics only count
// the caller's own tasks.
type Analytics struct {
	ProjectID uuid.UUID `json:"project_id"`
	Scope     string    `json:"scope"`
	Tasks     TaskStats `json:"tasks"`
}

// CreateRequest is the payload for creating a project.
type CreateRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=160"`
	Description string `json:"description" validate:"max=2000"`
}

// RoleRequest assigns a project role.
type RoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin member viewer"`
}
