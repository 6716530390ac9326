package organizations

import (
	"time"

	"github.com/google/uuid"

	"github.com/projecthub/projecthub/internal/rbac"
)

// Organization owns projects and teams.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedBy uuid.UUID `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is a user directly bound to an organization.
type Member struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     rbac.Role `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Invitation statuses.
const (
	InvitationAdded   = "added"
	InvitationPending = "pending"
)

// InvitationResult reports the outcome of an invite.
type InvitationResult struct {
	Email  string     `json:"email"`
	Role   rbac.Role  `json:"role"`
	UserID *uuid.UUID `json:"user_id,omitempty"`
	Status string     `json:"status"`
}

// CreateRequest is the payload for creating an organization.
type CreateRequest struct {
	Name string `json:"name" validate:"required,min=2,max=120"`
}

// InviteRequest is the payload for inviting a member by email.
type InviteRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=admin member viewer"`
}

// RoleRequest changes a member's role.
type RoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin member viewer"`
}
