package teams

import (
	"time"

	"github.com/google/uuid"
)

// Team groups organization users so they can be granted project roles together.
type Team struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateRequest creates a team.
type CreateRequest struct {
	Name string `json:"name" validate:"required,min=2,max=120"`
}

// MemberRequest adds a user to a team.
type MemberRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

// ProjectRoleRequest grants a team a role in a project.
type ProjectRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin member viewer"`
}
