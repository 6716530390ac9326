package notifications

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification.
type Type string

const (
	TypeTaskAssigned Type = "task_assigned"
	TypeMention      Type = "mention"
	TypeInvitation   Type = "invitation"
	TypeDueReminder  Type = "due_reminder"
)

// Notification is an in-app message addressed to one user.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// ListFilter narrows a user's notification listing.
type ListFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}
