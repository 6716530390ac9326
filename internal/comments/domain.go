package comments

import (
	"time"

	"github.com/google/uuid"
)

// Comment is a message on a task.
type Comment struct {
	ID        uuid.UUID   `json:"id"`
	TaskID    uuid.UUID   `json:"task_id"`
	AuthorID  uuid.UUID   `json:"author_id"`
	Content   string      `json:"content"`
	Mentions  []uuid.UUID `json:"mentions"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// CreateRequest posts a comment.
type CreateRequest struct {
	TaskID   uuid.UUID   `json:"task_id" validate:"required"`
	Content  string      `json:"content" validate:"required,max=10000"`
	Mentions []uuid.UUID `json:"mentions" validate:"max=50"`
}

// UpdateRequest edits the content of a comment.
type UpdateRequest struct {
	Content string `json:"content" validate:"required,max=10000"`
}
