package files

import (
	"io"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxBytes caps a single upload.
const DefaultMaxBytes int64 = 10 << 20

// File is an attachment stored against a task.
type File struct {
	ID          uuid.UUID `json:"id"`
	TaskID      uuid.UUID `json:"task_id"`
	UploadedBy  uuid.UUID `json:"uploaded_by"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"file_size"`
	ContentType string    `json:"file_type"`
	StoragePath string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Upload carries one incoming attachment. Size is the declared size; the
// stored byte count is checked again while copying.
type Upload struct {
	TaskID   uuid.UUID
	Filename string
	Size     int64
	Content  io.Reader
}
