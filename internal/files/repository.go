package files

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/projecthub/projecthub/internal/platform/db"
	"github.com/projecthub/projecthub/internal/platform/httpx"
)

// Repository persists file metadata.
type Repository interface {
	Create(ctx context.Context, f *File) error
	Get(ctx context.Context, id uuid.UUID) (*File, error)
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]File, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	db db.DBTX
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(conn db.DBTX) *PGRepository {
	return &PGRepository{db: conn}
}

const fileColumns = `id, task_id, uploaded_by, filename, file_size, file_type, storage_path, created_at`

func scanFile(row pgx.Row) (File, error) {
	var f File
	err := row.Scan(&f.ID, &f.TaskID, &f.UploadedBy, &f.Filename, &f.Size, &f.ContentType, &f.StoragePath, &f.CreatedAt)
	return f, err
}

// Create inserts f.
func (r *PGRepository) Create(ctx context.Context, f *File) error {
	err := r.db.QueryRow(ctx, `INSERT INTO files (task_id, uploaded_by, filename, file_size, file_type, storage_path)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		f.TaskID, f.UploadedBy, f.Filename, f.Size, f.ContentType, f.StoragePath).Scan(&f.ID, &f.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("task %w", httpx.ErrNotFound)
	}
	return err
}

// Get fetches file metadata.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (*File, error) {
	f, err := scanFile(r.db.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("file %w", httpx.ErrNotFound)
		}
		return nil, err
	}
	return &f, nil
}

// ListByTask returns a task's attachments, newest first.
func (r *PGRepository) ListByTask(ctx context.Context, taskID uuid.UUID) ([]File, error) {
	rows, err := r.db.Query(ctx, `SELECT `+fileColumns+` FROM files WHERE task_id = $1 ORDER BY created_at DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Delete removes file metadata.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file %w", httpx.ErrNotFound)
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
