package comments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/projecthub/projecthub/internal/platform/db"
	"github.com/projecthub/projecthub/internal/platform/httpx"
)

// Repository persists comments.
type Repository interface {
	Create(ctx context.Context, c *Comment) error
	Get(ctx context.Context, id uuid.UUID) (*Comment, error)
	ListByTask(ctx context.Context, taskID uuid.UUID, limit, offset int) ([]Comment, error)
	UpdateContent(ctx context.Context, c *Comment) error
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

const commentColumns = `id, task_id, author_id, content, mentions, created_at, updated_at`

func scanComment(row pgx.Row) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Content, &c.Mentions, &c.CreatedAt, &c.UpdatedAt)
	if c.Mentions == nil {
		c.Mentions = []uuid.UUID{}
	}
	return c, err
}

// Create inserts c.
func (r *PGRepository) Create(ctx context.Context, c *Comment) error {
	if c.Mentions == nil {
		c.Mentions = []uuid.UUID{}
	}
	err := r.db.QueryRow(ctx, `INSERT INTO comments (task_id, author_id, content, mentions)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		c.TaskID, c.AuthorID, c.Content, c.Mentions).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("task %w", httpx.ErrNotFound)
	}
	return err
}

// Get fetches a comment.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (*Comment, error) {
	c, err := scanComment(r.db.QueryRow(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("comment %w", httpx.ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

// ListByTask returns a task's comments, oldest first.
func (r *PGRepository) ListByTask(ctx context.Context, taskID uuid.UUID, limit, offset int) ([]Comment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+commentColumns+` FROM comments
		WHERE task_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`, taskID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateContent rewrites the content of c.
func (r *PGRepository) UpdateContent(ctx context.Context, c *Comment) error {
	err := r.db.QueryRow(ctx, `UPDATE comments SET content = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at`,
		c.ID, c.Content).Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("comment %w", httpx.ErrNotFound)
	}
	return err
}

// Delete removes a comment.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("comment %w", httpx.ErrNotFound)
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
