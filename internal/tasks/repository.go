package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/projecthub/projecthub/internal/platform/db"
	"github.com/projecthub/projecthub/internal/platform/httpx"
)

// Repository persists tasks.
type Repository interface {
	ProjectExists(ctx context.Context, projectID uuid.UUID) error
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id uuid.UUID) (*Task, error)
	List(ctx context.Context, filter ListFilter) ([]Task, error)
	ListAssigned(ctx context.Context, user uuid.UUID, limit, offset int) ([]Task, error)
	Update(ctx context.Context, t *Task) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	DueBetween(ctx context.Context, from, to time.Time) ([]Task, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	db db.DBTX
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(conn db.DBTX) *PGRepository {
	return &PGRepository{db: conn}
}

const taskColumns = `t.id, t.project_id, t.title, COALESCE(t.description, ''), t.status, t.priority,
	t.assignee_id, t.due_date, t.created_by, t.created_at, t.updated_at`

// live restricts rows to undeleted tasks of undeleted projects.
const live = `t.deleted_at IS NULL AND EXISTS (SELECT 1 FROM projects p WHERE p.id = t.project_id AND p.deleted_at IS NULL)`

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	var status, priority string
	var assignee uuid.NullUUID
	var due *time.Time
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &status, &priority,
		&assignee, &due, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.Status, t.Priority, t.DueDate = Status(status), Priority(priority), due
	if assignee.Valid {
		id := assignee.UUID
		t.AssigneeID = &id
	}
	return t, nil
}

func collect(rows pgx.Rows) ([]Task, error) {
	defer rows.Close()
	out := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullable(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// ProjectExists returns ErrNotFound for unknown or deleted projects.
func (r *PGRepository) ProjectExists(ctx context.Context, projectID uuid.UUID) error {
	var ok bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1 AND deleted_at IS NULL)`, projectID).Scan(&ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("project %w", httpx.ErrNotFound)
	}
	return nil
}

// Create inserts t and fills its generated fields.
func (r *PGRepository) Create(ctx context.Context, t *Task) error {
	err := r.db.QueryRow(ctx, `INSERT INTO tasks (project_id, title, description, status, priority, assignee_id, due_date, created_by)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		t.ProjectID, t.Title, t.Description, string(t.Status), string(t.Priority), nullable(t.AssigneeID), t.DueDate, t.CreatedBy).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("project or assignee %w", httpx.ErrNotFound)
	}
	return err
}

// Get fetches a live task.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	t, err := scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = $1 AND `+live, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("task %w", httpx.ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

// List returns the tasks of a project, newest first.
func (r *PGRepository) List(ctx context.Context, f ListFilter) ([]Task, error) {
	rows, err := r.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks t
		WHERE t.project_id = $1 AND `+live+`
			AND ($2::uuid IS NULL OR t.assignee_id = $2)
			AND ($3 = '' OR t.status = $3)
		ORDER BY t.created_at DESC
		LIMIT $4 OFFSET $5`,
		f.ProjectID, nullable(f.AssigneeID), string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ListAssigned returns a user's assigned tasks across projects, soonest due first.
func (r *PGRepository) ListAssigned(ctx context.Context, user uuid.UUID, limit, offset int) ([]Task, error) {
	rows, err := r.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks t
		WHERE t.assignee_id = $1 AND `+live+`
		ORDER BY t.due_date ASC NULLS LAST, t.created_at DESC
		LIMIT $2 OFFSET $3`, user, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Update writes the mutable fields of t.
func (r *PGRepository) Update(ctx context.Context, t *Task) error {
	err := r.db.QueryRow(ctx, `UPDATE tasks SET title = $2, description = NULLIF($3, ''), status = $4, priority = $5,
			assignee_id = $6, due_date = $7, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), nullable(t.AssigneeID), t.DueDate).Scan(&t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("task %w", httpx.ErrNotFound)
		}
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("assignee %w", httpx.ErrNotFound)
		}
		return err
	}
	return nil
}

// SoftDelete marks a task deleted.
func (r *PGRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE tasks SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %w", httpx.ErrNotFound)
	}
	return nil
}

// DueBetween returns assigned todo tasks due in [from, to).
func (r *PGRepository) DueBetween(ctx context.Context, from, to time.Time) ([]Task, error) {
	rows, err := r.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks t
		WHERE t.status = 'todo' AND t.assignee_id IS NOT NULL
			AND t.due_date >= $1 AND t.due_date < $2 AND `+live+`
		ORDER BY t.due_date`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

var _ Repository = (*PGRepository)(nil)
