package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/projecthub/projecthub/internal/platform/db"
	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/rbac"
	"github.com/projecthub/projecthub/internal/shared"
)

// Repository persists projects.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, p *Project) error
	Get(ctx context.Context, id uuid.UUID) (*Project, error)
	ListVisible(ctx context.Context, subject uuid.UUID, page shared.Page) ([]Project, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	Members(ctx context.Context, projectID uuid.UUID) ([]Member, error)
	UserExists(ctx context.Context, id uuid.UUID) error
	TaskStats(ctx context.Context, projectID uuid.UUID, assignee *uuid.UUID) (TaskStats, error)
	Bindings() rbac.BindingRepository
	Audit() rbac.AuditRecorder
}

type repository struct {
	db   db.DBTX
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const projectColumns = `id, organization_id, name, COALESCE(description, ''), created_by, created_at, updated_at`

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Description, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *repository) Create(ctx context.Context, p *Project) error {
	err := r.db.QueryRow(ctx, `INSERT INTO projects (organization_id, name, description, created_by)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING id, created_at, updated_at`,
		p.OrganizationID, p.Name, p.Description, p.CreatedBy).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("organization %w", httpx.ErrNotFound)
		}
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("project name %w", httpx.ErrDuplicate)
		}
		return err
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Project, error) {
	p, err := scanProject(r.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project %w", httpx.ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) ListVisible(ctx context.Context, subject uuid.UUID, page shared.Page) ([]Project, error) {
	rows, err := r.db.Query(ctx, `SELECT `+projectColumns+` FROM projects p
		WHERE p.deleted_at IS NULL AND (
			EXISTS (SELECT 1 FROM scope_bindings b
				WHERE b.scope_kind = 'project' AND b.scope_id = p.id AND b.user_id = $1)
			OR EXISTS (SELECT 1 FROM team_bindings tb
				JOIN team_members tm ON tm.team_id = tb.team_id
				WHERE tb.scope_kind = 'project' AND tb.scope_id = p.id AND tm.user_id = $1))
		ORDER BY p.created_at DESC
		LIMIT $2 OFFSET $3`, subject, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE projects SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %w", httpx.ErrNotFound)
	}
	return nil
}

func (r *repository) Members(ctx context.Context, projectID uuid.UUID) ([]Member, error) {
	rows, err := r.db.Query(ctx, `SELECT u.id, u.email, COALESCE(u.full_name, ''), b.role
		FROM scope_bindings b
		JOIN users u ON u.id = b.user_id
		WHERE b.scope_kind = 'project' AND b.scope_id = $1
		ORDER BY u.email`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Member, 0)
	for rows.Next() {
		var m Member
		var role string
		if err := rows.Scan(&m.UserID, &m.Email, &m.FullName, &role); err != nil {
			return nil, err
		}
		if m.Role, err = rbac.ParseRole(role); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repository) UserExists(ctx context.Context, id uuid.UUID) error {
	var ok bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND is_active)`, id).Scan(&ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %w", httpx.ErrNotFound)
	}
	return nil
}

func (r *repository) TaskStats(ctx context.Context, projectID uuid.UUID, assignee *uuid.UUID) (TaskStats, error) {
	var filter uuid.NullUUID
	if assignee != nil {
		filter = uuid.NullUUID{UUID: *assignee, Valid: true}
	}
	var s TaskStats
	err := r.db.QueryRow(ctx, `SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'todo'),
			COUNT(*) FILTER (WHERE status = 'in_progress'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status <> 'completed' AND due_date < NOW())
		FROM tasks
		WHERE project_id = $1 AND deleted_at IS NULL
			AND ($2::uuid IS NULL OR assignee_id = $2)`, projectID, filter).
		Scan(&s.Total, &s.Todo, &s.InProgress, &s.Completed, &s.Overdue)
	return s, err
}

func (r *repository) Bindings() rbac.BindingRepository {
	return rbac.NewRepository(r.db)
}

func (r *repository) Audit() rbac.AuditRecorder {
	return shared.NewAuditLogger(r.db)
}
