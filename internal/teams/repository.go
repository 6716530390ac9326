package teams

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

// Repository persists teams.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, t *Team) error
	Get(ctx context.Context, id uuid.UUID) (*Team, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]Team, error)
	ProjectOrganization(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error)
	Writer() rbac.TeamWriter
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

func (r *repository) Create(ctx context.Context, t *Team) error {
	err := r.db.QueryRow(ctx, `INSERT INTO teams (organization_id, name) VALUES ($1, $2) RETURNING id, created_at`,
		t.OrganizationID, t.Name).Scan(&t.ID, &t.CreatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("team name %w", httpx.ErrDuplicate)
	}
	return err
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Team, error) {
	var t Team
	err := r.db.QueryRow(ctx, `SELECT id, organization_id, name, created_at FROM teams WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&t.ID, &t.OrganizationID, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("team %w", httpx.ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

func (r *repository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]Team, error) {
	rows, err := r.db.Query(ctx, `SELECT id, organization_id, name, created_at FROM teams
		WHERE organization_id = $1 AND deleted_at IS NULL ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Team, 0)
	for rows.Next() {
		var t Team
		if err := rows.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repository) ProjectOrganization(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	var orgID uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT organization_id FROM projects WHERE id = $1 AND deleted_at IS NULL`, projectID).Scan(&orgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("project %w", httpx.ErrNotFound)
		}
		return uuid.Nil, err
	}
	return orgID, nil
}

func (r *repository) Writer() rbac.TeamWriter {
	return rbac.NewRepository(r.db)
}

func (r *repository) Audit() rbac.AuditRecorder {
	return shared.NewAuditLogger(r.db)
}
