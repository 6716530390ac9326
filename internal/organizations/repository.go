package organizations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/projecthub/projecthub/internal/platform/db"
	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/rbac"
	"github.com/projecthub/projecthub/internal/shared"
)

// Repository persists organizations and exposes the binding store of the
// same connection.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, org *Organization) error
	Get(ctx context.Context, id uuid.UUID) (*Organization, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Organization, error)
	Members(ctx context.Context, orgID uuid.UUID) ([]Member, error)
	UserIDByEmail(ctx context.Context, email string) (uuid.UUID, error)
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

func (r *repository) Create(ctx context.Context, org *Organization) error {
	return r.db.QueryRow(ctx, `INSERT INTO organizations (name, created_by) VALUES ($1, $2) RETURNING id, created_at`,
		org.Name, org.CreatedBy).Scan(&org.ID, &org.CreatedAt)
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Organization, error) {
	var org Organization
	err := r.db.QueryRow(ctx, `SELECT id, name, created_by, created_at FROM organizations WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&org.ID, &org.Name, &org.CreatedBy, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("organization %w", httpx.ErrNotFound)
		}
		return nil, err
	}
	return &org, nil
}

func (r *repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]Organization, error) {
	rows, err := r.db.Query(ctx, `SELECT o.id, o.name, o.created_by, o.created_at
		FROM organizations o
		JOIN scope_bindings b ON b.scope_kind = 'organization' AND b.scope_id = o.id
		WHERE b.user_id = $1 AND o.deleted_at IS NULL
		ORDER BY o.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Organization, 0)
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.CreatedBy, &org.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func (r *repository) Members(ctx context.Context, orgID uuid.UUID) ([]Member, error) {
	rows, err := r.db.Query(ctx, `SELECT u.id, u.email, COALESCE(u.full_name, ''), b.role, b.created_at
		FROM scope_bindings b
		JOIN users u ON u.id = b.user_id
		WHERE b.scope_kind = 'organization' AND b.scope_id = $1
		ORDER BY u.email`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Member, 0)
	for rows.Next() {
		var m Member
		var role string
		if err := rows.Scan(&m.UserID, &m.Email, &m.FullName, &role, &m.JoinedAt); err != nil {
			return nil, err
		}
		if m.Role, err = rbac.ParseRole(role); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repository) UserIDByEmail(ctx context.Context, email string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM users WHERE lower(email) = $1 AND is_active`, strings.ToLower(strings.TrimSpace(email))).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("user %w", httpx.ErrNotFound)
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (r *repository) Bindings() rbac.BindingRepository {
	return rbac.NewRepository(r.db)
}

func (r *repository) Audit() rbac.AuditRecorder {
	return shared.NewAuditLogger(r.db)
}
