package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/projecthub/projecthub/internal/platform/db"
	"github.com/projecthub/projecthub/internal/platform/httpx"
)

// Repository is the PostgreSQL implementation of the binding ports.
type Repository struct {
	db db.DBTX
}

// NewRepository builds a Repository over a pool or a transaction.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// DirectRole implements BindingStore.
func (r *Repository) DirectRole(ctx context.Context, subject uuid.UUID, scope Scope) (Role, error) {
	var raw string
	err := r.db.QueryRow(ctx, `SELECT role FROM scope_bindings WHERE user_id = $1 AND scope_kind = $2 AND scope_id = $3`,
		subject, string(scope.Kind), scope.ID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleNone, nil
		}
		return RoleNone, err
	}
	return storedRole(raw)
}

// TeamsOf implements TeamStore. Deleted teams grant nothing.
func (r *Repository) TeamsOf(ctx context.Context, subject uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT tm.team_id
		FROM team_members tm
		JOIN teams t ON t.id = tm.team_id
		WHERE tm.user_id = $1 AND t.deleted_at IS NULL
		ORDER BY tm.team_id`, subject)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// TeamRole implements TeamStore.
func (r *Repository) TeamRole(ctx context.Context, team uuid.UUID, scope Scope) (Role, error) {
	var raw string
	err := r.db.QueryRow(ctx, `SELECT role FROM team_bindings WHERE team_id = $1 AND scope_kind = $2 AND scope_id = $3`,
		team, string(scope.Kind), scope.ID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleNone, nil
		}
		return RoleNone, err
	}
	return storedRole(raw)
}

// ScopeExists implements ScopeLookup.
func (r *Repository) ScopeExists(ctx context.Context, scope Scope) error {
	var query string
	switch scope.Kind {
	case ScopeOrganization:
		query = `SELECT EXISTS (SELECT 1 FROM organizations WHERE id = $1 AND deleted_at IS NULL)`
	case ScopeProject:
		query = `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1 AND deleted_at IS NULL)`
	default:
		return ErrScopeNotFound
	}
	var exists bool
	if err := r.db.QueryRow(ctx, query, scope.ID).Scan(&exists); err != nil {
		return fmt.Errorf("%w: scope lookup: %w", ErrLookupUnavailable, err)
	}
	if !exists {
		return ErrScopeNotFound
	}
	return nil
}

// Bind implements BindingWriter as an upsert returning the previous role.
func (r *Repository) Bind(ctx context.Context, b Binding) (Role, error) {
	if !b.Role.Valid() {
		return RoleNone, fmt.Errorf("%w: invalid role", httpx.ErrValidation)
	}
	var prev pgtype.Text
	err := r.db.QueryRow(ctx, `
		WITH prev AS (
			SELECT role FROM scope_bindings
			WHERE user_id = $1 AND scope_kind = $2 AND scope_id = $3
			FOR UPDATE
		)
		INSERT INTO scope_bindings (user_id, scope_kind, scope_id, role, granted_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, scope_kind, scope_id)
		DO UPDATE SET role = EXCLUDED.role, granted_by = EXCLUDED.granted_by, updated_at = NOW()
		RETURNING (SELECT role FROM prev)`,
		b.SubjectID, string(b.Scope.Kind), b.Scope.ID, b.Role.String(), nullUUID(b.GrantedBy)).Scan(&prev)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return RoleNone, fmt.Errorf("bind role: user %w", httpx.ErrNotFound)
		}
		return RoleNone, fmt.Errorf("bind role: %w", err)
	}
	if !prev.Valid {
		return RoleNone, nil
	}
	return storedRole(prev.String)
}

// Unbind implements BindingWriter.
func (r *Repository) Unbind(ctx context.Context, subject uuid.UUID, scope Scope) (Role, error) {
	var raw string
	err := r.db.QueryRow(ctx, `DELETE FROM scope_bindings WHERE user_id = $1 AND scope_kind = $2 AND scope_id = $3 RETURNING role`,
		subject, string(scope.Kind), scope.ID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleNone, nil
		}
		return RoleNone, fmt.Errorf("unbind role: %w", err)
	}
	return storedRole(raw)
}

// UnbindScope implements BindingWriter; used when a scope is deleted.
func (r *Repository) UnbindScope(ctx context.Context, scope Scope) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM scope_bindings WHERE scope_kind = $1 AND scope_id = $2`, string(scope.Kind), scope.ID); err != nil {
		return fmt.Errorf("unbind scope: %w", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM team_bindings WHERE scope_kind = $1 AND scope_id = $2`, string(scope.Kind), scope.ID); err != nil {
		return fmt.Errorf("unbind scope teams: %w", err)
	}
	return nil
}

// LockAdmins implements BindingWriter. Rows are locked in id order so two
// demotions in one scope cannot deadlock.
func (r *Repository) LockAdmins(ctx context.Context, scope Scope) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id
		FROM scope_bindings
		WHERE scope_kind = $1 AND scope_id = $2 AND role = 'admin'
		ORDER BY user_id
		FOR UPDATE`, string(scope.Kind), scope.ID)
	if err != nil {
		return nil, fmt.Errorf("lock admins: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// AddTeamMember implements TeamWriter.
func (r *Repository) AddTeamMember(ctx context.Context, team, user uuid.UUID) error {
	_, err := r.db.Exec(ctx, `INSERT INTO team_members (team_id, user_id) VALUES ($1, $2)`, team, user)
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err):
		return fmt.Errorf("team member: %w", httpx.ErrDuplicate)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("team member: user %w", httpx.ErrNotFound)
	default:
		return fmt.Errorf("add team member: %w", err)
	}
}

// RemoveTeamMember implements TeamWriter.
func (r *Repository) RemoveTeamMember(ctx context.Context, team, user uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, team, user)
	if err != nil {
		return fmt.Errorf("remove team member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("team member: %w", httpx.ErrNotFound)
	}
	return nil
}

// BindTeam implements TeamWriter.
func (r *Repository) BindTeam(ctx context.Context, tb TeamBinding) (Role, error) {
	if !tb.Role.Valid() {
		return RoleNone, fmt.Errorf("%w: invalid role", httpx.ErrValidation)
	}
	var prev pgtype.Text
	err := r.db.QueryRow(ctx, `
		WITH prev AS (
			SELECT role FROM team_bindings
			WHERE team_id = $1 AND scope_kind = $2 AND scope_id = $3
			FOR UPDATE
		)
		INSERT INTO team_bindings (team_id, scope_kind, scope_id, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (team_id, scope_kind, scope_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING (SELECT role FROM prev)`,
		tb.TeamID, string(tb.Scope.Kind), tb.Scope.ID, tb.Role.String()).Scan(&prev)
	if err != nil {
		return RoleNone, fmt.Errorf("bind team role: %w", err)
	}
	if !prev.Valid {
		return RoleNone, nil
	}
	return storedRole(prev.String)
}

// UnbindTeam implements TeamWriter.
func (r *Repository) UnbindTeam(ctx context.Context, team uuid.UUID, scope Scope) (Role, error) {
	var raw string
	err := r.db.QueryRow(ctx, `DELETE FROM team_bindings WHERE team_id = $1 AND scope_kind = $2 AND scope_id = $3 RETURNING role`,
		team, string(scope.Kind), scope.ID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleNone, nil
		}
		return RoleNone, fmt.Errorf("unbind team role: %w", err)
	}
	return storedRole(raw)
}

func storedRole(raw string) (Role, error) {
	role, err := ParseRole(raw)
	if err != nil {
		return RoleNone, fmt.Errorf("rbac: stored binding: %w", err)
	}
	return role, nil
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

var (
	_ BindingStore  = (*Repository)(nil)
	_ TeamStore     = (*Repository)(nil)
	_ BindingWriter = (*Repository)(nil)
	_ TeamWriter    = (*Repository)(nil)
	_ ScopeLookup   = (*Repository)(nil)
)
