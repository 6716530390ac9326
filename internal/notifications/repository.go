package notifications

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

// Repository persists notifications.
type Repository interface {
	Insert(ctx context.Context, n *Notification) error
	ListForUser(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]Notification, error)
	Get(ctx context.Context, id uuid.UUID) (*Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	db db.DBTX
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(conn db.DBTX) *PGRepository {
	return &PGRepository{db: conn}
}

const columns = `id, user_id, type, title, message, COALESCE(link, ''), read, created_at`

func scan(row pgx.Row) (Notification, error) {
	var n Notification
	var typ string
	err := row.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &n.Link, &n.Read, &n.CreatedAt)
	n.Type = Type(typ)
	return n, err
}

// Insert stores n and fills its id and timestamp.
func (r *PGRepository) Insert(ctx context.Context, n *Notification) error {
	err := r.db.QueryRow(ctx, `INSERT INTO notifications (user_id, type, title, message, link)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING id, created_at`,
		n.UserID, string(n.Type), n.Title, n.Message, n.Link).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("notification recipient %w", httpx.ErrNotFound)
		}
		return err
	}
	return nil
}

// ListForUser returns the newest notifications of a user first.
func (r *PGRepository) ListForUser(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]Notification, error) {
	rows, err := r.db.Query(ctx, `SELECT `+columns+` FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR NOT read)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, userID, filter.UnreadOnly, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Notification, 0)
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Get fetches one notification.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := scan(r.db.QueryRow(ctx, `SELECT `+columns+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("notification %w", httpx.ErrNotFound)
		}
		return nil, err
	}
	return &n, nil
}

// MarkRead flags a notification as read.
func (r *PGRepository) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %w", httpx.ErrNotFound)
	}
	return nil
}

// DeleteReadBefore purges read notifications created before cutoff.
func (r *PGRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE read AND created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
