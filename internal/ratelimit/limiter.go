// Package ratelimit throttles authorized callers per subject and role tier
// using a redis fixed window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/rbac"
)

// Tiers maps a role to the number of requests allowed per window.
type Tiers map[rbac.Role]int

// DefaultTiers returns the production quotas per minute.
func DefaultTiers() Tiers {
	return Tiers{
		rbac.RoleAdmin:  1000,
		rbac.RoleMember: 500,
		rbac.RoleViewer: 200,
	}
}

// Observer is notified of every rejected request.
type Observer interface {
	ObserveRateLimited(role rbac.Role)
}

// Limiter implements rbac.Limiter.
type Limiter struct {
	client   *redis.Client
	tiers    Tiers
	window   time.Duration
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// New builds a Limiter. A zero window defaults to one minute.
func New(client *redis.Client, tiers Tiers, window time.Duration, logger *slog.Logger, observer Observer) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		client:   client,
		tiers:    tiers,
		window:   window,
		logger:   logger,
		observer: observer,
		now:      time.Now,
	}
}

// Allow counts one request for subject under role. Roles without a tier are
// not throttled. Redis failures are logged and the request is allowed.
func (l *Limiter) Allow(ctx context.Context, subject uuid.UUID, role rbac.Role) error {
	limit, ok := l.tiers[role]
	if !ok || limit <= 0 {
		return nil
	}
	windowStart := l.now().Truncate(l.window)
	key := l.key(subject, role, windowStart)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, l.window)
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		l.logger.Warn("rate limit check failed, allowing request",
			slog.String("subject", subject.String()),
			slog.String("role", role.String()),
			slog.Any("error", err))
		return nil
	}
	if count := incr.Val(); count > int64(limit) {
		if l.observer != nil {
			l.observer.ObserveRateLimited(role)
		}
		return fmt.Errorf("%w: %d requests per %s for role %s", httpx.ErrRateLimited, limit, l.window, role)
	}
	return nil
}

// Remaining reports how many requests subject may still issue under role in
// the current window. limited is false for roles without a tier.
func (l *Limiter) Remaining(ctx context.Context, subject uuid.UUID, role rbac.Role) (remaining int, limited bool, err error) {
	limit, ok := l.tiers[role]
	if !ok || limit <= 0 {
		return 0, false, nil
	}
	used, err := l.client.Get(ctx, l.key(subject, role, l.now().Truncate(l.window))).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, true, err
	}
	return max(limit-used, 0), true, nil
}

func (l *Limiter) key(subject uuid.UUID, role rbac.Role, windowStart time.Time) string {
	return "ratelimit:" + subject.String() + ":" + role.String() + ":" + strconv.FormatInt(windowStart.Unix(), 10)
}

var (
	_ rbac.Limiter       = (*Limiter)(nil)
	_ rbac.QuotaReporter = (*Limiter)(nil)
)
