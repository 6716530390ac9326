package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecthub/projecthub/internal/platform/httpx"
	"github.com/projecthub/projecthub/internal/rbac"
)

type countingObserver struct {
	hits map[rbac.Role]int
}

func (o *countingObserver) ObserveRateLimited(role rbac.Role) {
	if o.hits == nil {
		o.hits = make(map[rbac.Role]int)
	}
	o.hits[role]++
}

func newLimiter(t *testing.T, tiers Tiers) (*Limiter, *miniredis.Miniredis, *countingObserver) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	obs := &countingObserver{}
	l := New(client, tiers, time.Minute, nil, obs)
	fixed := time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	return l, mr, obs
}

func TestLimiterRejectsOverQuota(t *testing.T) {
	ctx := context.Background()
	l, _, obs := newLimiter(t, Tiers{rbac.RoleViewer: 2})
	subject := uuid.New()

	require.NoError(t, l.Allow(ctx, subject, rbac.RoleViewer))
	require.NoError(t, l.Allow(ctx, subject, rbac.RoleViewer))
	err := l.Allow(ctx, subject, rbac.RoleViewer)
	require.ErrorIs(t, err, httpx.ErrRateLimited)
	assert.Equal(t, 1, obs.hits[rbac.RoleViewer])

	remaining, limited, err := l.Remaining(ctx, subject, rbac.RoleViewer)
	require.NoError(t, err)
	assert.True(t, limited)
	assert.Zero(t, remaining)
}

func TestLimiterRemainingCountsDown(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLimiter(t, Tiers{rbac.RoleMember: 3})
	subject := uuid.New()

	remaining, limited, err := l.Remaining(ctx, subject, rbac.RoleMember)
	require.NoError(t, err)
	assert.True(t, limited)
	assert.Equal(t, 3, remaining)

	require.NoError(t, l.Allow(ctx, subject, rbac.RoleMember))
	remaining, _, err = l.Remaining(ctx, subject, rbac.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	_, limited, err = l.Remaining(ctx, subject, rbac.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, limited)
}

func TestLimiterKeysBySubjectAndRole(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLimiter(t, Tiers{rbac.RoleViewer: 1, rbac.RoleMember: 1})
	a, b := uuid.New(), uuid.New()

	require.NoError(t, l.Allow(ctx, a, rbac.RoleViewer))
	require.NoError(t, l.Allow(ctx, b, rbac.RoleViewer))
	require.NoError(t, l.Allow(ctx, a, rbac.RoleMember))
	assert.ErrorIs(t, l.Allow(ctx, a, rbac.RoleViewer), httpx.ErrRateLimited)
}

func TestLimiterWindowResets(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLimiter(t, Tiers{rbac.RoleAdmin: 1})
	subject := uuid.New()

	require.NoError(t, l.Allow(ctx, subject, rbac.RoleAdmin))
	require.ErrorIs(t, l.Allow(ctx, subject, rbac.RoleAdmin), httpx.ErrRateLimited)

	next := l.now().Add(time.Minute)
	l.now = func() time.Time { return next }
	assert.NoError(t, l.Allow(ctx, subject, rbac.RoleAdmin))
}

func TestLimiterSetsExpiry(t *testing.T) {
	ctx := context.Background()
	l, mr, _ := newLimiter(t, Tiers{rbac.RoleMember: 5})
	subject := uuid.New()

	require.NoError(t, l.Allow(ctx, subject, rbac.RoleMember))
	key := l.key(subject, rbac.RoleMember, l.now().Truncate(time.Minute))
	assert.Equal(t, time.Minute, mr.TTL(key))
}

func TestLimiterUntieredRoleIsUnlimited(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLimiter(t, Tiers{rbac.RoleAdmin: 1})
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(ctx, uuid.New(), rbac.RoleViewer))
	}
}

func TestLimiterFailsOpenWhenRedisDown(t *testing.T) {
	l, mr, _ := newLimiter(t, DefaultTiers())
	mr.Close()
	assert.NoError(t, l.Allow(context.Background(), uuid.New(), rbac.RoleViewer))
}

func TestDefaultTiersOrderedByRole(t *testing.T) {
	tiers := DefaultTiers()
	assert.Greater(t, tiers[rbac.RoleAdmin], tiers[rbac.RoleMember])
	assert.Greater(t, tiers[rbac.RoleMember], tiers[rbac.RoleViewer])
}
