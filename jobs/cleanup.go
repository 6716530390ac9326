package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/projecthub/projecthub/internal/jobs"
)

// IdempotencyRetention bounds how long reminder keys are kept.
const IdempotencyRetention = 7 * 24 * time.Hour

// NotificationPurger removes read notifications past retention.
type NotificationPurger interface {
	Cleanup(ctx context.Context) (int64, error)
}

// KeyPurger removes stale idempotency keys.
type KeyPurger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupJob runs the daily retention sweep.
type CleanupJob struct {
	Notifications NotificationPurger
	Keys          KeyPurger
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
}

// Handle purges read notifications and expired reminder keys.
func (j *CleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Notifications == nil {
		return errors.New("cleanup: handler not configured")
	}
	tracker := j.Metrics.Track(TaskNotificationsCleanup)
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}

	removed, err := j.Notifications.Cleanup(ctx)
	if err != nil {
		logger.Error("purge notifications", slog.Any("error", err))
		return tracker.End(fmt.Errorf("purge notifications: %w", err))
	}
	j.Metrics.AddPurged("notifications", removed)

	var keys int64
	if j.Keys != nil {
		keys, err = j.Keys.Cleanup(ctx, IdempotencyRetention)
		if err != nil {
			logger.Error("purge idempotency keys", slog.Any("error", err))
			return tracker.End(fmt.Errorf("purge idempotency keys: %w", err))
		}
		j.Metrics.AddPurged("idempotency_keys", keys)
	}
	logger.Info("retention sweep", slog.Int64("notifications", removed), slog.Int64("idempotency_keys", keys))
	return tracker.End(nil)
}
