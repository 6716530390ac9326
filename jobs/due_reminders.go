package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/projecthub/projecthub/internal/auth"
	jobmetrics "github.com/projecthub/projecthub/internal/jobs"
	"github.com/projecthub/projecthub/internal/shared"
	"github.com/projecthub/projecthub/internal/tasks"
)

// ReminderWindow is how far ahead due dates are scanned.
const ReminderWindow = 24 * time.Hour

const reminderModule = "due_reminder"

// DueTaskSource lists open assigned tasks due in a window.
type DueTaskSource interface {
	DueWithin(ctx context.Context, now time.Time, window time.Duration) ([]tasks.Task, error)
}

// DueNotifier records the in-app reminder.
type DueNotifier interface {
	DueSoon(ctx context.Context, assignee, taskID uuid.UUID, taskTitle string, due time.Time) error
}

// UserDirectory resolves assignees to email recipients.
type UserDirectory interface {
	User(ctx context.Context, id uuid.UUID) (*auth.User, error)
}

// KeyStore records which reminders were already sent.
type KeyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// EmailEnqueuer queues outgoing mail.
type EmailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// DueRemindersJob notifies assignees about tasks due soon, once per task per day.
type DueRemindersJob struct {
	Tasks    DueTaskSource
	Notifier DueNotifier
	Users    UserDirectory
	Keys     KeyStore
	Email    EmailEnqueuer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewDueRemindersJob wires the reminder handler.
func NewDueRemindersJob(source DueTaskSource, notifier DueNotifier, users UserDirectory, keys KeyStore, email EmailEnqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *DueRemindersJob {
	return &DueRemindersJob{
		Tasks:    source,
		Notifier: notifier,
		Users:    users,
		Keys:     keys,
		Email:    email,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle runs one reminder scan.
func (j *DueRemindersJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Tasks == nil {
		return errors.New("due reminders: handler not configured")
	}
	tracker := j.Metrics.Track(TaskDueReminders)
	sent, err := j.Run(ctx)
	j.Metrics.AddReminders(sent)
	return tracker.End(err)
}

// Run sends reminders and reports how many were delivered. Failures on a
// single task are logged and do not stop the scan.
func (j *DueRemindersJob) Run(ctx context.Context) (int, error) {
	now := j.now()
	due, err := j.Tasks.DueWithin(ctx, now, ReminderWindow)
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}
	logger := j.logger().With(slog.String("job", TaskDueReminders))
	sent := 0
	for _, t := range due {
		if t.AssigneeID == nil || t.DueDate == nil {
			continue
		}
		key := fmt.Sprintf("%s:%s", t.ID, now.Format(time.DateOnly))
		if err := j.Keys.CheckAndInsert(ctx, key, reminderModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				continue
			}
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			logger.Warn("reminder key", slog.String("task_id", t.ID.String()), slog.Any("error", err))
			continue
		}
		if err := j.Notifier.DueSoon(ctx, *t.AssigneeID, t.ID, t.Title, *t.DueDate); err != nil {
			logger.Warn("reminder notification", slog.String("task_id", t.ID.String()), slog.Any("error", err))
		}
		j.email(ctx, logger, t)
		sent++
	}
	logger.Info("due reminders sent", slog.Int("count", sent), slog.Int("due", len(due)))
	return sent, nil
}

func (j *DueRemindersJob) email(ctx context.Context, logger *slog.Logger, t tasks.Task) {
	if j.Email == nil || j.Users == nil {
		return
	}
	user, err := j.Users.User(ctx, *t.AssigneeID)
	if err != nil {
		logger.Warn("reminder recipient", slog.String("user_id", t.AssigneeID.String()), slog.Any("error", err))
		return
	}
	payload := SendEmailPayload{
		To:      user.Email,
		Subject: fmt.Sprintf("Reminder: %q is due soon", t.Title),
		Body: fmt.Sprintf("Hi %s,\n\nThe task %q is due on %s.\n",
			user.DisplayName(), t.Title, t.DueDate.UTC().Format("Mon, 02 Jan 2006 15:04 MST")),
	}
	if _, err := j.Email.EnqueueSendEmail(ctx, payload); err != nil {
		logger.Warn("reminder email", slog.String("task_id", t.ID.String()), slog.Any("error", err))
	}
}

func (j *DueRemindersJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *DueRemindersJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
