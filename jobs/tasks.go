package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskDueReminders scans for tasks due within the reminder window.
	TaskDueReminders = "tasks:due_reminders"
	// TaskNotificationsCleanup purges read notifications past retention.
	TaskNotificationsCleanup = "notifications:cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewDueRemindersTask constructs the periodic reminder scan.
func NewDueRemindersTask() *asynq.Task {
	return asynq.NewTask(TaskDueReminders, nil)
}

// NewNotificationsCleanupTask constructs the periodic retention sweep.
func NewNotificationsCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskNotificationsCleanup, nil)
}
