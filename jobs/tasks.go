package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeAccountLocked is enqueued when an account crosses the failed
	// login threshold.
	TaskTypeAccountLocked = "account:locked"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// AccountLockedPayload identifies the locked account and the lock expiry.
type AccountLockedPayload struct {
	AccountID   string    `json:"account_id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	LockedUntil time.Time `json:"locked_until"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewAccountLockedTask constructs the lockout notification task. The task id
// is derived from the account and lock expiry so one lock yields one task.
func NewAccountLockedTask(payload AccountLockedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAccountLocked, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.TaskID(accountLockedTaskID(payload)),
	), nil
}

func accountLockedTaskID(payload AccountLockedPayload) string {
	return TaskTypeAccountLocked + ":" + payload.AccountID + ":" + payload.LockedUntil.UTC().Format("20060102T150405Z")
}
