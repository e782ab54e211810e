package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-accounts/internal/jobs"
	"github.com/odyssey-erp/odyssey-accounts/internal/users"
)

// Enqueuer is the subset of *asynq.Client used to submit tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// LockoutNotifier enqueues an account:locked task for every tripped lock.
type LockoutNotifier struct {
	queue Enqueuer
}

// NewLockoutNotifier constructs a notifier backed by the queue.
func NewLockoutNotifier(queue Enqueuer) *LockoutNotifier {
	return &LockoutNotifier{queue: queue}
}

// AccountLocked submits the notification. A task already queued for the same
// lock is not an error.
func (n *LockoutNotifier) AccountLocked(ctx context.Context, account users.Account, until time.Time) error {
	task, err := NewAccountLockedTask(AccountLockedPayload{
		AccountID:   account.ID,
		Email:       account.Email,
		Name:        account.Name,
		LockedUntil: until,
	})
	if err != nil {
		return err
	}
	if _, err := n.queue.EnqueueContext(ctx, task); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue %s: %w", TaskTypeAccountLocked, err)
	}
	return nil
}

// AccountLockedJob turns a lockout into a mail:send task addressed to the
// account owner.
type AccountLockedJob struct {
	queue   Enqueuer
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewAccountLockedJob constructs the handler.
func NewAccountLockedJob(queue Enqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AccountLockedJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountLockedJob{queue: queue, logger: logger, metrics: metrics}
}

// Handle processes TaskTypeAccountLocked tasks.
func (j *AccountLockedJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.metrics.Track(TaskTypeAccountLocked)
	defer func() { err = tracker.End(err) }()

	var payload AccountLockedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Email == "" {
		return fmt.Errorf("account %s has no email: %w", payload.AccountID, asynq.SkipRetry)
	}
	task, err := NewSendEmailTask(lockoutEmail(payload))
	if err != nil {
		return err
	}
	if _, err := j.queue.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskTypeSendEmail, err)
	}
	j.logger.InfoContext(ctx, "lockout notice scheduled", slog.String("account_id", payload.AccountID))
	return nil
}

func lockoutEmail(p AccountLockedPayload) SendEmailPayload {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "there"
	}
	var body strings.Builder
	fmt.Fprintf(&body, "Hi %s,\n\n", name)
	body.WriteString("We noticed several failed sign-in attempts on your account and have locked it temporarily.\n")
	fmt.Fprintf(&body, "You can sign in again after %s.\n\n", p.LockedUntil.UTC().Format(time.RFC1123))
	body.WriteString("If this was not you, change your password once the lock expires.\n")
	return SendEmailPayload{
		To:      p.Email,
		Subject: "Your account has been temporarily locked",
		Body:    body.String(),
	}
}

// SendEmailJob delivers mail:send tasks through a Mailer.
type SendEmailJob struct {
	mailer  Mailer
	metrics *jobmetrics.Metrics
}

// NewSendEmailJob constructs the handler.
func NewSendEmailJob(mailer Mailer, metrics *jobmetrics.Metrics) *SendEmailJob {
	return &SendEmailJob{mailer: mailer, metrics: metrics}
}

// Handle processes TaskTypeSendEmail tasks.
func (j *SendEmailJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.metrics.Track(TaskTypeSendEmail)
	defer func() { err = tracker.End(err) }()

	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.To == "" {
		return fmt.Errorf("missing recipient: %w", asynq.SkipRetry)
	}
	return j.mailer.Send(ctx, payload)
}
