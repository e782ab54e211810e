package auth

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-accounts/internal/users"
)

// LockoutStore is the slice of the account store the tracker writes through.
// IncrementFailures must count and lock in one atomic update so no login can
// observe the threshold without the lock.
type LockoutStore interface {
	IncrementFailures(ctx context.Context, id string, attempt users.FailedLogin) (users.FailureCount, error)
	ResetFailures(ctx context.Context, id string) error
}

// LockState reports the outcome of a recorded failure.
type LockState struct {
	Attempts int
	Locked   bool
	// Tripped is set only on the failure that crossed the threshold.
	Tripped bool
	Until   time.Time
}

// Lockout tracks consecutive failed logins and suspends accounts that reach
// the threshold.
type Lockout struct {
	store     LockoutStore
	threshold int
	duration  time.Duration
	now       func() time.Time
}

// NewLockout builds a tracker from the configured policy.
func NewLockout(store LockoutStore, cfg Config) *Lockout {
	return &Lockout{
		store:     store,
		threshold: cfg.LockoutThreshold,
		duration:  cfg.LockoutDuration,
		now:       time.Now,
	}
}

// IsLocked reports whether the account has a lock that has not yet expired.
// An expired lock needs no write to be lifted.
func (l *Lockout) IsLocked(account *users.Account) bool {
	return l.Remaining(account) > 0
}

// Remaining returns how long the account stays locked.
func (l *Lockout) Remaining(account *users.Account) time.Duration {
	if account == nil || account.LockUntil == nil {
		return 0
	}
	remaining := account.LockUntil.Sub(l.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// OnFailure records one failed attempt. The store locks the account once the
// count reaches the threshold.
func (l *Lockout) OnFailure(ctx context.Context, account *users.Account) (LockState, error) {
	now := l.now()
	count, err := l.store.IncrementFailures(ctx, account.ID, users.FailedLogin{
		At:        now,
		Threshold: l.threshold,
		LockUntil: now.Add(l.duration),
	})
	if err != nil {
		return LockState{}, err
	}
	state := LockState{Attempts: count.Attempts}
	if count.LockUntil == nil || !count.LockUntil.After(now) {
		return state, nil
	}
	state.Locked = true
	state.Tripped = count.Attempts == l.threshold
	state.Until = *count.LockUntil
	return state, nil
}

// OnSuccess clears the counter and any lock. The store skips the write when
// the stored account is already clean.
func (l *Lockout) OnSuccess(ctx context.Context, account *users.Account) error {
	return l.store.ResetFailures(ctx, account.ID)
}
