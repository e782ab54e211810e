package users

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrNotFound indicates no account matched the lookup.
	ErrNotFound = errors.New("users: account not found")
	// ErrDuplicateEmail indicates the normalized email is already taken.
	ErrDuplicateEmail = errors.New("users: email already registered")
)

// Account is the persisted user record. It carries no behaviour; hashing and
// lockout rules live in the auth package.
type Account struct {
	ID                  string
	Name                string
	Email               string
	PasswordHash        string
	IsActive            bool
	FailedLoginAttempts int
	LockUntil           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CreateParams holds the fields required to insert a new account.
type CreateParams struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// FailedLogin describes one failed attempt. When the new count reaches
// Threshold the store sets LockUntil in the same update.
type FailedLogin struct {
	At        time.Time
	Threshold int
	LockUntil time.Time
}

// FailureCount is the lockout state left behind by a failed attempt.
type FailureCount struct {
	Attempts  int
	LockUntil *time.Time
}

// NormalizeEmail returns the lookup key for an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeName trims and NFC-normalizes a display name.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
