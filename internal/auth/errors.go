package auth

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies workflow failures. Callers switch on the kind rather than on
// error strings.
type Kind uint8

const (
	KindValidation Kind = iota + 1
	KindDuplicateAccount
	KindInvalidCredentials
	KindAccountLocked
	KindInvalidToken
	KindExpiredToken
	KindNotFound
	KindPersistence
)

var kindNames = map[Kind]string{
	KindValidation:         "ValidationFailed",
	KindDuplicateAccount:   "DuplicateAccount",
	KindInvalidCredentials: "InvalidCredentials",
	KindAccountLocked:      "AccountLocked",
	KindInvalidToken:       "InvalidToken",
	KindExpiredToken:       "ExpiredToken",
	KindNotFound:           "NotFound",
	KindPersistence:        "PersistenceError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// FieldError describes a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the only error type that leaves the workflow. Message is safe to
// show to clients; Err carries the internal cause and is never rendered.
type Error struct {
	Kind       Kind
	Message    string
	Fields     []FieldError
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// holds for every not-found error regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Temporary reports whether the caller may retry the request.
func (e *Error) Temporary() bool {
	return e.Kind == KindPersistence
}

var (
	ErrDuplicateAccount   = &Error{Kind: KindDuplicateAccount, Message: "User already exists"}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "Invalid email or password"}
	ErrAccountLocked      = &Error{Kind: KindAccountLocked, Message: "Account temporarily locked due to too many failed login attempts"}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken, Message: "Invalid token"}
	ErrExpiredToken       = &Error{Kind: KindExpiredToken, Message: "Token expired"}
	ErrMissingToken       = &Error{Kind: KindInvalidToken, Message: "Not authorized, no token"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "User not found"}
)

// KindOf returns the kind of err, or zero when err is not an *Error.
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return 0
}

func validationError(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: "Validation failed", Fields: fields}
}

func lockedError(remaining time.Duration) *Error {
	return &Error{Kind: KindAccountLocked, Message: ErrAccountLocked.Message, RetryAfter: remaining}
}

func persistenceError(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: "Service temporarily unavailable", Err: fmt.Errorf("%s: %w", op, err)}
}
