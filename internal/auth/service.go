package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-accounts/internal/users"
)

// Auth event names reported to the EventRecorder.
const (
	EventRegistered       = "registered"
	EventLoginSucceeded   = "login_succeeded"
	EventLoginFailed      = "login_failed"
	EventLoginLocked      = "login_locked"
	EventAccountLocked    = "account_locked"
	EventTokenRefreshed   = "token_refreshed"
	EventPasswordChanged  = "password_changed"
	EventAccountDisabled  = "account_deactivated"
	EventPersistenceError = "persistence_error"
)

// LockoutNotifier is told when an account crosses the lockout threshold.
type LockoutNotifier interface {
	AccountLocked(ctx context.Context, account users.Account, until time.Time) error
}

// EventRecorder counts auth outcomes.
type EventRecorder interface {
	RecordAuthEvent(event string)
}

// ServiceParams wires the workflow dependencies. Notifier and Events are
// optional.
type ServiceParams struct {
	Store    users.Store
	Hasher   *PasswordHasher
	Tokens   *TokenManager
	Lockout  *Lockout
	Notifier LockoutNotifier
	Events   EventRecorder
	Logger   *slog.Logger
}

// Service implements registration, login and the authenticated account
// operations.
type Service struct {
	store    users.Store
	hasher   *PasswordHasher
	tokens   *TokenManager
	lockout  *Lockout
	notifier LockoutNotifier
	events   EventRecorder
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewService constructs a Service.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    p.Store,
		hasher:   p.Hasher,
		tokens:   p.Tokens,
		lockout:  p.Lockout,
		notifier: p.Notifier,
		events:   p.Events,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Register creates an account and signs the caller in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AccountView, error) {
	name := users.NormalizeName(in.Name)
	email := users.NormalizeEmail(in.Email)

	var fields []FieldError
	if name == "" {
		fields = append(fields, FieldError{Field: "name", Message: "name is required"})
	}
	if email == "" {
		fields = append(fields, FieldError{Field: "email", Message: "email is required"})
	}
	if in.Password == "" {
		fields = append(fields, FieldError{Field: "password", Message: "password is required"})
	}
	if len(fields) > 0 {
		return nil, validationError(fields...)
	}

	_, err := s.store.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, ErrDuplicateAccount
	case !errors.Is(err, users.ErrNotFound):
		return nil, s.persistence("lookup email", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, validationError(FieldError{Field: "password", Message: "password must be at most 72 bytes"})
		}
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	account, err := s.store.Create(ctx, users.CreateParams{
		ID:           s.newID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	})
	if err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			return nil, ErrDuplicateAccount
		}
		return nil, s.persistence("create account", err)
	}

	view, err := s.issueSession(account)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "account registered", slog.String("account_id", account.ID))
	s.record(EventRegistered)
	return view, nil
}

// Login checks credentials under the lockout policy. Unknown emails,
// inactive accounts and wrong passwords share one error.
func (s *Service) Login(ctx context.Context, in LoginInput) (*AccountView, error) {
	email := users.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		s.record(EventLoginFailed)
		return nil, ErrInvalidCredentials
	}

	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			s.hasher.Equalize(in.Password)
			s.record(EventLoginFailed)
			return nil, ErrInvalidCredentials
		}
		return nil, s.persistence("lookup account", err)
	}
	if !account.IsActive {
		s.hasher.Equalize(in.Password)
		s.record(EventLoginFailed)
		return nil, ErrInvalidCredentials
	}
	if remaining := s.lockout.Remaining(account); remaining > 0 {
		s.record(EventLoginLocked)
		return nil, lockedError(remaining)
	}

	ok, err := s.hasher.Verify(in.Password, account.PasswordHash)
	if err != nil {
		s.logger.ErrorContext(ctx, "stored credential unusable", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, fmt.Errorf("auth: account %s: %w", account.ID, err)
	}
	if !ok {
		state, err := s.lockout.OnFailure(ctx, account)
		if err != nil {
			return nil, s.persistence("record failed login", err)
		}
		s.record(EventLoginFailed)
		if state.Tripped {
			s.onLocked(ctx, account, state)
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.lockout.OnSuccess(ctx, account); err != nil {
		return nil, s.persistence("reset failed logins", err)
	}
	view, err := s.issueSession(account)
	if err != nil {
		return nil, err
	}
	s.record(EventLoginSucceeded)
	return view, nil
}

// Refresh exchanges a valid refresh token for a new token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AccountView, error) {
	claims, err := s.tokens.VerifyClass(refreshToken, TokenRefresh)
	if err != nil {
		return nil, err
	}
	account, err := s.store.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, s.persistence("lookup account", err)
	}
	if !account.IsActive {
		return nil, ErrInvalidToken
	}
	view, err := s.issueSession(account)
	if err != nil {
		return nil, err
	}
	s.record(EventTokenRefreshed)
	return view, nil
}

// Profile returns the sanitized view of an active account.
func (s *Service) Profile(ctx context.Context, accountID string) (*AccountView, error) {
	account, err := s.activeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return NewAccountView(account), nil
}

// ChangePassword rotates the password after re-checking the current one. The
// new hash also clears any lockout state.
func (s *Service) ChangePassword(ctx context.Context, accountID string, in ChangePasswordInput) error {
	var fields []FieldError
	if in.CurrentPassword == "" {
		fields = append(fields, FieldError{Field: "currentPassword", Message: "currentPassword is required"})
	}
	if in.NewPassword == "" {
		fields = append(fields, FieldError{Field: "newPassword", Message: "newPassword is required"})
	}
	if len(fields) > 0 {
		return validationError(fields...)
	}
	if in.CurrentPassword == in.NewPassword {
		return validationError(FieldError{Field: "newPassword", Message: "newPassword must differ from currentPassword"})
	}

	account, err := s.activeAccount(ctx, accountID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(in.CurrentPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("auth: account %s: %w", account.ID, err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return validationError(FieldError{Field: "newPassword", Message: "newPassword must be at most 72 bytes"})
		}
		return fmt.Errorf("auth: hash password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, account.ID, hash, s.now()); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return ErrNotFound
		}
		return s.persistence("update password", err)
	}
	s.logger.InfoContext(ctx, "password changed", slog.String("account_id", account.ID))
	s.record(EventPasswordChanged)
	return nil
}

// Deactivate disables the account. Tokens already issued stay valid until
// expiry but Profile and Refresh reject the account.
func (s *Service) Deactivate(ctx context.Context, accountID string) error {
	account, err := s.activeAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if err := s.store.SetActive(ctx, account.ID, false, s.now()); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return ErrNotFound
		}
		return s.persistence("deactivate account", err)
	}
	s.logger.InfoContext(ctx, "account deactivated", slog.String("account_id", account.ID))
	s.record(EventAccountDisabled)
	return nil
}

func (s *Service) activeAccount(ctx context.Context, accountID string) (*users.Account, error) {
	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.persistence("lookup account", err)
	}
	if !account.IsActive {
		return nil, ErrNotFound
	}
	return account, nil
}

func (s *Service) issueSession(account *users.Account) (*AccountView, error) {
	access, expires, err := s.tokens.Issue(account.ID, TokenAccess, 0)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.tokens.Issue(account.ID, TokenRefresh, 0)
	if err != nil {
		return nil, err
	}
	view := NewAccountView(account)
	view.Token = access
	view.RefreshToken = refresh
	view.ExpiresAt = &expires
	return view, nil
}

func (s *Service) onLocked(ctx context.Context, account *users.Account, state LockState) {
	s.logger.WarnContext(ctx, "account locked",
		slog.String("account_id", account.ID),
		slog.Int("attempts", state.Attempts),
		slog.Time("until", state.Until),
	)
	s.record(EventAccountLocked)
	if s.notifier == nil {
		return
	}
	if err := s.notifier.AccountLocked(ctx, *account, state.Until); err != nil {
		s.logger.WarnContext(ctx, "lockout notification failed", slog.String("account_id", account.ID), slog.Any("error", err))
	}
}

func (s *Service) persistence(op string, err error) error {
	s.logger.Error("account store failure", slog.String("op", op), slog.Any("error", err))
	s.record(EventPersistenceError)
	return persistenceError(op, err)
}

func (s *Service) record(event string) {
	if s.events != nil {
		s.events.RecordAuthEvent(event)
	}
}
