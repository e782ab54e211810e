package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the persistence port consumed by the auth workflow. Failure
// counters must be updated atomically by the implementation.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, params CreateParams) (*Account, error)
	// IncrementFailures bumps the failed-attempt counter and applies the lock
	// in one atomic update. When the stored lock has already expired the
	// counter restarts at 1.
	IncrementFailures(ctx context.Context, id string, attempt FailedLogin) (FailureCount, error)
	// ResetFailures clears the counter and lock. A clean account is left
	// untouched.
	ResetFailures(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, hash string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
}

const uniqueViolation = "23505"

const accountColumns = `id::text, name, email, password_hash, is_active, failed_login_attempts, lock_until, created_at, updated_at`

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PostgreSQL backed store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// FindByEmail fetches an account by normalized email.
func (s *PGStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, NormalizeEmail(email))
	account, err := scanAccount(row)
	if err != nil {
		return nil, wrap("find by email", err)
	}
	return account, nil
}

// FindByID fetches an account by id.
func (s *PGStore) FindByID(ctx context.Context, id string) (*Account, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		return nil, wrap("find by id", err)
	}
	return account, nil
}

// Create inserts a new account with zeroed lockout fields.
func (s *PGStore) Create(ctx context.Context, params CreateParams) (*Account, error) {
	row := s.pool.QueryRow(ctx, `INSERT INTO accounts (id, name, email, password_hash, is_active, failed_login_attempts, created_at, updated_at)
VALUES ($1, $2, $3, $4, TRUE, 0, $5, $5)
RETURNING `+accountColumns,
		params.ID, params.Name, NormalizeEmail(params.Email), params.PasswordHash, params.CreatedAt.UTC())
	account, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateEmail
		}
		return nil, wrap("create", err)
	}
	return account, nil
}

// IncrementFailures applies the failure bump and the lock as a single
// conditional UPDATE. SET expressions all read the pre-update row; a NULL
// lock_until never compares as lapsed.
func (s *PGStore) IncrementFailures(ctx context.Context, id string, attempt FailedLogin) (FailureCount, error) {
	if !validID(id) {
		return FailureCount{}, ErrNotFound
	}
	var out FailureCount
	err := s.pool.QueryRow(ctx, `UPDATE accounts SET
	failed_login_attempts = CASE WHEN lock_until <= $2 THEN 1 ELSE failed_login_attempts + 1 END,
	lock_until = CASE
		WHEN (CASE WHEN lock_until <= $2 THEN 1 ELSE failed_login_attempts + 1 END) >= $3 THEN $4
		WHEN lock_until <= $2 THEN NULL
		ELSE lock_until
	END,
	updated_at = $2
WHERE id = $1
RETURNING failed_login_attempts, lock_until`, id, attempt.At.UTC(), attempt.Threshold, attempt.LockUntil.UTC()).Scan(&out.Attempts, &out.LockUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FailureCount{}, ErrNotFound
		}
		return FailureCount{}, fmt.Errorf("users/postgres: increment failures: %w", err)
	}
	return out, nil
}

// ResetFailures zeroes the counter and clears any lock. updated_at moves only
// when there was something to clear.
func (s *PGStore) ResetFailures(ctx context.Context, id string) error {
	return s.exec(ctx, "reset failures", `UPDATE accounts SET
	updated_at = CASE WHEN failed_login_attempts > 0 OR lock_until IS NOT NULL THEN NOW() ELSE updated_at END,
	failed_login_attempts = 0,
	lock_until = NULL
WHERE id = $1`, id)
}

// UpdatePassword replaces the stored hash and clears lockout state.
func (s *PGStore) UpdatePassword(ctx context.Context, id, hash string, at time.Time) error {
	return s.exec(ctx, "update password", `UPDATE accounts SET password_hash = $2, failed_login_attempts = 0, lock_until = NULL, updated_at = $3 WHERE id = $1`, id, hash, at.UTC())
}

// SetActive toggles the active flag.
func (s *PGStore) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	return s.exec(ctx, "set active", `UPDATE accounts SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, at.UTC())
}

func (s *PGStore) exec(ctx context.Context, op, query string, id string, args ...any) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("users/postgres: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// validID keeps malformed ids from reaching the uuid column, where they would
// surface as a query error instead of a miss.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func wrap(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("users/postgres: %s: %w", op, err)
}

func scanAccount(row pgx.Row) (*Account, error) {
	var (
		account   Account
		lockUntil *time.Time
	)
	err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.PasswordHash,
		&account.IsActive,
		&account.FailedLoginAttempts,
		&lockUntil,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	account.LockUntil = lockUntil
	return &account, nil
}

var _ Store = (*PGStore)(nil)
