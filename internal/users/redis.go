package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Accounts are stored as one hash per account plus a string index from the
// normalized email to the account id. Every mutation runs as a Lua script so
// the existence check and the write happen atomically on the server.
const (
	accountKeyPrefix = "accounts:id:"
	emailKeyPrefix   = "accounts:email:"
)

var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then return 0 end
redis.call('SET', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1],
	'id', ARGV[1], 'name', ARGV[2], 'email', ARGV[3], 'password_hash', ARGV[4],
	'active', '1', 'failed_attempts', '0', 'lock_until', '0',
	'created_at', ARGV[5], 'updated_at', ARGV[5])
return 1
`)

	// ARGV: now, threshold, lock expiry. Returns {attempts, lock_until}.
	incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1, '0'} end
local lock = redis.call('HGET', KEYS[1], 'lock_until') or '0'
local n
if tonumber(lock) > 0 and tonumber(lock) <= tonumber(ARGV[1]) then
	n = 1
	lock = '0'
else
	n = redis.call('HINCRBY', KEYS[1], 'failed_attempts', 1)
end
if n >= tonumber(ARGV[2]) then lock = ARGV[3] end
redis.call('HSET', KEYS[1], 'failed_attempts', tostring(n), 'lock_until', lock, 'updated_at', ARGV[1])
return {n, lock}
`)

	resetScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
local fields = redis.call('HMGET', KEYS[1], 'failed_attempts', 'lock_until')
if fields[1] ~= '0' or fields[2] ~= '0' then
	redis.call('HSET', KEYS[1], 'failed_attempts', '0', 'lock_until', '0', 'updated_at', ARGV[1])
end
return 1
`)

	updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)
)

// RedisStore implements Store on top of Redis hashes.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisStore constructs a Redis backed store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// FindByEmail resolves the email index and loads the account document.
func (s *RedisStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	id, err := s.client.Get(ctx, emailKeyPrefix+NormalizeEmail(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("users/redis: find by email: %w", err)
	}
	return s.FindByID(ctx, id)
}

// FindByID loads the account document.
func (s *RedisStore) FindByID(ctx context.Context, id string) (*Account, error) {
	fields, err := s.client.HGetAll(ctx, accountKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("users/redis: find by id: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	account, err := decodeAccount(fields)
	if err != nil {
		return nil, fmt.Errorf("users/redis: decode %s: %w", id, err)
	}
	return account, nil
}

// Create claims the email index and writes the document in one script.
func (s *RedisStore) Create(ctx context.Context, params CreateParams) (*Account, error) {
	email := NormalizeEmail(params.Email)
	created := params.CreatedAt.UTC().Truncate(time.Millisecond)
	ok, err := createScript.Run(ctx, s.client,
		[]string{accountKeyPrefix + params.ID, emailKeyPrefix + email},
		params.ID, params.Name, email, params.PasswordHash, millis(created),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("users/redis: create: %w", err)
	}
	if ok == 0 {
		return nil, ErrDuplicateEmail
	}
	return &Account{
		ID:           params.ID,
		Name:         params.Name,
		Email:        email,
		PasswordHash: params.PasswordHash,
		IsActive:     true,
		CreatedAt:    created,
		UpdatedAt:    created,
	}, nil
}

// IncrementFailures bumps the counter and applies the lock in one script.
func (s *RedisStore) IncrementFailures(ctx context.Context, id string, attempt FailedLogin) (FailureCount, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{accountKeyPrefix + id},
		millis(attempt.At), attempt.Threshold, millis(attempt.LockUntil),
	).Slice()
	if err != nil {
		return FailureCount{}, fmt.Errorf("users/redis: increment failures: %w", err)
	}
	if len(res) != 2 {
		return FailureCount{}, fmt.Errorf("users/redis: increment failures: unexpected reply %v", res)
	}
	n, _ := res[0].(int64)
	if n < 0 {
		return FailureCount{}, ErrNotFound
	}
	out := FailureCount{Attempts: int(n)}
	lock, _ := res[1].(string)
	lockMs, err := strconv.ParseInt(lock, 10, 64)
	if err != nil {
		return FailureCount{}, fmt.Errorf("users/redis: increment failures: lock_until: %w", err)
	}
	if lockMs > 0 {
		until := time.UnixMilli(lockMs).UTC()
		out.LockUntil = &until
	}
	return out, nil
}

// ResetFailures zeroes the counter and clears the lock. A clean account is not
// written.
func (s *RedisStore) ResetFailures(ctx context.Context, id string) error {
	ok, err := resetScript.Run(ctx, s.client, []string{accountKeyPrefix + id}, millis(s.now())).Int()
	if err != nil {
		return fmt.Errorf("users/redis: reset failures: %w", err)
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the hash and clears lockout state.
func (s *RedisStore) UpdatePassword(ctx context.Context, id, hash string, at time.Time) error {
	return s.update(ctx, "update password", id,
		"password_hash", hash, "failed_attempts", "0", "lock_until", "0", "updated_at", millis(at))
}

// SetActive toggles the active flag.
func (s *RedisStore) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	flag := "0"
	if active {
		flag = "1"
	}
	return s.update(ctx, "set active", id, "active", flag, "updated_at", millis(at))
}

func (s *RedisStore) update(ctx context.Context, op, id string, pairs ...any) error {
	ok, err := updateScript.Run(ctx, s.client, []string{accountKeyPrefix + id}, pairs...).Int()
	if err != nil {
		return fmt.Errorf("users/redis: %s: %w", op, err)
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeAccount(fields map[string]string) (*Account, error) {
	account := &Account{
		ID:           fields["id"],
		Name:         fields["name"],
		Email:        fields["email"],
		PasswordHash: fields["password_hash"],
		IsActive:     fields["active"] == "1",
	}
	attempts, err := strconv.Atoi(fields["failed_attempts"])
	if err != nil {
		return nil, fmt.Errorf("failed_attempts: %w", err)
	}
	account.FailedLoginAttempts = attempts

	lockMs, err := strconv.ParseInt(fields["lock_until"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("lock_until: %w", err)
	}
	if lockMs > 0 {
		until := time.UnixMilli(lockMs).UTC()
		account.LockUntil = &until
	}
	if account.CreatedAt, err = parseMillis(fields["created_at"]); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if account.UpdatedAt, err = parseMillis(fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	return account, nil
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

var _ Store = (*RedisStore)(nil)
