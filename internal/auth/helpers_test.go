package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-accounts/internal/users"
)

// memStore is an in-memory users.Store with the same counter semantics as the
// real backends.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*users.Account
	byEmail  map[string]string
	err      error
	resets   int
	// afterIncrement runs once a failure is stored, before the caller sees it.
	afterIncrement func(users.FailureCount)
}

func newMemStore() *memStore {
	return &memStore{accounts: map[string]*users.Account{}, byEmail: map[string]string{}}
}

func (m *memStore) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *memStore) get(id string) users.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.accounts[id]
}

func (m *memStore) FindByEmail(_ context.Context, email string) (*users.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	id, ok := m.byEmail[users.NormalizeEmail(email)]
	if !ok {
		return nil, users.ErrNotFound
	}
	copied := *m.accounts[id]
	return &copied, nil
}

func (m *memStore) FindByID(_ context.Context, id string) (*users.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	account, ok := m.accounts[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *memStore) Create(_ context.Context, p users.CreateParams) (*users.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	email := users.NormalizeEmail(p.Email)
	if _, taken := m.byEmail[email]; taken {
		return nil, users.ErrDuplicateEmail
	}
	account := &users.Account{
		ID: p.ID, Name: p.Name, Email: email, PasswordHash: p.PasswordHash,
		IsActive: true, CreatedAt: p.CreatedAt, UpdatedAt: p.CreatedAt,
	}
	m.accounts[p.ID] = account
	m.byEmail[email] = p.ID
	copied := *account
	return &copied, nil
}

func (m *memStore) IncrementFailures(_ context.Context, id string, attempt users.FailedLogin) (users.FailureCount, error) {
	out, err := m.increment(id, attempt)
	if err == nil && m.afterIncrement != nil {
		m.afterIncrement(out)
	}
	return out, err
}

func (m *memStore) increment(id string, attempt users.FailedLogin) (users.FailureCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return users.FailureCount{}, m.err
	}
	account, ok := m.accounts[id]
	if !ok {
		return users.FailureCount{}, users.ErrNotFound
	}
	if account.LockUntil != nil && !account.LockUntil.After(attempt.At) {
		account.FailedLoginAttempts = 0
		account.LockUntil = nil
	}
	account.FailedLoginAttempts++
	if account.FailedLoginAttempts >= attempt.Threshold {
		until := attempt.LockUntil
		account.LockUntil = &until
	}
	out := users.FailureCount{Attempts: account.FailedLoginAttempts}
	if account.LockUntil != nil {
		until := *account.LockUntil
		out.LockUntil = &until
	}
	return out, nil
}

func (m *memStore) ResetFailures(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	account, ok := m.accounts[id]
	if !ok {
		return users.ErrNotFound
	}
	if account.FailedLoginAttempts == 0 && account.LockUntil == nil {
		return nil
	}
	m.resets++
	account.FailedLoginAttempts = 0
	account.LockUntil = nil
	return nil
}

func (m *memStore) UpdatePassword(_ context.Context, id, hash string, at time.Time) error {
	return m.mutate(id, func(a *users.Account) {
		a.PasswordHash = hash
		a.FailedLoginAttempts = 0
		a.LockUntil = nil
		a.UpdatedAt = at
	})
}

func (m *memStore) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	return m.mutate(id, func(a *users.Account) {
		a.IsActive = active
		a.UpdatedAt = at
	})
}

func (m *memStore) mutate(id string, fn func(*users.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	account, ok := m.accounts[id]
	if !ok {
		return users.ErrNotFound
	}
	fn(account)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (e *eventCounter) RecordAuthEvent(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.counts == nil {
		e.counts = map[string]int{}
	}
	e.counts[event]++
}

func (e *eventCounter) count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[event]
}

type lockNotice struct {
	accountID string
	until     time.Time
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []lockNotice
}

func (n *recordingNotifier) AccountLocked(_ context.Context, account users.Account, until time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, lockNotice{accountID: account.ID, until: until})
	return nil
}

func (n *recordingNotifier) sent() []lockNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]lockNotice(nil), n.notices...)
}

func testConfig() Config {
	cfg := DefaultConfig([]byte("test-secret-with-enough-entropy-0123456789"))
	cfg.HashCost = bcrypt.MinCost
	return cfg
}

type serviceFixture struct {
	svc      *Service
	store    *memStore
	clock    *fakeClock
	events   *eventCounter
	notifier *recordingNotifier
	tokens   *TokenManager
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	cfg := testConfig()
	hasher, err := NewPasswordHasher(cfg.HashCost)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	tokens, err := NewTokenManager(cfg)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	store := newMemStore()
	clock := &fakeClock{now: time.Now().UTC()}
	lockout := NewLockout(store, cfg)
	events := &eventCounter{}
	notifier := &recordingNotifier{}

	svc := NewService(ServiceParams{
		Store:    store,
		Hasher:   hasher,
		Tokens:   tokens,
		Lockout:  lockout,
		Notifier: notifier,
		Events:   events,
	})
	svc.now = clock.Now
	lockout.now = clock.Now
	tokens.now = clock.Now
	return &serviceFixture{svc: svc, store: store, clock: clock, events: events, notifier: notifier, tokens: tokens}
}
