package users_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-accounts/internal/platform/db"
	"github.com/odyssey-erp/odyssey-accounts/internal/users"
)

// newPGStore connects to ACCOUNTS_PG_DSN and applies migrations. The tests are
// skipped when no database is configured.
func newPGStore(t *testing.T) *users.PGStore {
	t.Helper()
	dsn := os.Getenv("ACCOUNTS_PG_DSN")
	if dsn == "" {
		t.Skip("ACCOUNTS_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.New(ctx, dsn, db.PoolOptions{MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool, nil))
	return users.NewPGStore(pool)
}

func createPG(t *testing.T, store *users.PGStore) *users.Account {
	t.Helper()
	id := uuid.NewString()
	account, err := store.Create(context.Background(), users.CreateParams{
		ID:           id,
		Name:         "John Doe",
		Email:        id + "@Example.com",
		PasswordHash: "$2a$04$hash",
		CreatedAt:    time.Now(),
	})
	require.NoError(t, err)
	return account
}

func TestPGStoreCreateFindAndDuplicate(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()
	account := createPG(t, store)

	found, err := store.FindByEmail(ctx, account.Email)
	require.NoError(t, err)
	assert.Equal(t, account.ID, found.ID)
	assert.True(t, found.IsActive)

	_, err = store.Create(ctx, users.CreateParams{ID: uuid.NewString(), Name: "Dup", Email: account.Email, PasswordHash: "h", CreatedAt: time.Now()})
	require.ErrorIs(t, err, users.ErrDuplicateEmail)

	_, err = store.FindByID(ctx, "not-a-uuid")
	require.ErrorIs(t, err, users.ErrNotFound)
	_, err = store.FindByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, users.ErrNotFound)
}

func TestPGStoreFailureCountingIsAtomic(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()
	account := createPG(t, store)
	start := time.Now()

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := store.IncrementFailures(ctx, account.ID, users.FailedLogin{At: start, Threshold: 5, LockUntil: start.Add(time.Hour)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	found, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, found.FailedLoginAttempts)
	require.NotNil(t, found.LockUntil, "threshold crossing stores the lock in the same update")
	assert.WithinDuration(t, start.Add(time.Hour), *found.LockUntil, time.Millisecond)

	later := start.Add(2 * time.Hour)
	got, err := store.IncrementFailures(ctx, account.ID, users.FailedLogin{At: later, Threshold: 5, LockUntil: later.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.LockUntil)

	require.NoError(t, store.ResetFailures(ctx, account.ID))
	found, err = store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, found.FailedLoginAttempts)
	assert.Nil(t, found.LockUntil)
}
