package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-accounts/internal/users"
)

func newLockoutFixture(t *testing.T) (*Lockout, *memStore, *fakeClock, *users.Account) {
	t.Helper()
	store := newMemStore()
	account, err := store.Create(context.Background(), users.CreateParams{ID: "acc-1", Name: "John", Email: "j@x.com", PasswordHash: "h", CreatedAt: time.Now()})
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLockout(store, Config{LockoutThreshold: 3, LockoutDuration: time.Hour})
	l.now = clock.Now
	return l, store, clock, account
}

func TestLockoutTripsAtThreshold(t *testing.T) {
	l, store, clock, account := newLockoutFixture(t)
	ctx := context.Background()

	for want := 1; want < 3; want++ {
		state, err := l.OnFailure(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, want, state.Attempts)
		assert.False(t, state.Locked)
	}
	state, err := l.OnFailure(ctx, account)
	require.NoError(t, err)
	assert.True(t, state.Locked)
	assert.True(t, state.Tripped)
	assert.Equal(t, clock.Now().Add(time.Hour), state.Until)

	stored := store.get("acc-1")
	assert.True(t, l.IsLocked(&stored))
	assert.Equal(t, time.Hour, l.Remaining(&stored))

	clock.Advance(time.Hour)
	assert.False(t, l.IsLocked(&stored), "lock ends exactly at its expiry")
}

func TestLockoutRestartsCountAfterExpiry(t *testing.T) {
	l, store, clock, account := newLockoutFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := l.OnFailure(ctx, account)
		require.NoError(t, err)
	}

	clock.Advance(2 * time.Hour)
	state, err := l.OnFailure(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Attempts)
	assert.False(t, state.Locked)
	assert.Nil(t, store.get("acc-1").LockUntil)
}

func TestLockoutOnSuccess(t *testing.T) {
	l, store, _, account := newLockoutFixture(t)
	ctx := context.Background()

	require.NoError(t, l.OnSuccess(ctx, account))
	assert.Zero(t, store.resets, "clean account is not rewritten")

	_, err := l.OnFailure(ctx, account)
	require.NoError(t, err)
	stored := store.get("acc-1")
	require.NoError(t, l.OnSuccess(ctx, &stored))
	assert.Equal(t, 0, store.get("acc-1").FailedLoginAttempts)
	assert.Equal(t, 1, store.resets)
}

func TestLockoutOnSuccessClearsFailureAfterSnapshot(t *testing.T) {
	l, store, _, _ := newLockoutFixture(t)
	ctx := context.Background()

	// The login read a clean account, then a parallel failure landed before
	// the password check finished.
	snapshot := store.get("acc-1")
	_, err := l.OnFailure(ctx, &snapshot)
	require.NoError(t, err)
	require.Equal(t, 1, store.get("acc-1").FailedLoginAttempts)

	require.NoError(t, l.OnSuccess(ctx, &snapshot))
	assert.Equal(t, 0, store.get("acc-1").FailedLoginAttempts)
}

func TestLockoutStoresLockWithThresholdFailure(t *testing.T) {
	l, store, clock, account := newLockoutFixture(t)
	ctx := context.Background()

	var seen *users.Account
	store.afterIncrement = func(count users.FailureCount) {
		if count.Attempts == 3 {
			stored := store.get("acc-1")
			seen = &stored
		}
	}
	for i := 0; i < 3; i++ {
		_, err := l.OnFailure(ctx, account)
		require.NoError(t, err)
	}

	require.NotNil(t, seen)
	assert.True(t, l.IsLocked(seen), "count at threshold is never visible without the lock")
	assert.Equal(t, clock.Now().Add(time.Hour), *seen.LockUntil)
}

func TestLockoutPropagatesStoreErrors(t *testing.T) {
	l, store, _, account := newLockoutFixture(t)
	store.failWith(errors.New("down"))

	_, err := l.OnFailure(context.Background(), account)
	require.Error(t, err)
}

func TestIsLockedHandlesMissingState(t *testing.T) {
	l, _, _, _ := newLockoutFixture(t)
	assert.False(t, l.IsLocked(nil))
	assert.False(t, l.IsLocked(&users.Account{}))
}
