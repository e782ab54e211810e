package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher(t *testing.T) {
	h, err := NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)

	first, err := h.Hash("Password123!")
	require.NoError(t, err)
	second, err := h.Hash("Password123!")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "hashes must be salted")

	ok, err := h.Verify("Password123!", first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("password123!", first)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Verify("Password123!", "not-a-bcrypt-hash")
	require.ErrorIs(t, err, ErrCorruptHash)
}

func TestPasswordHasherRejectsLongInput(t *testing.T) {
	h, err := NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)

	long := strings.Repeat("a", maxPasswordBytes+1)
	_, err = h.Hash(long)
	require.ErrorIs(t, err, bcrypt.ErrPasswordTooLong)

	hash, err := h.Hash(long[:maxPasswordBytes])
	require.NoError(t, err)
	ok, err := h.Verify(long, hash)
	require.NoError(t, err)
	assert.False(t, ok, "input past the limit must not match its truncation")
}

func TestNewPasswordHasherRejectsBadCost(t *testing.T) {
	_, err := NewPasswordHasher(bcrypt.MinCost - 1)
	require.Error(t, err)
	_, err = NewPasswordHasher(bcrypt.MaxCost + 1)
	require.Error(t, err)
}
