package auth

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultIssuer           = "user-management-service"
	DefaultAudience         = "user-management-client"
	DefaultAccessTTL        = 30 * 24 * time.Hour
	DefaultRefreshTTL       = 7 * 24 * time.Hour
	DefaultHashCost         = 12
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 2 * time.Hour
)

// Config is built once at startup and passed by value into the hasher, token
// manager and lockout tracker. Nothing mutates it afterwards.
type Config struct {
	Secret           []byte
	Issuer           string
	Audience         string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	HashCost         int
	LockoutThreshold int
	LockoutDuration  time.Duration
}

// DefaultConfig returns the stock policy for the given signing secret.
func DefaultConfig(secret []byte) Config {
	return Config{
		Secret:           secret,
		Issuer:           DefaultIssuer,
		Audience:         DefaultAudience,
		AccessTTL:        DefaultAccessTTL,
		RefreshTTL:       DefaultRefreshTTL,
		HashCost:         DefaultHashCost,
		LockoutThreshold: DefaultLockoutThreshold,
		LockoutDuration:  DefaultLockoutDuration,
	}
}

// Validate rejects configurations the components cannot run with.
func (c Config) Validate() error {
	switch {
	case len(c.Secret) == 0:
		return errors.New("auth: signing secret must be provided")
	case c.Issuer == "" || c.Audience == "":
		return errors.New("auth: issuer and audience must be set")
	case c.AccessTTL <= 0 || c.RefreshTTL <= 0:
		return errors.New("auth: token lifetimes must be positive")
	case c.HashCost < bcrypt.MinCost || c.HashCost > bcrypt.MaxCost:
		return errors.New("auth: bcrypt cost out of range")
	case c.LockoutThreshold <= 0:
		return errors.New("auth: lockout threshold must be positive")
	case c.LockoutDuration <= 0:
		return errors.New("auth: lockout duration must be positive")
	}
	return nil
}
