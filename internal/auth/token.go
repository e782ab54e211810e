package auth

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenClass separates short-lived access tokens from refresh tokens.
type TokenClass string

const (
	TokenAccess  TokenClass = "access"
	TokenRefresh TokenClass = "refresh"
)

// Claims is the signed payload. Subject holds the account id.
type Claims struct {
	Class TokenClass `json:"type"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 tokens bound to one issuer and
// audience.
type TokenManager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	parser     *jwt.Parser
	now        func() time.Time
}

// NewTokenManager copies the secret and prepares a parser restricted to HS256.
func NewTokenManager(cfg Config) (*TokenManager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: signing secret must be provided")
	}
	m := &TokenManager{
		secret:     bytes.Clone(cfg.Secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	return m, nil
}

// Issue signs a token for subject. A zero ttl selects the configured lifetime
// of the class.
func (m *TokenManager) Issue(subject string, class TokenClass, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("auth: token subject must not be empty")
	}
	defaultTTL, ok := m.classTTL(class)
	if !ok {
		return "", time.Time{}, fmt.Errorf("auth: unknown token class %q", class)
	}
	if ttl == 0 {
		ttl = defaultTTL
	}
	now := m.now()
	expires := now.Add(ttl)
	claims := Claims{
		Class: class,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expires.Truncate(time.Second), nil
}

func (m *TokenManager) classTTL(class TokenClass) (time.Duration, bool) {
	switch class {
	case TokenAccess:
		return m.accessTTL, true
	case TokenRefresh:
		return m.refreshTTL, true
	default:
		return 0, false
	}
}

// Verify checks signature, algorithm, issuer, audience and expiry. Expired
// tokens yield ErrExpiredToken; every other failure yields ErrInvalidToken.
func (m *TokenManager) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	parsed, err := m.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		// Expiry is reported only for tokens that are otherwise ours.
		if errors.Is(err, jwt.ErrTokenExpired) &&
			!errors.Is(err, jwt.ErrTokenSignatureInvalid) &&
			!errors.Is(err, jwt.ErrTokenInvalidIssuer) &&
			!errors.Is(err, jwt.ErrTokenInvalidAudience) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if claims.Class != TokenAccess && claims.Class != TokenRefresh {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyClass verifies token and requires it to be of the given class.
func (m *TokenManager) VerifyClass(token string, class TokenClass) (*Claims, error) {
	claims, err := m.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Class != class {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
