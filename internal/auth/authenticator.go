package auth

import (
	"crypto/subtle"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kbuck1/navilink/internal/infrastructure/config"
)

// Authenticator checks operator credentials and issues access tokens.
type Authenticator struct {
	username     string
	passwordHash string
	secret       string
	ttl          time.Duration
	clock        clock.Clock
}

// NewAuthenticator builds an Authenticator from the security section.
func NewAuthenticator(cfg config.SecurityConfig, ttl time.Duration, clk clock.Clock) *Authenticator {
	if clk == nil {
		clk = clock.New()
	}
	return &Authenticator{
		username:     cfg.Admin.Username,
		passwordHash: cfg.Admin.PasswordHash,
		secret:       cfg.JWT.Secret,
		ttl:          ttl,
		clock:        clk,
	}
}

// Login verifies username and password and returns a signed token and its
// expiry. Any mismatch, including an unset password hash, is reported as
// ErrInvalidCredentials.
func (a *Authenticator) Login(username, password string) (string, time.Time, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	if a.passwordHash == "" {
		return "", time.Time{}, ErrInvalidCredentials
	}
	passOK, err := VerifyPassword(password, a.passwordHash)
	if err != nil {
		return "", time.Time{}, err
	}
	if !userOK || !passOK {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return GenerateAccessToken(a.username, a.secret, a.ttl, a.clock.Now())
}

// Validate parses a bearer token.
func (a *Authenticator) Validate(token string) (*Claims, error) {
	claims, err := ParseToken(token, a.secret)
	if err != nil {
		return nil, err
	}
	if claims.ExpiresAt != nil && !a.clock.Now().Before(claims.ExpiresAt.Time) {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
