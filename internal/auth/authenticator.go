package auth

import (
	"fmt"
	"time"

	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
)

// Subject is the JWT subject of the operator.
const Subject = "operator"

// Authenticator checks the operator password and issues tokens.
type Authenticator struct {
	hash     string
	secret   string
	ttl      time.Duration
	instance string
	now      func() time.Time
}

// NewAuthenticator validates cfg. An empty JWT secret is replaced by a
// random one, so tokens do not survive a restart.
func NewAuthenticator(cfg config.SecurityConfig, instance string) (*Authenticator, error) {
	a := &Authenticator{
		hash:     cfg.PasswordHash,
		secret:   cfg.JWT.Secret,
		ttl:      time.Duration(cfg.JWT.AccessTokenTTL) * time.Minute,
		instance: instance,
		now:      time.Now,
	}
	if a.hash == "" {
		return a, nil
	}
	if err := ValidateHash(a.hash); err != nil {
		return nil, fmt.Errorf("security.password_hash: %w", err)
	}
	if a.secret == "" {
		secret, err := RandomSecret()
		if err != nil {
			return nil, err
		}
		a.secret = secret
	}
	return a, nil
}

// Enabled reports whether a password is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.hash != ""
}

// Login returns a token and its expiry for the right password.
func (a *Authenticator) Login(password string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, ErrDisabled
	}
	ok, err := VerifyPassword(password, a.hash)
	if err != nil {
		return "", time.Time{}, err
	}
	if !ok {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return GenerateToken(Subject, a.instance, a.secret, a.ttl, a.now())
}

// Verify validates a token issued by Login.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	if !a.Enabled() {
		return nil, ErrDisabled
	}
	return ParseToken(token, a.secret)
}
