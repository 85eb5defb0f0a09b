package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
)

func newTestAuthenticator(t *testing.T, password string) *Authenticator {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	a, err := NewAuthenticator(config.SecurityConfig{
		PasswordHash: hash,
		JWT:          config.JWTConfig{AccessTokenTTL: 30},
	}, "rig-a")
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}
	return a
}

func TestAuthenticator_Disabled(t *testing.T) {
	a, err := NewAuthenticator(config.SecurityConfig{}, "rig-a")
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}
	if a.Enabled() {
		t.Error("Enabled() = true without a hash")
	}
	if _, _, err := a.Login("anything"); !errors.Is(err, ErrDisabled) {
		t.Errorf("Login() error = %v, want ErrDisabled", err)
	}
	if _, err := a.Verify("token"); !errors.Is(err, ErrDisabled) {
		t.Errorf("Verify() error = %v, want ErrDisabled", err)
	}

	var nilAuth *Authenticator
	if nilAuth.Enabled() {
		t.Error("nil authenticator reports enabled")
	}
}

func TestAuthenticator_BadHash(t *testing.T) {
	_, err := NewAuthenticator(config.SecurityConfig{PasswordHash: "plaintext"}, "rig-a")
	if err == nil {
		t.Fatal("NewAuthenticator() accepted an invalid hash")
	}
}

func TestAuthenticator_LoginAndVerify(t *testing.T) {
	a := newTestAuthenticator(t, "sprouts")
	if a.secret == "" {
		t.Fatal("random secret not generated")
	}

	fixed := time.Now()
	a.now = func() time.Time { return fixed }

	token, expires, err := a.Login("sprouts")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !expires.Equal(fixed.Add(30 * time.Minute)) {
		t.Errorf("expires = %v", expires)
	}

	claims, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != Subject || claims.Instance != "rig-a" {
		t.Errorf("claims = %+v", claims)
	}

	if _, _, err := a.Login("wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login(wrong) error = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthenticator_TokensDoNotCrossInstances(t *testing.T) {
	a := newTestAuthenticator(t, "sprouts")
	b := newTestAuthenticator(t, "sprouts")

	token, _, err := a.Login("sprouts")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify() with another secret = %v, want ErrTokenInvalid", err)
	}
}
