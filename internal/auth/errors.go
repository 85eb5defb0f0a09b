package auth

import "errors"

var (
	// ErrInvalidCredentials is returned for a wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrTokenInvalid is returned for a malformed, expired or foreign token.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrDisabled is returned by Login when no password hash is configured.
	ErrDisabled = errors.New("auth: authentication disabled")
)
