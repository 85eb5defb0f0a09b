// Package auth guards the control surface with a single operator password.
//
// The password is configured as an Argon2id PHC hash (see cmd/spiro-passwd).
// A successful login returns a short-lived HS256 JWT which the API accepts
// as a bearer token or as the "token" query parameter for WebSocket and
// MJPEG clients. When no hash is configured authentication is disabled.
package auth
