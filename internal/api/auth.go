package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nicolatrozzi/spiro/internal/auth"
)

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleLogin exchanges the operator password for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Enabled() {
		writeNotFound(w, "authentication is disabled")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Password == "" {
		writeBadRequest(w, "password is required")
		return
	}

	token, expires, err := s.auth.Login(req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.logger.Warn("failed login attempt", "remote", r.RemoteAddr)
		writeUnauthorized(w, "invalid credentials")
		return
	case err != nil:
		s.logger.Error("login failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expires).Seconds()),
	})
}
