package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nicolatrozzi/spiro/internal/history"
)

// parseFilter reads limit and offset. Bad values fall back to defaults.
func parseFilter(r *http.Request) history.Filter {
	var f history.Filter
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		f.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		f.Offset = v
	}
	return f
}

// handleListRuns lists past and current runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "run history is not available")
		return
	}
	list, err := s.history.ListRuns(r.Context(), parseFilter(r))
	if err != nil {
		s.logger.Error("listing runs", "error", err)
		writeInternalError(w, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetRun returns one run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "run history is not available")
		return
	}
	run, err := s.history.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrRunNotFound) {
		writeNotFound(w, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("reading run", "error", err)
		writeInternalError(w, "failed to read run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleListCaptures lists the capture attempts of one run.
func (s *Server) handleListCaptures(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "run history is not available")
		return
	}
	id := chi.URLParam(r, "id")
	captures, err := s.history.ListCaptures(r.Context(), id, parseFilter(r))
	if errors.Is(err, history.ErrRunNotFound) {
		writeNotFound(w, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("listing captures", "run_id", id, "error", err)
		writeInternalError(w, "failed to list captures")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   id,
		"captures": captures,
	})
}
