package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nicolatrozzi/spiro/internal/experiment"
)

// handleGetExperiment returns the current experiment state.
func (s *Server) handleGetExperiment(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.experiment.Snapshot())
}

// handleStartExperiment starts a run from the configured defaults. The
// optional body may override name, dir, delay (minutes) and duration
// (days).
func (s *Server) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	var o experiment.Overrides
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.experiment.Start(o)
	switch {
	case errors.Is(err, experiment.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, ErrCodeConflict, "an experiment is already running")
		return
	case errors.Is(err, experiment.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	case err != nil:
		s.logger.Error("starting experiment", "error", err)
		writeInternalError(w, "failed to start experiment")
		return
	}

	s.logger.Info("experiment start accepted", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, s.experiment.Snapshot())
}

// handleStopExperiment asks the running experiment to stop after the
// current round.
func (s *Server) handleStopExperiment(w http.ResponseWriter, r *http.Request) {
	s.experiment.Stop()
	s.logger.Info("experiment stop requested", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, s.experiment.Snapshot())
}

// handlePreview serves the latest thumbnail of one plate.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	plate, err := strconv.Atoi(chi.URLParam(r, "plate"))
	if err != nil {
		writeBadRequest(w, "plate must be a number")
		return
	}

	data, updated, ok, err := s.experiment.Preview(plate)
	if errors.Is(err, experiment.ErrInvalidPlate) {
		writeBadRequest(w, "plate must be between 1 and "+strconv.Itoa(experiment.Plates))
		return
	}
	if err != nil {
		writeInternalError(w, "failed to read preview")
		return
	}
	if !ok {
		writeNotFound(w, "no preview for this plate yet")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Last-Modified", updated.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may have gone
	w.Write(data)
}
