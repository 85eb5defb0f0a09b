package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nicolatrozzi/spiro/internal/panel"
)

// healthTimeout bounds the component checks of /health.
const healthTimeout = 3 * time.Second

// buildRouter creates the router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Handle("/panel/*", http.StripPrefix("/panel", panel.Handler(s.panelDir)))
	r.Handle("/panel", http.RedirectHandler("/panel/", http.StatusMovedPermanently))
	r.Handle("/", http.RedirectHandler("/panel/", http.StatusFound))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/metrics", s.handleMetrics)

			r.Route("/experiment", func(r chi.Router) {
				r.Get("/", s.handleGetExperiment)
				r.Post("/start", s.handleStartExperiment)
				r.Post("/stop", s.handleStopExperiment)
				r.Get("/preview/{plate}", s.handlePreview)
			})

			r.Route("/experiments", func(r chi.Router) {
				r.Get("/", s.handleListRuns)
				r.Get("/{id}", s.handleGetRun)
				r.Get("/{id}/captures", s.handleListCaptures)
			})

			r.Get("/live", s.handleLive)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth reports the version and the state of each component. Any
// failing component turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(s.health))
	for name, c := range s.health {
		if err := c.HealthCheck(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"experiment": s.experiment.Snapshot().Status,
		"components": components,
	})
}
