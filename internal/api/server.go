package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nicolatrozzi/spiro/internal/auth"
	"github.com/nicolatrozzi/spiro/internal/camera"
	"github.com/nicolatrozzi/spiro/internal/experiment"
	"github.com/nicolatrozzi/spiro/internal/history"
	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
	"github.com/nicolatrozzi/spiro/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight
// requests. Live view streams are cut when it expires.
const gracefulShutdownTimeout = 10 * time.Second

// Experiment is the part of the experiment worker the API drives.
type Experiment interface {
	Snapshot() experiment.State
	Start(o experiment.Overrides) error
	Stop()
	Preview(plate int) ([]byte, time.Time, bool, error)
}

// HealthChecker is implemented by components reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Experiment Experiment
	// History is optional; the history routes answer 503 without it.
	History history.Repository
	// Camera is optional; /live answers 503 without it.
	Camera camera.Camera
	Auth   *auth.Authenticator
	// Hub is created by New when nil.
	Hub *Hub
	// DB is optional; /metrics reports its pool statistics.
	DB DBStatser
	// Health lists named components checked by /health.
	Health map[string]HealthChecker
	// PanelDir serves the panel from disk instead of the embedded copy.
	PanelDir string
	Version  string
}

// Server is the HTTP control surface.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	experiment Experiment
	history    history.Repository
	camera     camera.Camera
	auth       *auth.Authenticator
	hub        *Hub
	health     map[string]HealthChecker
	db         DBStatser
	panelDir   string
	version    string
	startTime  time.Time

	server *http.Server
	cancel context.CancelFunc
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Experiment == nil {
		return nil, fmt.Errorf("experiment worker is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		experiment: deps.Experiment,
		history:    deps.History,
		camera:     deps.Camera,
		auth:       deps.Auth,
		hub:        deps.Hub,
		health:     deps.Health,
		db:         deps.DB,
		panelDir:   deps.PanelDir,
		version:    deps.Version,
		startTime:  time.Now(),
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	s.hub.SetSnapshot(func(channel string) (any, bool) {
		if channel == experiment.ChannelStatus {
			return s.experiment.Snapshot(), true
		}
		return nil, false
	})
	if !s.auth.Enabled() {
		s.logger.Warn("control surface authentication disabled: no password hash configured")
	}
	return s, nil
}

// Hub returns the WebSocket hub, for wiring into the experiment worker.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return srvCtx },
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close shuts the server down gracefully.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
