package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/nicolatrozzi/spiro/internal/camera"
	"github.com/nicolatrozzi/spiro/internal/clock"
	"github.com/nicolatrozzi/spiro/internal/hardware"
	"github.com/nicolatrozzi/spiro/internal/imaging"
	"github.com/nicolatrozzi/spiro/internal/preview"
)

// Timing constants of the round loop.
const (
	// PlateSettle precedes every capture.
	PlateSettle = 500 * time.Millisecond
	// PollInterval bounds the stop latency while waiting for a round.
	PollInterval = time.Second
	// PlateSteps is the half-step count between adjacent plates.
	PlateSteps = 100
	// IdleSteps is the extra rotation per idle offset unit.
	IdleSteps = 50
	// IdlePositions is the idle offset cycle length.
	IdlePositions = 8
)

// WebSocket channels used for experiment events.
const (
	ChannelStatus  = "experiment.status"
	ChannelCapture = "capture.completed"
)

// Logger is the logging interface used by the worker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient publishes experiment events to the broker.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// WSHub broadcasts experiment events to WebSocket subscribers.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// Metrics receives per-capture and per-round telemetry.
type Metrics interface {
	WriteCaptureMetric(runID string, plate int, daytime bool, brightness float64, duration time.Duration, at time.Time)
	WriteRoundMetric(runID string, round, remaining int, at time.Time)
}

// Recorder persists run and capture history.
type Recorder interface {
	RunStarted(ctx context.Context, run RunRecord) error
	RunFinished(ctx context.Context, id string, finishedAt time.Time, rounds int, reason string) error
	CaptureRecorded(ctx context.Context, c CaptureRecord) error
}

// Topics names the MQTT topics the worker publishes to. Empty topics are
// not published.
type Topics struct {
	Status  string
	Capture string
}

// Deps are the collaborators of a Worker. Camera, Rig and Previews are
// required; everything else is optional.
type Deps struct {
	Camera   camera.Camera
	Rig      hardware.Controller
	Previews *preview.Cache
	Clock    clock.Clock
	Logger   Logger

	MQTT     MQTTClient
	Topics   Topics
	Hub      WSHub
	Metrics  Metrics
	Recorder Recorder
}

// Options tune the worker.
type Options struct {
	// Instance names the rig in default directory names.
	Instance string
	// Defaults is the base configuration for Start.
	Defaults RunConfig
	// SampleResolution is used by the day/night classifier.
	SampleResolution camera.Resolution
	// Format is "png" or "jpeg".
	Format string
	// StepDelay is the pause between half-steps.
	StepDelay time.Duration
	// LiveView returns the camera to video mode between runs.
	LiveView bool
}

type command struct {
	cfg RunConfig
}

// Worker is the single owner of the camera and turntable. It runs at most
// one experiment at a time.
//
// Thread Safety: Go, Start, Stop, Snapshot, Preview and HandleCommand are
// safe for concurrent use with Run.
type Worker struct {
	cam      camera.Camera
	rig      hardware.Controller
	previews *preview.Cache
	pipeline *imaging.Pipeline
	clk      clock.Clock
	logger   Logger

	mqtt     MQTTClient
	topics   Topics
	hub      WSHub
	metrics  Metrics
	recorder Recorder

	opts Options

	cmds chan command

	mu      sync.Mutex
	state   State
	machine *fsm.FSM
}

// NewWorker wires a worker. It fails on an unsupported image format.
func NewWorker(deps Deps, opts Options) (*Worker, error) {
	if deps.Camera == nil || deps.Rig == nil || deps.Previews == nil {
		return nil, fmt.Errorf("%w: camera, rig and previews are required", ErrInvalidConfig)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if opts.StepDelay <= 0 {
		opts.StepDelay = 30 * time.Millisecond
	}

	pipeline, err := imaging.NewPipeline(deps.Camera, deps.Rig, deps.Clock, deps.Previews, imaging.PipelineConfig{
		Classifier: imaging.ClassifierConfig{SampleResolution: opts.SampleResolution},
		Exposure:   opts.Defaults.Exposure,
		Format:     opts.Format,
	}, deps.Logger)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		cam:      deps.Camera,
		rig:      deps.Rig,
		previews: deps.Previews,
		pipeline: pipeline,
		clk:      deps.Clock,
		logger:   deps.Logger,
		mqtt:     deps.MQTT,
		topics:   deps.Topics,
		hub:      deps.Hub,
		metrics:  deps.Metrics,
		recorder: deps.Recorder,
		opts:     opts,
		cmds:     make(chan command, 1),
		state:    State{Status: StatusStopped},
	}
	w.machine = newMachine(w.enterState)
	return w, nil
}

// enterState runs inside machine.Event, which is only called with w.mu held.
func (w *Worker) enterState(dst string) {
	w.state.Status = Status(dst)
}

// transition fires event if the machine allows it, applies mutate to the
// state in the same critical section and publishes the result. It reports
// whether the event fired.
func (w *Worker) transition(event string, mutate func(*State)) bool {
	w.mu.Lock()
	fired := false
	if w.machine.Can(event) {
		if err := w.machine.Event(event); err != nil {
			w.logger.Warn("status transition failed", "event", event, "error", err)
		} else {
			fired = true
		}
	}
	if mutate != nil {
		mutate(&w.state)
	}
	snap := w.state
	w.mu.Unlock()

	if fired {
		w.logger.Debug("experiment status", "status", snap.Status)
		w.publishStatus(snap)
	}
	return fired
}

// update mutates the state without a status change.
func (w *Worker) update(mutate func(*State)) State {
	w.mu.Lock()
	defer w.mu.Unlock()
	mutate(&w.state)
	return w.state
}

// Go requests a new experiment. It returns ErrAlreadyRunning while one is
// in progress, leaving that run untouched.
func (w *Worker) Go(cfg RunConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.Running {
		return ErrAlreadyRunning
	}
	select {
	case w.cmds <- command{cfg: cfg}:
	default:
		return ErrAlreadyRunning
	}
	w.state.Running = true
	w.state.StopRequested = false
	return nil
}

// Start runs Go on the default configuration with o applied.
func (w *Worker) Start(o Overrides) error {
	return w.Go(o.Apply(w.opts.Defaults))
}

// Stop asks the running experiment to finish its current round and stop.
// It is a no-op when nothing runs. The running check and the flag write
// share one critical section, so a stop racing the end of a run cannot
// leak into the next one.
func (w *Worker) Stop() {
	requested := false
	w.transition(eventStop, func(s *State) {
		if s.Running && !s.StopRequested {
			s.StopRequested = true
			requested = true
		}
	})
	if requested {
		w.logger.Info("experiment stop requested")
	}
}

// Snapshot returns a copy of the current state.
func (w *Worker) Snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Preview returns the thumbnail of plate (1..Plates).
func (w *Worker) Preview(plate int) ([]byte, time.Time, bool, error) {
	if plate < 1 || plate > Plates {
		return nil, time.Time{}, false, ErrInvalidPlate
	}
	data, updated, ok := w.previews.Get(plate - 1)
	return data, updated, ok, nil
}

// Run blocks, executing one experiment per accepted Go, until ctx is
// cancelled. Cancellation during a run acts as a stop request; the run
// is finalised before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("experiment worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("experiment worker stopped")
			return ctx.Err()
		case cmd := <-w.cmds:
			w.execute(ctx, cmd.cfg)
		}
	}
}

// remoteCommand is the MQTT command payload.
type remoteCommand struct {
	Command string `json:"command"`
	Overrides
}

// HandleCommand handles a JSON command received on the command topic:
// {"command":"start", "name":..., "delay":..., "duration":..., "dir":...}
// or {"command":"stop"}.
func (w *Worker) HandleCommand(topic string, payload []byte) error {
	var cmd remoteCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decoding command on %s: %w", topic, err)
	}
	switch cmd.Command {
	case "start":
		err := w.Start(cmd.Overrides)
		if errors.Is(err, ErrAlreadyRunning) {
			w.logger.Info("start ignored, experiment already running", "topic", topic)
			return nil
		}
		return err
	case "stop":
		w.Stop()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}

func (w *Worker) publishStatus(s State) {
	if w.hub != nil {
		w.hub.Broadcast(ChannelStatus, s)
	}
	w.publish(w.topics.Status, s, true)
}

func (w *Worker) publish(topic string, v any, retained bool) {
	if w.mqtt == nil || topic == "" {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		w.logger.Error("encoding mqtt payload", "topic", topic, "error", err)
		return
	}
	if err := w.mqtt.Publish(topic, payload, 1, retained); err != nil {
		w.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

func newRunID() string {
	return uuid.NewString()
}
