package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Status is the lifecycle state of a supervised helper.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const stderrChunk = 4096

// ErrStalled is passed to OnStop when the stall watchdog killed the child.
var ErrStalled = errors.New("process: output stalled")

// Config describes one supervised helper binary.
type Config struct {
	// Name identifies the helper in logs.
	Name   string
	Binary string
	Args   []string

	// Stdout receives the child's standard output. Without a sink, stdout
	// is logged at debug level like stderr.
	Stdout io.Writer

	// RestartOnFailure restarts a child that exits on its own, waiting
	// RestartDelay doubled per consecutive failure, capped at
	// MaxRestartDelay. A run longer than StableThreshold resets the count.
	RestartOnFailure   bool
	RestartDelay       time.Duration
	MaxRestartDelay    time.Duration
	StableThreshold    time.Duration
	MaxRestartAttempts int // 0 means unlimited

	// GracefulTimeout separates SIGTERM from SIGKILL on Stop.
	GracefulTimeout time.Duration

	// StallTimeout kills a child whose Stdout sink has been idle this long.
	// Zero disables the watchdog.
	StallTimeout time.Duration

	// OnStop runs after every exit; err is nil when Stop was requested.
	OnStop func(err error)
}

// DefaultConfig returns a restarting Config for binary.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:               name,
		Binary:             binary,
		Args:               args,
		RestartOnFailure:   true,
		RestartDelay:       2 * time.Second,
		MaxRestartDelay:    time.Minute,
		StableThreshold:    2 * time.Minute,
		MaxRestartAttempts: 10,
		GracefulTimeout:    5 * time.Second,
	}
}

// Logger is the logging interface used by the manager.
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

// Manager runs one helper process and keeps it alive until Stop.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	logger Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	status   Status
	started  time.Time
	failures int
	stopping bool
	stopCh   chan struct{}
	done     chan struct{}

	// lastOutput is the unix nano time of the latest stdout write.
	lastOutput atomic.Int64
}

// NewManager fills unset delays with the DefaultConfig values.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig(cfg.Name, cfg.Binary, cfg.Args)
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = def.RestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = def.MaxRestartDelay
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = def.StableThreshold
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = def.GracefulTimeout
	}
	return &Manager{cfg: cfg, logger: noopLogger{}, status: StatusStopped}
}

// SetLogger replaces the no-op logger.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Start launches the child and supervises it in the background until ctx
// is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.cfg.Name)
	}
	m.status = StatusStarting
	m.stopping = false
	m.failures = 0
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.spawn(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		close(m.done)
		m.mu.Unlock()
		return err
	}
	go m.supervise(ctx)
	return nil
}

// spawn starts one child in its own process group.
func (m *Manager) spawn(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, m.cfg.Binary, m.cfg.Args...) //nolint:gosec // binary comes from validated config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout io.ReadCloser
	if m.cfg.Stdout != nil {
		cmd.Stdout = &activityWriter{w: m.cfg.Stdout, last: &m.lastOutput}
	} else {
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("creating stdout pipe: %w", err)
		}
		stdout = pipe
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.cfg.Name, err)
	}

	m.lastOutput.Store(time.Now().UnixNano())
	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.started = time.Now()
	m.mu.Unlock()

	go m.logStream("stderr", stderr)
	if stdout != nil {
		go m.logStream("stdout", stdout)
	}
	m.logger.Info("helper started", "name", m.cfg.Name, "pid", cmd.Process.Pid, "args", m.cfg.Args)
	return nil
}

func (m *Manager) logStream(stream string, r io.Reader) {
	buf := make([]byte, stderrChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.logger.Debug("helper output", "name", m.cfg.Name, "stream", stream, "output", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// wait returns when cmd exits, killing its group first if the stdout sink
// goes quiet for longer than StallTimeout.
func (m *Manager) wait(ctx context.Context, cmd *exec.Cmd) error {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if m.cfg.StallTimeout <= 0 || m.cfg.Stdout == nil {
		return <-exited
	}
	tick := time.NewTicker(m.cfg.StallTimeout / 2)
	defer tick.Stop()
	for {
		select {
		case err := <-exited:
			return err
		case <-ctx.Done():
			return <-exited
		case <-tick.C:
			idle := time.Since(time.Unix(0, m.lastOutput.Load()))
			if idle < m.cfg.StallTimeout {
				continue
			}
			m.logger.Error("helper output stalled, killing", "name", m.cfg.Name, "idle", idle)
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL) //nolint:errcheck // Wait reports the outcome
			<-exited
			return ErrStalled
		}
	}
}

// backoff is RestartDelay doubled per consecutive failure, capped.
func (m *Manager) backoff(failures int) time.Duration {
	d := m.cfg.RestartDelay
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= m.cfg.MaxRestartDelay {
			return m.cfg.MaxRestartDelay
		}
	}
	return d
}

func (m *Manager) supervise(ctx context.Context) {
	defer close(m.done)
	for {
		m.mu.Lock()
		cmd, started, stopCh := m.cmd, m.started, m.stopCh
		m.mu.Unlock()

		err := m.wait(ctx, cmd)

		m.mu.Lock()
		stopping := m.stopping
		if time.Since(started) >= m.cfg.StableThreshold {
			m.failures = 0
		}
		m.mu.Unlock()

		if stopping || ctx.Err() != nil {
			m.logger.Info("helper stopped", "name", m.cfg.Name)
			m.setStatus(StatusStopped)
			m.notifyStop(nil)
			return
		}

		m.logger.Warn("helper exited", "name", m.cfg.Name, "error", err)
		m.setStatus(StatusFailed)
		m.notifyStop(exitError(err))
		if !m.cfg.RestartOnFailure {
			return
		}

		m.mu.Lock()
		m.failures++
		attempt := m.failures
		m.mu.Unlock()
		if m.cfg.MaxRestartAttempts > 0 && attempt > m.cfg.MaxRestartAttempts {
			m.logger.Error("helper restart limit reached", "name", m.cfg.Name, "attempts", attempt)
			return
		}

		delay := m.backoff(attempt)
		m.logger.Info("restarting helper", "name", m.cfg.Name, "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			m.setStatus(StatusStopped)
			return
		case <-stopCh:
			m.setStatus(StatusStopped)
			return
		case <-time.After(delay):
		}

		if err := m.spawn(ctx); err != nil {
			m.logger.Error("restarting helper failed", "name", m.cfg.Name, "error", err)
			m.setStatus(StatusFailed)
			return
		}
	}
}

// exitError makes a clean exit non-nil, so OnStop can tell it from Stop.
func exitError(err error) error {
	if err == nil {
		return errors.New("process: exited")
	}
	return err
}

func (m *Manager) notifyStop(err error) {
	if m.cfg.OnStop != nil {
		m.cfg.OnStop(err)
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Stop sends SIGTERM to the child's group, escalates to SIGKILL after
// GracefulTimeout and waits for supervision to end. It is a no-op when
// nothing was started.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status == StatusStopped || m.done == nil {
		m.mu.Unlock()
		return nil
	}
	if !m.stopping {
		close(m.stopCh)
		m.stopping = true
	}
	cmd, done := m.cmd, m.done
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}
	pid := cmd.Process.Pid
	m.logger.Info("stopping helper", "name", m.cfg.Name, "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("sending SIGTERM", "name", m.cfg.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.cfg.GracefulTimeout):
		m.logger.Warn("helper ignored SIGTERM, killing", "name", m.cfg.Name, "timeout", m.cfg.GracefulTimeout)
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing %s: %w", m.cfg.Name, err)
	}
	<-done
	return nil
}

// Status returns the lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsRunning reports whether a child is alive.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// activityWriter forwards to w and stamps each write for the watchdog.
type activityWriter struct {
	w    io.Writer
	last *atomic.Int64
}

func (a *activityWriter) Write(p []byte) (int, error) {
	a.last.Store(time.Now().UnixNano())
	return a.w.Write(p)
}
