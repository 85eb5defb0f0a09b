package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a goroutine-safe bytes.Buffer for capturing child stdout.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{Name: "test-proc", Binary: "/usr/bin/test"})

	if m.cfg.RestartDelay != 2*time.Second {
		t.Errorf("RestartDelay = %v, want %v", m.cfg.RestartDelay, 2*time.Second)
	}
	if m.cfg.MaxRestartDelay != time.Minute {
		t.Errorf("MaxRestartDelay = %v, want %v", m.cfg.MaxRestartDelay, time.Minute)
	}
	if m.cfg.StableThreshold != 2*time.Minute {
		t.Errorf("StableThreshold = %v, want %v", m.cfg.StableThreshold, 2*time.Minute)
	}
	if m.cfg.GracefulTimeout != 5*time.Second {
		t.Errorf("GracefulTimeout = %v, want %v", m.cfg.GracefulTimeout, 5*time.Second)
	}
	if m.cfg.RestartOnFailure {
		t.Error("RestartOnFailure = true, want the caller's false")
	}
}

func TestDefaultConfig_Function(t *testing.T) {
	cfg := DefaultConfig("rpicam-vid", "rpicam-vid", []string{"-t", "0"})

	if cfg.Name != "rpicam-vid" {
		t.Errorf("Name = %q, want %q", cfg.Name, "rpicam-vid")
	}
	if !cfg.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if cfg.MaxRestartAttempts != 10 {
		t.Errorf("MaxRestartAttempts = %d, want 10", cfg.MaxRestartAttempts)
	}
}

func TestManager_InitialState(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})

	if m.Status() != StatusStopped {
		t.Errorf("initial Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
}

func TestManager_StopWhenNotRunning(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() on stopped process error = %v, want nil", err)
	}
}

func TestManager_StartAndStop(t *testing.T) {
	m := NewManager(Config{
		Name:            "test-sleep",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !m.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	if err := m.Start(ctx); err == nil {
		t.Error("second Start() expected error, got nil")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{Name: "bad-binary", Binary: "/nonexistent/binary"})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() with invalid binary expected error, got nil")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() after failed start error = %v", err)
	}
}

func TestManager_StdoutSink(t *testing.T) {
	var out syncBuffer
	stopped := make(chan error, 1)
	m := NewManager(Config{
		Name:   "echo",
		Binary: "/bin/echo",
		Args:   []string{"frame"},
		Stdout: &out,
		OnStop: func(err error) { stopped <- err },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	if got := out.String(); got != "frame\n" {
		t.Errorf("stdout = %q, want %q", got, "frame\n")
	}
}

func TestManager_StallWatchdog(t *testing.T) {
	var out syncBuffer
	stopped := make(chan error, 1)
	m := NewManager(Config{
		Name:         "silent",
		Binary:       "/bin/sleep",
		Args:         []string{"30"},
		Stdout:       &out,
		StallTimeout: 200 * time.Millisecond,
		OnStop:       func(err error) { stopped <- err },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case err := <-stopped:
		if !errors.Is(err, ErrStalled) {
			t.Errorf("OnStop error = %v, want ErrStalled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stalled process was not killed")
	}
}

func TestBackoff(t *testing.T) {
	m := NewManager(Config{
		Name:            "test",
		Binary:          "/bin/true",
		RestartDelay:    1 * time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{9, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			if got := m.backoff(tt.attempt); got != tt.want {
				t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestManager_OnStopReportsExit(t *testing.T) {
	stopped := make(chan error, 1)
	m := NewManager(Config{
		Name:   "true",
		Binary: "/bin/true",
		OnStop: func(err error) { stopped <- err },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	select {
	case err := <-stopped:
		if err == nil {
			t.Error("OnStop error = nil for an unrequested exit")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestManager_OnStopAfterStop(t *testing.T) {
	stopped := make(chan error, 1)
	m := NewManager(Config{
		Name:            "sleep",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
		OnStop:          func(err error) { stopped <- err },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if err := <-stopped; err != nil {
		t.Errorf("OnStop error = %v, want nil after Stop", err)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
}
