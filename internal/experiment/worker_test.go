package experiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/jpeg"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolatrozzi/spiro/internal/camera"
	"github.com/nicolatrozzi/spiro/internal/clock"
	"github.com/nicolatrozzi/spiro/internal/hardware"
	"github.com/nicolatrozzi/spiro/internal/imaging"
	"github.com/nicolatrozzi/spiro/internal/preview"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

type memRecorder struct {
	mu       sync.Mutex
	runs     []RunRecord
	captures []CaptureRecord
	finished chan finishRecord
	// onFinish runs inside RunFinished, while the run is still finalising.
	onFinish func()
}

type finishRecord struct {
	ID     string
	At     time.Time
	Rounds int
	Reason string
}

func newMemRecorder() *memRecorder {
	return &memRecorder{finished: make(chan finishRecord, 4)}
}

func (m *memRecorder) RunStarted(_ context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memRecorder) RunFinished(ctx context.Context, id string, at time.Time, rounds int, reason string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if m.onFinish != nil {
		m.onFinish()
	}
	m.finished <- finishRecord{ID: id, At: at, Rounds: rounds, Reason: reason}
	return nil
}

func (m *memRecorder) CaptureRecorded(_ context.Context, c CaptureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = append(m.captures, c)
	return nil
}

func (m *memRecorder) Captures() []CaptureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CaptureRecord(nil), m.captures...)
}

type memHub struct {
	mu     sync.Mutex
	events []hubEvent
}

type hubEvent struct {
	Channel string
	Payload any
}

func (h *memHub) Broadcast(channel string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hubEvent{Channel: channel, Payload: payload})
}

func (h *memHub) statuses() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Status
	for _, ev := range h.events {
		if s, ok := ev.Payload.(State); ok && ev.Channel == ChannelStatus {
			out = append(out, s.Status)
		}
	}
	return out
}

type memMQTT struct {
	mu       sync.Mutex
	retained map[string]int
	plain    map[string]int
}

func newMemMQTT() *memMQTT {
	return &memMQTT{retained: map[string]int{}, plain: map[string]int{}}
}

func (m *memMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	if !json.Valid(payload) {
		return errors.New("invalid payload")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if retained {
		m.retained[topic]++
	} else {
		m.plain[topic]++
	}
	return nil
}

type memMetrics struct {
	mu       sync.Mutex
	captures int
	rounds   []int
}

func (m *memMetrics) WriteCaptureMetric(string, int, bool, float64, time.Duration, time.Time) {
	m.mu.Lock()
	m.captures++
	m.mu.Unlock()
}

func (m *memMetrics) WriteRoundMetric(_ string, _ int, remaining int, _ time.Time) {
	m.mu.Lock()
	m.rounds = append(m.rounds, remaining)
	m.mu.Unlock()
}

// flakyCamera fails the nth full capture.
type flakyCamera struct {
	*camera.Sim
	mu     sync.Mutex
	calls  int
	failOn int
}

func (f *flakyCamera) Capture(ctx context.Context) (*camera.Frame, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n == f.failOn {
		return nil, errors.New("sensor timeout")
	}
	return f.Sim.Capture(ctx)
}

// ─── Harness ────────────────────────────────────────────────────────────────

var start = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type harness struct {
	w       *Worker
	clk     *clock.Fake
	cam     *camera.Sim
	rig     *hardware.Sim
	rec     *memRecorder
	hub     *memHub
	mqtt    *memMQTT
	metrics *memMetrics
	cfg     RunConfig
}

func newHarness(t *testing.T, wrap func(*camera.Sim) camera.Camera) *harness {
	t.Helper()
	clk := clock.NewFake(start)
	cam := camera.NewSim(camera.SimConfig{
		Resolution:      camera.Resolution{Width: 64, Height: 48},
		VideoResolution: camera.Resolution{Width: 32, Height: 24},
		Scene:           camera.DaylightScene(7, 19),
		Clock:           clk,
	})
	var c camera.Camera = cam
	if wrap != nil {
		c = wrap(cam)
	}

	h := &harness{
		clk:     clk,
		cam:     cam,
		rig:     hardware.NewSim(clk),
		rec:     newMemRecorder(),
		hub:     &memHub{},
		mqtt:    newMemMQTT(),
		metrics: &memMetrics{},
		cfg: RunConfig{
			Name:        "arabidopsis",
			Dir:         t.TempDir(),
			Delay:       60,
			Duration:    1,
			Exposure:    imaging.Exposure{DayShutter: 100, DayISO: 50, NightShutter: 10, NightISO: 400},
			Calibration: 8,
		},
	}

	w, err := NewWorker(Deps{
		Camera:   c,
		Rig:      h.rig,
		Previews: preview.New(Plates, 32, 24),
		Clock:    clk,
		MQTT:     h.mqtt,
		Topics:   Topics{Status: "spiro/test/experiment/status", Capture: "spiro/test/experiment/capture"},
		Hub:      h.hub,
		Metrics:  h.metrics,
		Recorder: h.rec,
	}, Options{
		Instance:         "test",
		Defaults:         h.cfg,
		SampleResolution: camera.Resolution{Width: 32, Height: 24},
		Format:           "png",
		StepDelay:        time.Millisecond,
		LiveView:         true,
	})
	require.NoError(t, err)
	h.w = w
	return h
}

// run starts the worker, submits cfg and waits for the run to finish.
func (h *harness) run(t *testing.T, cfg RunConfig) finishRecord {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, h.w.Go(cfg))
	fin := h.awaitFinish(t)
	require.Eventually(t, func() bool { return !h.w.Snapshot().Running }, 5*time.Second, time.Millisecond)
	return fin
}

func (h *harness) awaitFinish(t *testing.T) finishRecord {
	t.Helper()
	select {
	case fin := <-h.rec.finished:
		return fin
	case <-time.After(30 * time.Second):
		t.Fatal("experiment did not finish")
		return finishRecord{}
	}
}

// idleRotations returns the step counts of half-steps issued straight after
// engaging the motor; plate advances follow a home or another advance.
func idleRotations(events []hardware.Event) []int {
	var idle []int
	for i := 1; i < len(events); i++ {
		prev, ev := events[i-1], events[i]
		if ev.Kind == hardware.EventHalfStep && prev.Kind == hardware.EventMotor && prev.On {
			idle = append(idle, ev.Steps)
		}
	}
	return idle
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestWorker_FullDay(t *testing.T) {
	h := newHarness(t, nil)
	fin := h.run(t, h.cfg)

	assert.Equal(t, ReasonCompleted, fin.Reason)
	assert.Equal(t, 24, fin.Rounds)
	assert.Equal(t, start.Add(24*time.Hour), h.clk.Now())

	pattern := regexp.MustCompile(`^plate(\d)-\d{8}-\d{6}\.png$`)
	total := 0
	for plate := 1; plate <= Plates; plate++ {
		entries, err := os.ReadDir(filepath.Join(h.cfg.Dir, "plate"+string(rune('0'+plate))))
		require.NoError(t, err)

		var names []string
		for _, e := range entries {
			m := pattern.FindStringSubmatch(e.Name())
			require.NotNil(t, m, "unexpected file %s", e.Name())
			assert.Equal(t, string(rune('0'+plate)), m[1])
			names = append(names, e.Name())
		}
		assert.Len(t, names, 24)
		assert.True(t, sort.StringsAreSorted(names))
		for i := 1; i < len(names); i++ {
			assert.Less(t, names[i-1], names[i], "timestamps must strictly increase")
		}
		total += len(names)
	}
	assert.Equal(t, 96, total)
	assert.Equal(t, 96, h.cam.Captures())

	h.metrics.mu.Lock()
	assert.Equal(t, 96, h.metrics.captures)
	assert.Len(t, h.metrics.rounds, 24)
	assert.Equal(t, 0, h.metrics.rounds[23])
	h.metrics.mu.Unlock()
}

func TestWorker_RoundsAreSequential(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.cfg
	cfg.Delay = 240
	h.run(t, cfg)

	captures := h.rec.Captures()
	require.Len(t, captures, 6*Plates)
	for i, c := range captures {
		assert.Equal(t, i/Plates+1, c.Round, "capture %d", i)
		assert.Equal(t, i%Plates+1, c.Plate, "capture %d", i)
		assert.Empty(t, c.Error)
		assert.FileExists(t, c.Path)
		if i > 0 {
			assert.True(t, c.CapturedAt.After(captures[i-1].CapturedAt))
		}
	}
}

func TestWorker_WhiteBalanceEdges(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t, h.cfg)

	captures := h.rec.Captures()
	recalibrations, transitions := 0, 0
	prev := imaging.DaytimeUnknown
	for _, c := range captures {
		if c.WBRecalibrated {
			recalibrations++
		}
		if cur := imaging.DaytimeOf(c.Daytime); cur != prev {
			transitions++
			prev = cur
		}
	}
	// noon start: day, night from 19:00, day again from 07:00
	assert.Equal(t, 3, transitions)
	assert.Equal(t, 2, recalibrations)
	assert.LessOrEqual(t, recalibrations, transitions)
}

func TestWorker_Finalize(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.cam.SetColorEffects(&camera.ColorEffect{U: 128, V: 128}))
	h.run(t, h.cfg)

	snap := h.w.Snapshot()
	assert.Equal(t, StatusStopped, snap.Status)
	assert.False(t, snap.Running)
	assert.False(t, snap.StopRequested)
	assert.Zero(t, snap.RemainingShots)
	assert.Zero(t, snap.IdleOffset)
	assert.Equal(t, imaging.DaytimeUnknown, snap.CurrentDaytime)
	for _, p := range snap.LastCaptured {
		assert.NotEmpty(t, p)
	}

	assert.Nil(t, h.cam.ColorEffects())
	assert.Equal(t, camera.ExposureAuto, h.cam.ExposureMode())
	assert.Equal(t, camera.AWBAuto, h.cam.AWBMode())
	assert.Equal(t, camera.ModeVideo, h.cam.Mode())

	motor, led, _ := h.rig.State()
	assert.False(t, motor)
	assert.False(t, led)

	statuses := h.hub.statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, StatusInitiating, statuses[0])
	assert.Equal(t, StatusStopped, statuses[len(statuses)-1])
	assert.Contains(t, statuses, StatusFindingStart)
	assert.Contains(t, statuses, StatusImaging)
	assert.Contains(t, statuses, StatusWaiting)

	h.mqtt.mu.Lock()
	assert.Positive(t, h.mqtt.retained["spiro/test/experiment/status"])
	assert.Equal(t, 96, h.mqtt.plain["spiro/test/experiment/capture"])
	h.mqtt.mu.Unlock()
}

func TestWorker_StopMidRound(t *testing.T) {
	h := newHarness(t, nil)
	homes := 0
	h.rig.SetHook(func(ev hardware.Event) error {
		if ev.Kind == hardware.EventFindStart {
			homes++
			if homes == 2 {
				h.w.Stop()
				assert.Equal(t, StatusStopping, h.w.Snapshot().Status)
			}
		}
		return nil
	})

	fin := h.run(t, h.cfg)
	assert.Equal(t, ReasonStopped, fin.Reason)
	assert.Equal(t, 2, fin.Rounds)

	captures := h.rec.Captures()
	require.Len(t, captures, 2*Plates)
	last := captures[len(captures)-1]
	assert.Equal(t, Plates, last.Plate)
	assert.LessOrEqual(t, fin.At.Sub(last.CapturedAt.Add(last.Duration)), PollInterval)

	statuses := h.hub.statuses()
	assert.Contains(t, statuses, StatusStopping)
	assert.Equal(t, StatusStopped, statuses[len(statuses)-1])

	// round 2 would park at offset 1; a stopping run skips the idle rotation
	assert.Empty(t, idleRotations(h.rig.Events()))
}

func TestWorker_StopWhileFinishingDoesNotLeak(t *testing.T) {
	h := newHarness(t, nil)
	h.rec.onFinish = func() { h.w.Stop() }
	cfg := h.cfg
	cfg.Delay = 720

	fin := h.run(t, cfg)
	assert.Equal(t, ReasonCompleted, fin.Reason)
	assert.Equal(t, 2, fin.Rounds)

	snap := h.w.Snapshot()
	assert.False(t, snap.StopRequested)
	assert.Equal(t, StatusStopped, snap.Status)

	// a stop after the run is over is ignored
	h.rec.onFinish = nil
	h.w.Stop()
	assert.False(t, h.w.Snapshot().StopRequested)

	require.NoError(t, h.w.Go(cfg))
	fin = h.awaitFinish(t)
	assert.Equal(t, ReasonCompleted, fin.Reason)
	assert.Equal(t, 2, fin.Rounds)
}

func TestWorker_SecondRunStartsClean(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.cfg
	cfg.Delay = 720
	firstRun := h.run(t, cfg)

	first := h.w.Snapshot()
	for _, p := range first.LastCaptured {
		require.NotEmpty(t, p)
	}

	var (
		once   sync.Once
		atHome State
	)
	h.rig.SetHook(func(ev hardware.Event) error {
		if ev.Kind == hardware.EventFindStart {
			once.Do(func() { atHome = h.w.Snapshot() })
		}
		return nil
	})

	second := cfg
	second.Dir = t.TempDir()
	require.NoError(t, h.w.Go(second))
	fin := h.awaitFinish(t)
	require.Equal(t, ReasonCompleted, fin.Reason)

	assert.True(t, atHome.Running)
	assert.False(t, atHome.StopRequested)
	assert.Equal(t, [Plates]string{}, atHome.LastCaptured)
	assert.Equal(t, imaging.DaytimeUnknown, atHome.CurrentDaytime)
	assert.Zero(t, atHome.Round)
	assert.Zero(t, atHome.IdleOffset)
	assert.Equal(t, second.Dir, atHome.Dir)
	assert.NotEqual(t, firstRun.ID, atHome.RunID)
	assert.Equal(t, fin.ID, atHome.RunID)

	require.Eventually(t, func() bool { return !h.w.Snapshot().Running }, 5*time.Second, time.Millisecond)
	for plate, p := range h.w.Snapshot().LastCaptured {
		assert.True(t, strings.HasPrefix(p, second.Dir), "plate %d: %s", plate+1, p)
	}
}


func TestWorker_GoWhileRunning(t *testing.T) {
	h := newHarness(t, nil)
	var (
		goErr         error
		before, after State
	)
	h.rig.SetHook(func(ev hardware.Event) error {
		if ev.Kind == hardware.EventFindStart && goErr == nil {
			before = h.w.Snapshot()
			other := h.cfg
			other.Duration = 3
			goErr = h.w.Go(other)
			after = h.w.Snapshot()
			h.w.Stop()
		}
		return nil
	})

	fin := h.run(t, h.cfg)
	assert.ErrorIs(t, goErr, ErrAlreadyRunning)
	assert.Equal(t, before.StartTime, after.StartTime)
	assert.Equal(t, before.RemainingShots, after.RemainingShots)
	assert.Equal(t, 24, after.TotalShots)
	assert.Equal(t, 1, fin.Rounds)
}

func TestWorker_ContextCancelStops(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.rig.SetHook(func(ev hardware.Event) error {
		if ev.Kind == hardware.EventFindStart {
			cancel()
		}
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- h.w.Run(ctx) }()
	require.NoError(t, h.w.Go(h.cfg))

	fin := h.awaitFinish(t)
	assert.Equal(t, ReasonStopped, fin.Reason)
	assert.Equal(t, 1, fin.Rounds)
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, h.w.Snapshot().Running)
}

func TestWorker_CaptureFailureDoesNotStarvePlates(t *testing.T) {
	h := newHarness(t, func(s *camera.Sim) camera.Camera {
		return &flakyCamera{Sim: s, failOn: 2}
	})
	cfg := h.cfg
	cfg.Delay = 720
	h.run(t, cfg)

	captures := h.rec.Captures()
	require.Len(t, captures, 2*Plates)
	assert.NotEmpty(t, captures[1].Error)
	assert.Empty(t, captures[1].Path)
	for i, c := range captures {
		if i == 1 {
			continue
		}
		assert.Empty(t, c.Error, "capture %d", i)
		assert.FileExists(t, c.Path)
	}

	_, led, _ := h.rig.State()
	assert.False(t, led)
}

func TestWorker_HomeFailureKeepsImaging(t *testing.T) {
	h := newHarness(t, nil)
	h.rig.SetHook(func(ev hardware.Event) error {
		if ev.Kind == hardware.EventFindStart {
			return hardware.ErrHomeNotFound
		}
		return nil
	})
	cfg := h.cfg
	cfg.Delay = 720
	h.run(t, cfg)

	assert.Len(t, h.rec.Captures(), 2*Plates)
}

func TestWorker_PanicStillFinalizes(t *testing.T) {
	h := newHarness(t, nil)
	var once sync.Once
	h.rig.SetHook(func(ev hardware.Event) error {
		if ev.Kind == hardware.EventHalfStep {
			once.Do(func() { panic("driver bug") })
		}
		return nil
	})

	fin := h.run(t, h.cfg)
	assert.Equal(t, ReasonFailed, fin.Reason)
	assert.Zero(t, fin.Rounds)

	snap := h.w.Snapshot()
	assert.Equal(t, StatusStopped, snap.Status)
	assert.False(t, snap.Running)
	assert.Equal(t, camera.ExposureAuto, h.cam.ExposureMode())
	motor, led, _ := h.rig.State()
	assert.False(t, motor)
	assert.False(t, led)

	// the worker accepts the next run
	h.rig.SetHook(nil)
	cfg := h.cfg
	cfg.Delay = 720
	require.NoError(t, h.w.Go(cfg))
	fin = h.awaitFinish(t)
	assert.Equal(t, ReasonCompleted, fin.Reason)
	assert.Equal(t, 2, fin.Rounds)
}

func TestWorker_IdleRotation(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.cfg
	cfg.Delay = 120
	h.run(t, cfg)

	// 12 rounds, offsets 0..7 then 0..3; offset 0 does not rotate
	assert.Equal(t, []int{50, 100, 150, 200, 250, 300, 350, 50, 100, 150}, idleRotations(h.rig.Events()))
}

func TestWorker_DefaultDirectory(t *testing.T) {
	h := newHarness(t, nil)
	root := t.TempDir()
	cfg := h.cfg
	cfg.Dir = ""
	cfg.Name = ""
	cfg.OutputRoot = root
	cfg.Delay = 720
	h.run(t, cfg)

	want := filepath.Join(root, "2026.03.02 test")
	assert.DirExists(t, filepath.Join(want, "plate1"))
	assert.DirExists(t, filepath.Join(want, "plate4"))
	h.rec.mu.Lock()
	assert.Equal(t, want, h.rec.runs[0].Dir)
	h.rec.mu.Unlock()
}

func TestWorker_Preview(t *testing.T) {
	h := newHarness(t, nil)

	_, _, _, err := h.w.Preview(0)
	assert.ErrorIs(t, err, ErrInvalidPlate)
	_, _, _, err = h.w.Preview(Plates + 1)
	assert.ErrorIs(t, err, ErrInvalidPlate)

	_, _, ok, err := h.w.Preview(1)
	require.NoError(t, err)
	assert.False(t, ok)

	cfg := h.cfg
	cfg.Delay = 720
	h.run(t, cfg)

	for plate := 1; plate <= Plates; plate++ {
		data, updated, ok, err := h.w.Preview(plate)
		require.NoError(t, err)
		require.True(t, ok)
		assert.False(t, updated.IsZero())

		img, err := jpeg.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.LessOrEqual(t, img.Bounds().Dx(), 32)
		assert.LessOrEqual(t, img.Bounds().Dy(), 24)
	}
}

func TestWorker_GoValidation(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.cfg
	cfg.Delay = 0
	assert.ErrorIs(t, h.w.Go(cfg), ErrInvalidConfig)
	assert.False(t, h.w.Snapshot().Running)
}

func TestWorker_StopWhenIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.w.Stop()
	snap := h.w.Snapshot()
	assert.False(t, snap.StopRequested)
	assert.Equal(t, StatusStopped, snap.Status)
}

func TestWorker_HandleCommand(t *testing.T) {
	h := newHarness(t, nil)

	assert.Error(t, h.w.HandleCommand("cmd", []byte("{")))
	assert.ErrorIs(t, h.w.HandleCommand("cmd", []byte(`{"command":"dance"}`)), ErrUnknownCommand)
	assert.ErrorIs(t, h.w.HandleCommand("cmd", []byte(`{"command":"start","delay":-1}`)), ErrInvalidConfig)

	require.NoError(t, h.w.HandleCommand("cmd", []byte(`{"command":"start","name":"remote","duration":2}`)))
	assert.True(t, h.w.Snapshot().Running)

	// a second start is ignored
	require.NoError(t, h.w.HandleCommand("cmd", []byte(`{"command":"start"}`)))

	require.NoError(t, h.w.HandleCommand("cmd", []byte(`{"command":"stop"}`)))
	assert.True(t, h.w.Snapshot().StopRequested)

	cmd := <-h.w.cmds
	assert.Equal(t, "remote", cmd.cfg.Name)
	assert.Equal(t, 2, cmd.cfg.Duration)
	assert.Equal(t, 60, cmd.cfg.Delay)
}

func TestNewWorker_Validation(t *testing.T) {
	_, err := NewWorker(Deps{}, Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cam := camera.NewSim(camera.SimConfig{})
	_, err = NewWorker(Deps{
		Camera:   cam,
		Rig:      hardware.NewSim(nil),
		Previews: preview.New(Plates, 80, 60),
	}, Options{Format: "tiff"})
	assert.ErrorIs(t, err, imaging.ErrUnsupportedFormat)
}
