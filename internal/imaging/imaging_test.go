package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolatrozzi/spiro/internal/camera"
	"github.com/nicolatrozzi/spiro/internal/clock"
	"github.com/nicolatrozzi/spiro/internal/preview"
)

// ─── Test doubles ────────────────────────────────────────────────────

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(ev string) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

func (l *eventLog) count(ev string) int {
	n := 0
	for _, e := range l.all() {
		if e == ev {
			n++
		}
	}
	return n
}

// recCam records the calls whose ordering matters.
type recCam struct {
	*camera.Sim
	log        *eventLog
	captureErr error
}

func (c *recCam) Capture(ctx context.Context) (*camera.Frame, error) {
	c.log.add("capture")
	if c.captureErr != nil {
		return nil, c.captureErr
	}
	return c.Sim.Capture(ctx)
}

func (c *recCam) SetAWBMode(m camera.AWBMode) error {
	c.log.add("awb:" + string(m))
	return c.Sim.SetAWBMode(m)
}

type recLED struct {
	log *eventLog
}

func (l *recLED) LEDControl(on bool) error {
	l.log.add(fmt.Sprintf("led:%v", on))
	return nil
}

type rig struct {
	cam      *recCam
	log      *eventLog
	clk      *clock.Fake
	previews *preview.Cache
	pipe     *Pipeline
	level    *uint8
}

func newRig(t *testing.T, format string) *rig {
	t.Helper()
	level := new(uint8)
	*level = 150
	clk := clock.NewFake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	log := &eventLog{}
	cam := &recCam{
		Sim: camera.NewSim(camera.SimConfig{
			Resolution: camera.Resolution{Width: 60, Height: 40},
			Scene:      func(time.Time) uint8 { return *level },
			Clock:      clk,
		}),
		log: log,
	}
	previews := preview.New(4, 32, 24)
	pipe, err := NewPipeline(cam, &recLED{log: log}, clk, previews, PipelineConfig{
		Classifier: ClassifierConfig{SampleResolution: camera.Resolution{Width: 16, Height: 12}},
		Exposure:   Exposure{DayShutter: 100, DayISO: 50, NightShutter: 10, NightISO: 400},
		Format:     format,
	}, nil)
	require.NoError(t, err)
	pipe.decode = func(raw *camera.Frame, logical camera.Resolution) image.Image {
		log.add("decode")
		return decodeRaw(raw, logical)
	}
	return &rig{cam: cam, log: log, clk: clk, previews: previews, pipe: pipe, level: level}
}

// ─── Classifier ──────────────────────────────────────────────────────

func TestClassifierThresholdAndRestore(t *testing.T) {
	tests := []struct {
		level uint8
		want  bool
	}{
		{0, false},
		{6, false},
		{8, true}, // mean of gradient is level+3.5
		{150, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.level), func(t *testing.T) {
			r := newRig(t, "png")
			*r.level = tt.level

			day, err := r.pipe.classifier.IsDaytime(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, day)
			assert.Equal(t, camera.Resolution{Width: 60, Height: 40}, r.cam.Resolution())
			assert.Equal(t, 50, r.cam.ISO())
			assert.Equal(t, 10000, r.cam.ShutterSpeed())
		})
	}
}

func TestClassifierRestoresResolutionOnFailure(t *testing.T) {
	r := newRig(t, "png")
	require.NoError(t, r.cam.Close())

	_, err := r.pipe.classifier.Classify(context.Background())
	assert.ErrorIs(t, err, camera.ErrClosed)
	assert.Equal(t, camera.Resolution{Width: 60, Height: 40}, r.cam.Resolution())
}

func TestShutterMicros(t *testing.T) {
	assert.Equal(t, 10000, ShutterMicros(100))
	assert.Equal(t, 100000, ShutterMicros(10))
	assert.Equal(t, 0, ShutterMicros(0))
}

// ─── Exposure ────────────────────────────────────────────────────────

func TestShouldRecalibrate(t *testing.T) {
	tests := []struct {
		prev   Daytime
		day    bool
		locked bool
		want   bool
	}{
		{DaytimeUnknown, true, false, true},
		{DaytimeNight, true, false, true},
		{DaytimeDay, true, false, false},
		{DaytimeDay, false, false, false},
		{DaytimeUnknown, false, false, false},
		{DaytimeNight, true, true, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v to day=%v locked=%v", tt.prev, tt.day, tt.locked), func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRecalibrate(tt.prev, tt.day, tt.locked))
		})
	}
}

func TestRecalibratePinsGains(t *testing.T) {
	r := newRig(t, "png")
	require.NoError(t, r.cam.SetAWBGains(camera.Gains{Red: 1.7, Blue: 1.3}))
	start := r.clk.Now()

	g, err := r.pipe.exposure.Recalibrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, camera.Gains{Red: 1.7, Blue: 1.3}, g)
	assert.Equal(t, camera.AWBOff, r.cam.AWBMode())
	assert.Equal(t, AWBConvergence, r.clk.Now().Sub(start))
	assert.Equal(t, []string{"awb:auto", "awb:off"}, r.log.all())
}

// ─── Pipeline ────────────────────────────────────────────────────────

func TestTakePictureDay(t *testing.T) {
	r := newRig(t, "png")
	dir := t.TempDir()

	res, err := r.pipe.TakePicture(context.Background(), dir, "plate1/plate1-20240501-090000", 0)
	require.NoError(t, err)

	assert.True(t, res.Daytime)
	assert.True(t, res.WBRecalibrated)
	assert.Equal(t, filepath.Join(dir, "plate1", "plate1-20240501-090000.png"), res.Path)
	assert.Equal(t, 10000, r.cam.ShutterSpeed())
	assert.Equal(t, 50, r.cam.ISO())
	assert.Nil(t, r.cam.ColorEffects())
	assert.Equal(t, camera.ExposureOff, r.cam.ExposureMode())
	assert.NotContains(t, r.log.all(), "led:true")

	f, err := os.Open(res.Path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(60, 40), img.Bounds().Size(), "cropped to logical resolution")

	thumb, updated, ok := r.previews.Get(0)
	require.True(t, ok)
	assert.NotEmpty(t, thumb)
	assert.Equal(t, r.clk.Now(), updated, "preview stamped by the injected clock")
}

func TestTakePictureNightLEDOrdering(t *testing.T) {
	r := newRig(t, "jpeg")
	*r.level = 0

	res, err := r.pipe.TakePicture(context.Background(), t.TempDir(), "plate2/night", 1)
	require.NoError(t, err)
	assert.False(t, res.Daytime)
	assert.False(t, res.WBRecalibrated)
	assert.Equal(t, ".jpg", filepath.Ext(res.Path))
	assert.Equal(t, 100000, r.cam.ShutterSpeed())
	assert.Equal(t, 400, r.cam.ISO())

	events := r.log.all()
	on := slices.Index(events, "led:true")
	capture := slices.Index(events, "capture")
	off := slices.Index(events, "led:false")
	decode := slices.Index(events, "decode")
	require.True(t, on >= 0 && capture >= 0 && off >= 0 && decode >= 0, "events %v", events)
	assert.Less(t, on, capture)
	assert.Less(t, capture, off)
	assert.Less(t, off, decode)
	assert.Equal(t, 1, r.log.count("led:false"))
}

func TestTakePictureCaptureFailureTurnsLEDOff(t *testing.T) {
	r := newRig(t, "png")
	*r.level = 0
	r.cam.captureErr = errors.New("mmal timeout")
	dir := t.TempDir()

	_, err := r.pipe.TakePicture(context.Background(), dir, "plate1/failed", 0)
	require.ErrorIs(t, err, r.cam.captureErr)

	events := r.log.all()
	assert.Equal(t, "led:false", events[len(events)-1])
	_, statErr := os.Stat(filepath.Join(dir, "plate1", "failed.png"))
	assert.True(t, os.IsNotExist(statErr))
	_, _, ok := r.previews.Get(0)
	assert.False(t, ok)
}

func TestTakePictureRecalibratesOnlyOnDayEdges(t *testing.T) {
	r := newRig(t, "png")
	dir := t.TempDir()
	levels := []uint8{150, 150, 0, 0, 150, 150, 150}

	transitions := 0
	prev := DaytimeUnknown
	for i, lvl := range levels {
		*r.level = lvl
		res, err := r.pipe.TakePicture(context.Background(), dir, fmt.Sprintf("p/%d", i), 0)
		require.NoError(t, err)
		if cur := DaytimeOf(res.Daytime); cur != prev {
			transitions++
			prev = cur
		}
	}

	recalibrations := r.log.count("awb:off")
	assert.Equal(t, 2, recalibrations)
	assert.LessOrEqual(t, recalibrations, transitions)
}

func TestTakePictureAWBLocked(t *testing.T) {
	r := newRig(t, "png")
	r.pipe.Reset(true)

	_, err := r.pipe.TakePicture(context.Background(), t.TempDir(), "p/locked", 0)
	require.NoError(t, err)
	assert.Zero(t, r.log.count("awb:auto"))
}

func TestNewPipelineRejectsFormat(t *testing.T) {
	_, err := NewPipeline(camera.NewSim(camera.SimConfig{}), &recLED{log: &eventLog{}}, clock.Real{}, nil, PipelineConfig{Format: "tiff"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
