package camera

import (
	"bytes"
	"context"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicolatrozzi/spiro/internal/clock"
)

// Scene returns the ambient brightness (0-255) at a given instant.
type Scene func(t time.Time) uint8

// DaylightScene is bright between dayStart and dayEnd (local hours) and
// near-black otherwise.
func DaylightScene(dayStart, dayEnd int) Scene {
	return func(t time.Time) uint8 {
		if h := t.Hour(); h >= dayStart && h < dayEnd {
			return 140
		}
		return 2
	}
}

// SimConfig configures the simulated camera.
type SimConfig struct {
	Resolution      Resolution
	VideoResolution Resolution
	Scene           Scene
	Clock           clock.Clock
}

// Sim is a synthetic camera used on development machines and in tests. It
// renders a gradient whose base level follows Scene.
type Sim struct {
	controls

	clk   clock.Clock
	scene Scene
	video Resolution

	closeOnce sync.Once
	closed    atomic.Bool
	captures  atomic.Int64
}

// NewSim returns a simulated camera in video mode.
func NewSim(cfg SimConfig) *Sim {
	if !cfg.Resolution.Valid() {
		cfg.Resolution = Resolution{Width: 640, Height: 480}
	}
	if !cfg.VideoResolution.Valid() {
		cfg.VideoResolution = Resolution{Width: 320, Height: 240}
	}
	if cfg.Scene == nil {
		cfg.Scene = DaylightScene(7, 19)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	s := &Sim{clk: cfg.Clock, scene: cfg.Scene, video: cfg.VideoResolution}
	s.controls.setup(cfg.Resolution, alignedRaw(cfg.Resolution))
	return s
}

// StillMode switches to the still pipeline.
func (s *Sim) StillMode(context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.setMode(ModeStill)
	return nil
}

// VideoMode switches to the live-view pipeline.
func (s *Sim) VideoMode(context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.setMode(ModeVideo)
	return nil
}

// Capture renders a frame at the raw resolution.
func (s *Sim) Capture(context.Context) (*Frame, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.captures.Add(1)
	return s.render(s.RawResolution()), nil
}

// CaptureSample renders a frame at the logical resolution.
func (s *Sim) CaptureSample(context.Context) (*Frame, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.render(s.Resolution()), nil
}

// Captures returns the number of full captures taken.
func (s *Sim) Captures() int {
	return int(s.captures.Load())
}

// LatestJPEG renders a live-view frame while in video mode.
func (s *Sim) LatestJPEG() ([]byte, bool) {
	if s.closed.Load() || s.Mode() != ModeVideo {
		return nil, false
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, s.render(s.video).RGBA(), &jpeg.Options{Quality: 70}); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// Close marks the camera closed.
func (s *Sim) Close() error {
	s.closeOnce.Do(func() { s.closed.Store(true) })
	return nil
}

func (s *Sim) render(res Resolution) *Frame {
	f := NewFrame(res)
	base := int(s.scene(s.clk.Now()))
	for y := 0; y < f.Height; y++ {
		row := f.Pix[y*f.Stride:]
		for x := 0; x < f.Width; x++ {
			v := byte(min(base+(x+y)%8, 255))
			row[x*3] = v
			row[x*3+1] = v
			row[x*3+2] = v
		}
	}
	return f
}
