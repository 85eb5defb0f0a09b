package camera

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/nicolatrozzi/spiro/internal/process"
)

// Runner executes a one-shot command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // binary comes from validated config
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w (stderr: %s)", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

// RPiCamConfig configures the rpicam-apps backend.
type RPiCamConfig struct {
	StillBinary     string
	VideoBinary     string
	Resolution      Resolution
	VideoResolution Resolution
	VideoFramerate  int
	// LensPosition is passed as --lens-position when positive (dioptres).
	LensPosition float64
	Logger       process.Logger
	// Runner overrides command execution; nil uses os/exec.
	Runner Runner
}

// RPiCam drives a Raspberry Pi camera through the rpicam-still and
// rpicam-vid command-line tools. Stills are requested as raw RGB on stdout;
// live view runs rpicam-vid under a process.Manager and splits its MJPEG
// output into a LiveView.
type RPiCam struct {
	controls

	cfg  RPiCamConfig
	run  Runner
	live *LiveView

	videoMu sync.Mutex
	video   *process.Manager

	closed bool
}

// NewRPiCam returns an rpicam backend. No process is started until
// VideoMode is called.
func NewRPiCam(cfg RPiCamConfig) *RPiCam {
	if cfg.StillBinary == "" {
		cfg.StillBinary = "rpicam-still"
	}
	if cfg.VideoBinary == "" {
		cfg.VideoBinary = "rpicam-vid"
	}
	if !cfg.Resolution.Valid() {
		cfg.Resolution = Resolution{Width: 2592, Height: 1944}
	}
	if !cfg.VideoResolution.Valid() {
		cfg.VideoResolution = Resolution{Width: 1024, Height: 768}
	}
	if cfg.VideoFramerate <= 0 {
		cfg.VideoFramerate = 10
	}
	run := cfg.Runner
	if run == nil {
		run = execRunner
	}
	c := &RPiCam{cfg: cfg, run: run, live: NewLiveView()}
	c.controls.setup(cfg.Resolution, alignedRaw(cfg.Resolution))
	c.controls.setMode(ModeStill)
	return c
}

// StillMode stops any live-view stream so rpicam-still can own the sensor.
func (c *RPiCam) StillMode(context.Context) error {
	if err := c.stopVideo(); err != nil {
		return err
	}
	c.setMode(ModeStill)
	return nil
}

// VideoMode starts the MJPEG live-view stream.
func (c *RPiCam) VideoMode(ctx context.Context) error {
	c.videoMu.Lock()
	defer c.videoMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.video != nil && c.video.IsRunning() {
		c.setMode(ModeVideo)
		return nil
	}

	cfg := process.DefaultConfig("rpicam-vid", c.cfg.VideoBinary, c.videoArgs())
	cfg.Stdout = NewMJPEGSplitter(c.live)
	cfg.StallTimeout = 10 * time.Second
	cfg.OnStop = func(err error) {
		if err != nil {
			// a restarted encoder must not serve the dead one's last frame
			c.live.Reset()
		}
	}
	mgr := process.NewManager(cfg)
	if c.cfg.Logger != nil {
		mgr.SetLogger(c.cfg.Logger)
	}
	// live view outlives the request that enabled it
	if err := mgr.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting live view: %w", err)
	}
	c.video = mgr
	c.setMode(ModeVideo)
	return nil
}

func (c *RPiCam) stopVideo() error {
	c.videoMu.Lock()
	defer c.videoMu.Unlock()
	if c.video == nil {
		return nil
	}
	err := c.video.Stop()
	c.video = nil
	c.live.Reset()
	return err
}

func (c *RPiCam) videoArgs() []string {
	v := c.cfg.VideoResolution
	return []string{
		"--nopreview",
		"--timeout", "0",
		"--codec", "mjpeg",
		"--width", strconv.Itoa(v.Width),
		"--height", strconv.Itoa(v.Height),
		"--framerate", strconv.Itoa(c.cfg.VideoFramerate),
		"--output", "-",
	}
}

// stillArgs builds an rpicam-still invocation producing raw RGB on stdout
// at geometry size, with every caller-visible control applied.
func (c *RPiCam) stillArgs(s settings, size Resolution) []string {
	args := []string{
		"--nopreview",
		"--immediate",
		"--encoding", "rgb",
		"--width", strconv.Itoa(size.Width),
		"--height", strconv.Itoa(size.Height),
		"--metering", string(s.meter),
	}
	if s.shutter > 0 {
		args = append(args, "--shutter", strconv.Itoa(s.shutter))
	}
	if s.iso > 0 {
		args = append(args, "--gain", strconv.FormatFloat(float64(s.iso)/100, 'f', 2, 64))
	}
	if s.awb == AWBOff {
		args = append(args, "--awbgains", fmt.Sprintf("%.3f,%.3f", s.gains.Red, s.gains.Blue))
	} else {
		args = append(args, "--awb", "auto")
	}
	if s.effects != nil && s.effects.U == 128 && s.effects.V == 128 {
		args = append(args, "--saturation", "0")
	}
	if c.cfg.LensPosition > 0 {
		args = append(args, "--lens-position", strconv.FormatFloat(c.cfg.LensPosition, 'f', 2, 64))
	}
	return append(args, "--output", "-")
}

func (c *RPiCam) grab(ctx context.Context, size Resolution) (*Frame, error) {
	c.videoMu.Lock()
	closed := c.closed
	c.videoMu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	// rpicam-still cannot share the sensor with a running stream
	wasVideo := c.Mode() == ModeVideo
	if wasVideo {
		if err := c.stopVideo(); err != nil {
			return nil, err
		}
		defer func() { _ = c.VideoMode(ctx) }()
	}

	out, err := c.run(ctx, c.cfg.StillBinary, c.stillArgs(c.snapshot(), size)...)
	if err != nil {
		return nil, err
	}
	return FrameFromBytes(out, size)
}

// Capture takes one still at the raw (aligned) resolution.
func (c *RPiCam) Capture(ctx context.Context) (*Frame, error) {
	return c.grab(ctx, c.RawResolution())
}

// CaptureSample takes one still at the current logical resolution.
func (c *RPiCam) CaptureSample(ctx context.Context) (*Frame, error) {
	res := c.Resolution()
	f, err := c.grab(ctx, alignedRaw(res))
	if err != nil {
		return nil, err
	}
	return f.Crop(res), nil
}

// SetResolution updates the logical resolution and the raw buffer geometry.
func (c *RPiCam) SetResolution(res Resolution) error {
	if !res.Valid() {
		return ErrInvalidResolution
	}
	c.mu.Lock()
	c.res = res
	c.raw = alignedRaw(res)
	c.mu.Unlock()
	return nil
}

// AWBGains returns the pinned gains, or, in automatic mode, the gains the
// AWB algorithm has converged on as reported by frame metadata.
func (c *RPiCam) AWBGains(ctx context.Context) (Gains, error) {
	if c.AWBMode() == AWBOff {
		return c.controls.AWBGains(ctx)
	}
	out, err := c.run(ctx, c.cfg.StillBinary,
		"--nopreview", "--immediate",
		"--awb", "auto",
		"--metadata", "-",
		"--output", "/dev/null",
	)
	if err != nil {
		return Gains{}, err
	}
	return parseColourGains(out)
}

func parseColourGains(metadata []byte) (Gains, error) {
	var md struct {
		ColourGains []float64 `json:"ColourGains"`
	}
	if err := json.Unmarshal(metadata, &md); err != nil {
		return Gains{}, fmt.Errorf("parsing rpicam metadata: %w", err)
	}
	if len(md.ColourGains) != 2 {
		return Gains{}, errors.New("camera: metadata has no ColourGains")
	}
	return Gains{Red: md.ColourGains[0], Blue: md.ColourGains[1]}, nil
}

// LatestJPEG returns the newest live-view frame.
func (c *RPiCam) LatestJPEG() ([]byte, bool) {
	return c.live.Latest()
}

// LiveView exposes the live-view mailbox for streaming consumers.
func (c *RPiCam) LiveView() *LiveView {
	return c.live
}

// Close stops the live-view process.
func (c *RPiCam) Close() error {
	err := c.stopVideo()
	c.videoMu.Lock()
	c.closed = true
	c.videoMu.Unlock()
	return err
}
