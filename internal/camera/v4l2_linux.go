//go:build linux && cgo

package camera

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"sync"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

// V4L2 control identifiers (linux/v4l2-controls.h).
const (
	cidAutoWhiteBalance = 0x0098090c
	cidRedBalance       = 0x0098090e
	cidBlueBalance      = 0x0098090f
	cidColorFX          = 0x0098091f
	cidColorFXCbCr      = 0x0098092a
	cidExposureAuto     = 0x009a0901
	cidExposureAbsolute = 0x009a0902
	cidISOSensitivity   = 0x009a0917

	exposureManual        = 1
	exposureAperturePrio  = 3
	colorFXNone           = 0
	colorFXSetCbCr        = 15
	balanceScale          = 1000
	exposureAbsoluteUnits = 100 // µs per V4L2 exposure unit
)

// V4L2 is a UVC/V4L2 camera backend on top of go4vl. The device streams
// MJPEG continuously; stills are the first frame delivered after the
// request, decoded to RGB.
type V4L2 struct {
	controls

	cfg  V4L2Config
	live *LiveView

	devMu  sync.Mutex
	dev    *device.Device
	cancel context.CancelFunc
	closed bool
}

// NewV4L2 opens cfg.Device in video mode.
func NewV4L2(ctx context.Context, cfg V4L2Config) (*V4L2, error) {
	cfg.applyDefaults()
	c := &V4L2{cfg: cfg, live: NewLiveView()}
	c.controls.setup(cfg.Resolution, cfg.Resolution)
	if err := c.open(ctx, cfg.VideoResolution); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *V4L2) open(ctx context.Context, res Resolution) error {
	c.devMu.Lock()
	defer c.devMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closeDeviceLocked()

	dev, err := device.Open(c.cfg.Device,
		device.WithBufferSize(c.cfg.BufferSize),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtMJPEG,
			Width:       uint32(res.Width),
			Height:      uint32(res.Height),
		}),
	)
	if err != nil {
		return fmt.Errorf("opening %s: %w", c.cfg.Device, err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := dev.Start(streamCtx); err != nil {
		cancel()
		_ = dev.Close()
		return fmt.Errorf("starting stream on %s: %w", c.cfg.Device, err)
	}
	c.dev = dev
	c.cancel = cancel

	go func(frames <-chan []byte) {
		for f := range frames {
			cp := make([]byte, len(f))
			copy(cp, f)
			c.live.Publish(cp)
		}
	}(dev.GetOutput())

	return nil
}

func (c *V4L2) closeDeviceLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.dev != nil {
		_ = c.dev.Close()
		c.dev = nil
	}
	c.live.Reset()
}

// setControl writes one V4L2 control. Controls the device lacks are
// ignored so every backend honours the same capability set.
func (c *V4L2) setControl(id uint32, val int) {
	c.devMu.Lock()
	defer c.devMu.Unlock()
	if c.dev == nil {
		return
	}
	if err := c.dev.SetControlValue(v4l2.CtrlID(id), v4l2.CtrlValue(val)); err != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Debug("v4l2 control not applied", "control", fmt.Sprintf("0x%08x", id), "value", val, "error", err)
	}
}

// StillMode reopens the device at the still resolution.
func (c *V4L2) StillMode(ctx context.Context) error {
	if err := c.open(ctx, c.RawResolution()); err != nil {
		return err
	}
	c.setMode(ModeStill)
	c.reapply()
	return nil
}

// VideoMode reopens the device at the live-view resolution.
func (c *V4L2) VideoMode(ctx context.Context) error {
	if err := c.open(ctx, c.cfg.VideoResolution); err != nil {
		return err
	}
	c.setMode(ModeVideo)
	c.reapply()
	return nil
}

// reapply pushes the remembered settings to a freshly opened device.
func (c *V4L2) reapply() {
	s := c.snapshot()
	_ = c.SetExposureMode(s.exposure)
	_ = c.SetShutterSpeed(s.shutter)
	_ = c.SetISO(s.iso)
	_ = c.SetAWBMode(s.awb)
	if s.awb == AWBOff {
		_ = c.SetAWBGains(s.gains)
	}
	_ = c.SetColorEffects(s.effects)
}

func (c *V4L2) SetShutterSpeed(us int) error {
	_ = c.controls.SetShutterSpeed(us)
	if us > 0 {
		c.setControl(cidExposureAbsolute, max(us/exposureAbsoluteUnits, 1))
	}
	return nil
}

func (c *V4L2) SetISO(iso int) error {
	_ = c.controls.SetISO(iso)
	if iso > 0 {
		c.setControl(cidISOSensitivity, iso)
	}
	return nil
}

func (c *V4L2) SetExposureMode(mode ExposureMode) error {
	_ = c.controls.SetExposureMode(mode)
	if mode == ExposureOff {
		c.setControl(cidExposureAuto, exposureManual)
	} else {
		c.setControl(cidExposureAuto, exposureAperturePrio)
	}
	return nil
}

func (c *V4L2) SetAWBMode(mode AWBMode) error {
	_ = c.controls.SetAWBMode(mode)
	on := 0
	if mode == AWBAuto {
		on = 1
	}
	c.setControl(cidAutoWhiteBalance, on)
	return nil
}

func (c *V4L2) SetAWBGains(g Gains) error {
	_ = c.controls.SetAWBGains(g)
	c.setControl(cidRedBalance, int(g.Red*balanceScale))
	c.setControl(cidBlueBalance, int(g.Blue*balanceScale))
	return nil
}

func (c *V4L2) SetColorEffects(fx *ColorEffect) error {
	_ = c.controls.SetColorEffects(fx)
	if fx == nil {
		c.setControl(cidColorFX, colorFXNone)
		return nil
	}
	c.setControl(cidColorFX, colorFXSetCbCr)
	c.setControl(cidColorFXCbCr, int(fx.U)<<8|int(fx.V))
	return nil
}

// Capture decodes the first frame produced after the call.
func (c *V4L2) Capture(ctx context.Context) (*Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FrameTimeout)
	defer cancel()

	raw, _, err := c.live.Next(ctx, c.live.Seq())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrameTimeout, err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	return FrameFromImage(img), nil
}

// CaptureSample returns the next frame cropped to the logical resolution.
func (c *V4L2) CaptureSample(ctx context.Context) (*Frame, error) {
	f, err := c.Capture(ctx)
	if err != nil {
		return nil, err
	}
	return f.Crop(c.Resolution()), nil
}

// LatestJPEG returns the newest streamed frame.
func (c *V4L2) LatestJPEG() ([]byte, bool) {
	return c.live.Latest()
}

// LiveView exposes the live-view mailbox for streaming consumers.
func (c *V4L2) LiveView() *LiveView {
	return c.live
}

// Close stops streaming and releases the device.
func (c *V4L2) Close() error {
	c.devMu.Lock()
	defer c.devMu.Unlock()
	c.closeDeviceLocked()
	c.closed = true
	return nil
}

