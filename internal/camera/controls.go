package camera

import (
	"context"
	"sync"
)

// controls holds the caller-visible settings shared by every backend.
// Backends embed it and override the members they can act on.
type controls struct {
	mu       sync.Mutex
	mode     Mode
	res      Resolution
	raw      Resolution
	shutter  int
	iso      int
	awb      AWBMode
	gains    Gains
	exposure ExposureMode
	meter    MeterMode
	effects  *ColorEffect
}

func (c *controls) setup(res, raw Resolution) {
	c.mode = ModeVideo
	c.res = res
	c.raw = raw
	c.awb = AWBAuto
	c.gains = Gains{Red: 1, Blue: 1}
	c.exposure = ExposureAuto
	c.meter = MeterAverage
}

func (c *controls) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *controls) setMode(m Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
}

func (c *controls) Resolution() Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res
}

func (c *controls) SetResolution(res Resolution) error {
	if !res.Valid() {
		return ErrInvalidResolution
	}
	c.mu.Lock()
	c.res = res
	c.mu.Unlock()
	return nil
}

func (c *controls) RawResolution() Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw
}

func (c *controls) ShutterSpeed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutter
}

func (c *controls) SetShutterSpeed(us int) error {
	c.mu.Lock()
	c.shutter = max(us, 0)
	c.mu.Unlock()
	return nil
}

func (c *controls) ISO() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.iso
}

func (c *controls) SetISO(iso int) error {
	c.mu.Lock()
	c.iso = max(iso, 0)
	c.mu.Unlock()
	return nil
}

func (c *controls) AWBMode() AWBMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awb
}

func (c *controls) SetAWBMode(mode AWBMode) error {
	c.mu.Lock()
	c.awb = mode
	c.mu.Unlock()
	return nil
}

func (c *controls) AWBGains(context.Context) (Gains, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gains, nil
}

func (c *controls) SetAWBGains(g Gains) error {
	c.mu.Lock()
	c.gains = g
	c.mu.Unlock()
	return nil
}

func (c *controls) ExposureMode() ExposureMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exposure
}

func (c *controls) SetExposureMode(mode ExposureMode) error {
	c.mu.Lock()
	c.exposure = mode
	c.mu.Unlock()
	return nil
}

func (c *controls) SetMeterMode(mode MeterMode) error {
	c.mu.Lock()
	c.meter = mode
	c.mu.Unlock()
	return nil
}

func (c *controls) meterMode() MeterMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meter
}

func (c *controls) ColorEffects() *ColorEffect {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.effects == nil {
		return nil
	}
	fx := *c.effects
	return &fx
}

func (c *controls) SetColorEffects(fx *ColorEffect) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fx == nil {
		c.effects = nil
		return nil
	}
	cp := *fx
	c.effects = &cp
	return nil
}

// snapshot copies the settings under the lock for building a capture.
func (c *controls) snapshot() settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := settings{
		res:      c.res,
		raw:      c.raw,
		shutter:  c.shutter,
		iso:      c.iso,
		awb:      c.awb,
		gains:    c.gains,
		exposure: c.exposure,
		meter:    c.meter,
	}
	if c.effects != nil {
		fx := *c.effects
		s.effects = &fx
	}
	return s
}

type settings struct {
	res      Resolution
	raw      Resolution
	shutter  int
	iso      int
	awb      AWBMode
	gains    Gains
	exposure ExposureMode
	meter    MeterMode
	effects  *ColorEffect
}

// alignedRaw rounds res up to the 32x16 block geometry of the Pi ISP
// output buffers.
func alignedRaw(res Resolution) Resolution {
	return Resolution{
		Width:  (res.Width + 31) &^ 31,
		Height: (res.Height + 15) &^ 15,
	}
}
