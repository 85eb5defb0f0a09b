// Package camera defines the capability set the experiment engine drives
// and the backends that implement it.
//
// Every backend exposes the same Camera interface. Controls a backend cannot
// honour are accepted and remembered but have no effect on the sensor, so
// callers never branch on backend identity.
package camera

import (
	"context"
	"errors"
	"fmt"
)

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// String renders the resolution as WxH.
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Valid reports whether both dimensions are positive.
func (r Resolution) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Gains is a red/blue white-balance gain pair.
type Gains struct {
	Red  float64 `json:"red"`
	Blue float64 `json:"blue"`
}

// AWBMode selects automatic or pinned white balance.
type AWBMode string

const (
	AWBAuto AWBMode = "auto"
	AWBOff  AWBMode = "off"
)

// ExposureMode selects automatic or fixed exposure.
type ExposureMode string

const (
	ExposureAuto ExposureMode = "auto"
	ExposureOff  ExposureMode = "off"
)

// MeterMode selects the metering pattern used by automatic exposure.
type MeterMode string

const (
	MeterAverage MeterMode = "average"
	MeterSpot    MeterMode = "spot"
	MeterCentre  MeterMode = "centre"
)

// ColorEffect is a fixed U/V chroma override. A nil *ColorEffect means no
// override.
type ColorEffect struct {
	U uint8 `json:"u"`
	V uint8 `json:"v"`
}

// Mode is the sensor pipeline configuration.
type Mode string

const (
	ModeStill Mode = "still"
	ModeVideo Mode = "video"
)

// Camera is the capability set consumed by the imaging pipeline.
//
// ShutterSpeed is in microseconds; 0 lets the sensor choose. ISO maps to
// analogue gain as ISO/100 on backends that expose gain instead.
type Camera interface {
	StillMode(ctx context.Context) error
	VideoMode(ctx context.Context) error
	Mode() Mode

	// Resolution is the logical (crop) resolution of saved images.
	Resolution() Resolution
	SetResolution(res Resolution) error
	// RawResolution is the buffer geometry Capture returns, which may
	// exceed Resolution because of sensor stride alignment.
	RawResolution() Resolution

	ShutterSpeed() int
	SetShutterSpeed(us int) error
	ISO() int
	SetISO(iso int) error

	AWBMode() AWBMode
	SetAWBMode(mode AWBMode) error
	AWBGains(ctx context.Context) (Gains, error)
	SetAWBGains(g Gains) error

	ExposureMode() ExposureMode
	SetExposureMode(mode ExposureMode) error
	SetMeterMode(mode MeterMode) error

	ColorEffects() *ColorEffect
	SetColorEffects(fx *ColorEffect) error

	// Capture acquires one full frame at RawResolution.
	Capture(ctx context.Context) (*Frame, error)
	// CaptureSample acquires one frame at the current logical resolution,
	// using a low-resolution stream where the backend has one.
	CaptureSample(ctx context.Context) (*Frame, error)

	// LatestJPEG returns the newest live-view frame while in video mode.
	LatestJPEG() ([]byte, bool)

	Close() error
}

// WithResolution sets res for the duration of fn and restores the previous
// resolution afterwards, whether fn succeeds, fails, or panics.
func WithResolution(cam Camera, res Resolution, fn func() error) (err error) {
	prev := cam.Resolution()
	if err := cam.SetResolution(res); err != nil {
		return fmt.Errorf("setting temporary resolution %s: %w", res, err)
	}
	defer func() {
		if rerr := cam.SetResolution(prev); rerr != nil {
			err = errors.Join(err, fmt.Errorf("restoring resolution %s: %w", prev, rerr))
		}
	}()
	return fn()
}
