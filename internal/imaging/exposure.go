package imaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nicolatrozzi/spiro/internal/camera"
	"github.com/nicolatrozzi/spiro/internal/clock"
	"github.com/nicolatrozzi/spiro/internal/hardware"
)

const (
	// LEDSettle is the wait after switching the LED on.
	LEDSettle = 500 * time.Millisecond
	// AWBConvergence is the time automatic white balance gets to settle
	// before its gains are pinned.
	AWBConvergence = 2 * time.Second
)

// Exposure holds day and night parameters. Shutter values are fractions
// of a second.
type Exposure struct {
	DayShutter   int
	DayISO       int
	NightShutter int
	NightISO     int
}

// ExposureController applies day/night exposure and white balance.
type ExposureController struct {
	cam camera.Camera
	led hardware.Illumination
	clk clock.Clock
	exp Exposure
}

// NewExposureController returns a controller for cam and led.
func NewExposureController(cam camera.Camera, led hardware.Illumination, clk clock.Clock, exp Exposure) *ExposureController {
	return &ExposureController{cam: cam, led: led, clk: clk, exp: exp}
}

// Apply configures the camera for daytime or nighttime capture. At night
// the LED is switched on and allowed to settle before anything else.
func (e *ExposureController) Apply(daytime bool) error {
	if daytime {
		if err := e.led.LEDControl(false); err != nil {
			return fmt.Errorf("switching led off: %w", err)
		}
		if err := e.cam.SetShutterSpeed(ShutterMicros(e.exp.DayShutter)); err != nil {
			return err
		}
		if err := e.cam.SetISO(e.exp.DayISO); err != nil {
			return err
		}
		return e.cam.SetColorEffects(nil)
	}

	if err := e.led.LEDControl(true); err != nil {
		return fmt.Errorf("switching led on: %w", err)
	}
	e.clk.Sleep(LEDSettle)
	if err := e.cam.SetShutterSpeed(ShutterMicros(e.exp.NightShutter)); err != nil {
		return err
	}
	return e.cam.SetISO(e.exp.NightISO)
}

// ShouldRecalibrate reports whether white balance must be re-pinned: only
// on an edge into daytime, and never when the operator locked AWB.
// awbLocked is the AWB mode the operator left at run start, not the live
// mode, so every edge into daytime re-pins.
func ShouldRecalibrate(prev Daytime, day bool, awbLocked bool) bool {
	return !awbLocked && day && prev != DaytimeDay
}

// Recalibrate lets automatic white balance converge, then pins the camera
// to the gains it found.
func (e *ExposureController) Recalibrate(ctx context.Context) (camera.Gains, error) {
	if err := e.cam.SetAWBMode(camera.AWBAuto); err != nil {
		return camera.Gains{}, err
	}
	e.clk.Sleep(AWBConvergence)

	g, err := e.cam.AWBGains(ctx)
	if err != nil {
		return camera.Gains{}, fmt.Errorf("reading awb gains: %w", err)
	}
	if err := e.cam.SetAWBMode(camera.AWBOff); err != nil {
		return camera.Gains{}, err
	}
	if err := e.cam.SetAWBGains(g); err != nil {
		return camera.Gains{}, err
	}
	return g, nil
}
