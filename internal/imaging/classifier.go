package imaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nicolatrozzi/spiro/internal/camera"
	"github.com/nicolatrozzi/spiro/internal/clock"
)

// DefaultThreshold is the mean sample value above which a scene is day.
const DefaultThreshold = 10.0

// DefaultSampleSettle is the pause between applying the reference exposure
// and sampling.
const DefaultSampleSettle = 500 * time.Millisecond

// ClassifierConfig configures the day/night classifier.
type ClassifierConfig struct {
	// SampleResolution is the temporary resolution used for sampling.
	SampleResolution camera.Resolution
	// DayShutter and DayISO form the fixed reference exposure. DayShutter
	// is a fraction of a second (100 = 1/100 s).
	DayShutter int
	DayISO     int
	Threshold  float64
	Settle     time.Duration
}

// Reading is one classification.
type Reading struct {
	Daytime    bool
	Brightness float64
}

// Classifier decides whether the scene is lit by daylight.
type Classifier struct {
	cam camera.Camera
	clk clock.Clock
	cfg ClassifierConfig
}

// NewClassifier returns a classifier. Zero Threshold, Settle and
// SampleResolution take their defaults.
func NewClassifier(cam camera.Camera, clk clock.Clock, cfg ClassifierConfig) *Classifier {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Settle == 0 {
		cfg.Settle = DefaultSampleSettle
	}
	if !cfg.SampleResolution.Valid() {
		cfg.SampleResolution = camera.Resolution{Width: 320, Height: 240}
	}
	return &Classifier{cam: cam, clk: clk, cfg: cfg}
}

// Classify samples the scene at the reference exposure. The camera's
// logical resolution is restored on every exit path.
func (c *Classifier) Classify(ctx context.Context) (Reading, error) {
	var mean float64
	err := camera.WithResolution(c.cam, c.cfg.SampleResolution, func() error {
		if err := c.cam.SetISO(c.cfg.DayISO); err != nil {
			return err
		}
		if err := c.cam.SetShutterSpeed(ShutterMicros(c.cfg.DayShutter)); err != nil {
			return err
		}
		c.clk.Sleep(c.cfg.Settle)

		frame, err := c.cam.CaptureSample(ctx)
		if err != nil {
			return err
		}
		mean = frame.MeanLuminance()
		return nil
	})
	if err != nil {
		return Reading{}, fmt.Errorf("sampling scene brightness: %w", err)
	}
	return Reading{Daytime: mean > c.cfg.Threshold, Brightness: mean}, nil
}

// IsDaytime reports whether the scene is currently lit by daylight.
func (c *Classifier) IsDaytime(ctx context.Context) (bool, error) {
	r, err := c.Classify(ctx)
	return r.Daytime, err
}

// ShutterMicros converts a shutter fraction (100 = 1/100 s) to microseconds.
func ShutterMicros(fraction int) int {
	if fraction <= 0 {
		return 0
	}
	return 1_000_000 / fraction
}
