package experiment

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nicolatrozzi/spiro/internal/imaging"
	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
)

// RunConfig is the immutable parameter set of one experiment.
type RunConfig struct {
	Name string `json:"name"`
	// Dir is the experiment output directory. Empty selects a dated
	// directory under OutputRoot.
	Dir        string `json:"dir"`
	OutputRoot string `json:"-"`
	// Delay between rounds, in minutes.
	Delay int `json:"delay"`
	// Duration of the run, in days.
	Duration    int              `json:"duration"`
	Exposure    imaging.Exposure `json:"-"`
	Calibration int              `json:"calibration"`
}

// FromConfig builds the default run configuration from the loaded file.
func FromConfig(cfg config.ExperimentConfig) RunConfig {
	return RunConfig{
		Name:       cfg.Name,
		OutputRoot: cfg.OutputRoot,
		Delay:      cfg.Delay,
		Duration:   cfg.Duration,
		Exposure: imaging.Exposure{
			DayShutter:   cfg.DayShutter,
			DayISO:       cfg.DayISO,
			NightShutter: cfg.NightShutter,
			NightISO:     cfg.NightISO,
		},
		Calibration: cfg.Calibration,
	}
}

// Validate reports every problem that prevents the run from starting.
func (c RunConfig) Validate() error {
	var errs []string
	if c.Delay <= 0 {
		errs = append(errs, "delay must be positive")
	}
	if c.Duration <= 0 {
		errs = append(errs, "duration must be positive")
	}
	if c.Exposure.DayShutter <= 0 || c.Exposure.NightShutter <= 0 {
		errs = append(errs, "shutter fractions must be positive")
	}
	if c.Exposure.DayISO <= 0 || c.Exposure.NightISO <= 0 {
		errs = append(errs, "iso values must be positive")
	}
	if c.Calibration < 0 {
		errs = append(errs, "calibration must not be negative")
	}
	if c.Dir == "" && c.OutputRoot == "" {
		errs = append(errs, "an output directory or output root is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// DelayDuration returns the round interval.
func (c RunConfig) DelayDuration() time.Duration {
	return time.Duration(c.Delay) * time.Minute
}

// RunDuration returns the total run length.
func (c RunConfig) RunDuration() time.Duration {
	return time.Duration(c.Duration) * 24 * time.Hour
}

// TotalShots is the number of rounds in a run: the run length in minutes
// divided by the delay, rounded up so a trailing partial interval still
// gets its round. The same value bounds the loop and is reported.
func (c RunConfig) TotalShots() int {
	if c.Delay <= 0 || c.Duration <= 0 {
		return 0
	}
	minutes := c.Duration * 24 * 60
	return (minutes + c.Delay - 1) / c.Delay
}

// DefaultDir returns "<root>/<YYYY.MM.DD> <name>" for a run starting at t.
func DefaultDir(root, name string, t time.Time) string {
	dir := t.Format("2006.01.02")
	if name != "" {
		dir += " " + name
	}
	return filepath.Join(root, dir)
}

// Overrides are the per-run fields a control surface may change.
type Overrides struct {
	Name     *string `json:"name,omitempty"`
	Dir      *string `json:"dir,omitempty"`
	Delay    *int    `json:"delay,omitempty"`
	Duration *int    `json:"duration,omitempty"`
}

// Apply returns base with the set fields replaced.
func (o Overrides) Apply(base RunConfig) RunConfig {
	if o.Name != nil {
		base.Name = *o.Name
	}
	if o.Dir != nil {
		base.Dir = *o.Dir
	}
	if o.Delay != nil {
		base.Delay = *o.Delay
	}
	if o.Duration != nil {
		base.Duration = *o.Duration
	}
	return base
}
