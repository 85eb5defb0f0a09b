// Package hardware drives the turntable stepper motor, its home switch and
// the night illumination LED.
package hardware

import (
	"errors"
	"time"
)

var (
	// ErrHomeNotFound is returned when the home switch is not reached in time.
	ErrHomeNotFound = errors.New("hardware: home position not found")

	// ErrPinNotFound is returned when a configured GPIO does not exist.
	ErrPinNotFound = errors.New("hardware: gpio pin not found")

	// ErrUnknownBackend is returned by New for an unrecognised backend name.
	ErrUnknownBackend = errors.New("hardware: unknown backend")
)

// Turntable is the motor capability set. All calls block until the motion
// is complete.
type Turntable interface {
	MotorOn(on bool) error
	FindStart(calibration int) error
	HalfStep(count int, stepDelay time.Duration) error
}

// Illumination switches the specimen LED.
type Illumination interface {
	LEDControl(on bool) error
}

// Controller is the full rig: turntable plus illumination.
type Controller interface {
	Turntable
	Illumination
	Close() error
}

// Logger is the logging interface used by the drivers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// halfStepSequence energises the coils (A1, A2, B1, B2) of a bipolar
// stepper through an H-bridge, one half-step per row.
var halfStepSequence = [8][4]bool{
	{true, false, false, false},
	{true, false, true, false},
	{false, false, true, false},
	{false, true, true, false},
	{false, true, false, false},
	{false, true, false, true},
	{false, false, false, true},
	{true, false, false, true},
}
