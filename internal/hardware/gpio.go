package hardware

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/nicolatrozzi/spiro/internal/clock"
	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
)

// homeStepDelay is the step pace used while searching for the home switch.
const homeStepDelay = 30 * time.Millisecond

// Pins groups the GPIO lines of the rig.
type Pins struct {
	Coils  [4]gpio.PinIO // A1, A2, B1, B2
	PWMA   gpio.PinIO
	PWMB   gpio.PinIO
	Stdby  gpio.PinIO
	LED    gpio.PinIO
	Sensor gpio.PinIO
}

// GPIO drives the turntable through a dual H-bridge (TB6612-style) and
// reads a microswitch that closes at the home position.
type GPIO struct {
	pins        Pins
	clk         clock.Clock
	logger      Logger
	homeTimeout time.Duration

	mu    sync.Mutex
	phase int
}

// NewGPIO initialises the host GPIO drivers and claims the configured pins.
func NewGPIO(cfg config.HardwareConfig, clk clock.Clock, logger Logger) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialising gpio host: %w", err)
	}

	lookup := func(n int) (gpio.PinIO, error) {
		name := fmt.Sprintf("GPIO%d", n)
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
		}
		return p, nil
	}

	var pins Pins
	var err error
	for i, n := range []int{cfg.Pins.CoilA1, cfg.Pins.CoilA2, cfg.Pins.CoilB1, cfg.Pins.CoilB2} {
		if pins.Coils[i], err = lookup(n); err != nil {
			return nil, err
		}
	}
	for _, p := range []struct {
		dst *gpio.PinIO
		n   int
	}{
		{&pins.PWMA, cfg.Pins.PWMA},
		{&pins.PWMB, cfg.Pins.PWMB},
		{&pins.Stdby, cfg.Pins.Stdby},
		{&pins.LED, cfg.Pins.LED},
		{&pins.Sensor, cfg.Pins.Sensor},
	} {
		if *p.dst, err = lookup(p.n); err != nil {
			return nil, err
		}
	}

	timeout := time.Duration(cfg.HomeTimeout) * time.Second
	return NewGPIOWithPins(pins, clk, logger, timeout)
}

// NewGPIOWithPins configures already-resolved pins. The motor starts
// disengaged and the LED off.
func NewGPIOWithPins(pins Pins, clk clock.Clock, logger Logger, homeTimeout time.Duration) (*GPIO, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if homeTimeout <= 0 {
		homeTimeout = 60 * time.Second
	}
	g := &GPIO{pins: pins, clk: clk, logger: logger, homeTimeout: homeTimeout}

	for _, p := range append(pins.Coils[:], pins.Stdby, pins.LED) {
		if err := p.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("configuring %s: %w", p, err)
		}
	}
	// bridge enables stay high; standby gates the motor
	for _, p := range []gpio.PinIO{pins.PWMA, pins.PWMB} {
		if err := p.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("configuring %s: %w", p, err)
		}
	}
	if err := pins.Sensor.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configuring %s: %w", pins.Sensor, err)
	}
	return g, nil
}

// MotorOn engages or releases the stepper. Releasing also de-energises
// the coils so the motor does not heat while idle.
func (g *GPIO) MotorOn(on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !on {
		for _, c := range g.pins.Coils {
			if err := c.Out(gpio.Low); err != nil {
				return err
			}
		}
	}
	return g.pins.Stdby.Out(gpio.Level(on))
}

// HalfStep advances the turntable count half-steps, pausing stepDelay
// between each.
func (g *GPIO) HalfStep(count int, stepDelay time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halfStepLocked(count, stepDelay)
}

func (g *GPIO) halfStepLocked(count int, stepDelay time.Duration) error {
	for i := 0; i < count; i++ {
		g.phase = (g.phase + 1) % len(halfStepSequence)
		for c, level := range halfStepSequence[g.phase] {
			if err := g.pins.Coils[c].Out(gpio.Level(level)); err != nil {
				return fmt.Errorf("half-step %d: %w", i, err)
			}
		}
		g.clk.Sleep(stepDelay)
	}
	return nil
}

// FindStart rotates until the home switch closes and then advances
// calibration further half-steps. If the switch is already closed the
// table first steps off it so homing always approaches from one side.
func (g *GPIO) FindStart(calibration int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	deadline := g.clk.Now().Add(g.homeTimeout)
	step := func() error {
		if g.clk.Now().After(deadline) {
			return ErrHomeNotFound
		}
		return g.halfStepLocked(1, homeStepDelay)
	}

	for g.pins.Sensor.Read() == gpio.High {
		if err := step(); err != nil {
			return err
		}
	}
	for g.pins.Sensor.Read() == gpio.Low {
		if err := step(); err != nil {
			return err
		}
	}
	g.logger.Debug("home switch reached", "calibration", calibration)
	return g.halfStepLocked(calibration, homeStepDelay)
}

// LEDControl switches the illumination LED.
func (g *GPIO) LEDControl(on bool) error {
	return g.pins.LED.Out(gpio.Level(on))
}

// Close releases the motor and switches the LED off.
func (g *GPIO) Close() error {
	motorErr := g.MotorOn(false)
	ledErr := g.LEDControl(false)
	if motorErr != nil {
		return motorErr
	}
	return ledErr
}
