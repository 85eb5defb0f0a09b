package hardware

import (
	"sync"
	"time"

	"github.com/nicolatrozzi/spiro/internal/clock"
)

// stepsPerRevolution is the half-step count of one turntable revolution
// on the simulated rig.
const stepsPerRevolution = 400

// EventKind names a simulated hardware action.
type EventKind string

const (
	EventMotor     EventKind = "motor"
	EventFindStart EventKind = "find_start"
	EventHalfStep  EventKind = "half_step"
	EventLED       EventKind = "led"
)

// Event is one recorded call on the simulated rig.
type Event struct {
	Kind EventKind
	// On is set for motor and LED events.
	On bool
	// Steps is the calibration or half-step count.
	Steps int
	At    time.Time
}

// Sim is an in-memory rig. Motion takes simulated time on its clock, and
// every call is recorded for inspection.
type Sim struct {
	clk clock.Clock

	mu       sync.Mutex
	motorOn  bool
	ledOn    bool
	position int
	events   []Event
	hook     func(Event) error
}

// NewSim returns a simulated rig using clk for motion timing.
func NewSim(clk clock.Clock) *Sim {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Sim{clk: clk}
}

// SetHook installs fn, called after each action. A non-nil return value is
// reported as that action's error.
func (s *Sim) SetHook(fn func(Event) error) {
	s.mu.Lock()
	s.hook = fn
	s.mu.Unlock()
}

func (s *Sim) record(ev Event) error {
	ev.At = s.clk.Now()
	s.mu.Lock()
	s.events = append(s.events, ev)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		return hook(ev)
	}
	return nil
}

// MotorOn records the motor state.
func (s *Sim) MotorOn(on bool) error {
	s.mu.Lock()
	s.motorOn = on
	s.mu.Unlock()
	return s.record(Event{Kind: EventMotor, On: on})
}

// FindStart moves to the home position plus calibration steps.
func (s *Sim) FindStart(calibration int) error {
	s.mu.Lock()
	travel := (stepsPerRevolution - s.position) % stepsPerRevolution
	s.position = calibration % stepsPerRevolution
	s.mu.Unlock()

	s.clk.Sleep(time.Duration(travel+calibration) * homeStepDelay)
	return s.record(Event{Kind: EventFindStart, Steps: calibration})
}

// HalfStep advances the table.
func (s *Sim) HalfStep(count int, stepDelay time.Duration) error {
	s.mu.Lock()
	s.position = (s.position + count) % stepsPerRevolution
	s.mu.Unlock()

	s.clk.Sleep(time.Duration(count) * stepDelay)
	return s.record(Event{Kind: EventHalfStep, Steps: count})
}

// LEDControl records the LED state.
func (s *Sim) LEDControl(on bool) error {
	s.mu.Lock()
	s.ledOn = on
	s.mu.Unlock()
	return s.record(Event{Kind: EventLED, On: on})
}

// Close switches everything off.
func (s *Sim) Close() error {
	s.mu.Lock()
	s.motorOn = false
	s.ledOn = false
	s.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded calls.
func (s *Sim) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// State reports motor, LED and table position.
func (s *Sim) State() (motorOn, ledOn bool, position int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motorOn, s.ledOn, s.position
}
