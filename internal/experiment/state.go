package experiment

import (
	"time"

	"github.com/looplab/fsm"

	"github.com/nicolatrozzi/spiro/internal/imaging"
)

// Plates is the number of sample positions on the turntable.
const Plates = 4

// Status is the externally visible experiment state.
type Status string

const (
	StatusStopped      Status = "Stopped"
	StatusInitiating   Status = "Initiating"
	StatusFindingStart Status = "Finding start position"
	StatusImaging      Status = "Imaging"
	StatusWaiting      Status = "Waiting"
	StatusStopping     Status = "Stopping"
)

// State machine events.
const (
	eventInitiate  = "initiate"
	eventFindStart = "find_start"
	eventImage     = "image"
	eventWait      = "wait"
	eventStop      = "stop"
	eventFinish    = "finish"
)

// State is a point-in-time copy of the experiment bookkeeping.
type State struct {
	RunID          string          `json:"run_id,omitempty"`
	Name           string          `json:"name,omitempty"`
	Dir            string          `json:"dir,omitempty"`
	Status         Status          `json:"status"`
	Running        bool            `json:"running"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	RemainingShots int             `json:"nshots"`
	TotalShots     int             `json:"total_shots"`
	Round          int             `json:"round"`
	CurrentDaytime imaging.Daytime `json:"daytime"`
	IdleOffset     int             `json:"idle_position"`
	StopRequested  bool            `json:"stop_requested"`
	LastCaptured   [Plates]string  `json:"last_captured"`
}

// reset returns the state to its between-runs values. The last captured
// paths survive so the control surface can still show them.
func (s *State) reset() {
	*s = State{Status: s.Status, LastCaptured: s.LastCaptured}
}

// newMachine builds the status machine. onEnter runs for every state the
// machine enters.
func newMachine(onEnter func(dst string)) *fsm.FSM {
	running := []string{
		string(StatusInitiating),
		string(StatusFindingStart),
		string(StatusImaging),
		string(StatusWaiting),
	}
	return fsm.NewFSM(
		string(StatusStopped),
		fsm.Events{
			{Name: eventInitiate, Src: []string{string(StatusStopped)}, Dst: string(StatusInitiating)},
			{Name: eventFindStart, Src: []string{string(StatusInitiating), string(StatusImaging), string(StatusWaiting)}, Dst: string(StatusFindingStart)},
			{Name: eventImage, Src: []string{string(StatusInitiating), string(StatusFindingStart), string(StatusWaiting)}, Dst: string(StatusImaging)},
			{Name: eventWait, Src: []string{string(StatusImaging), string(StatusFindingStart)}, Dst: string(StatusWaiting)},
			{Name: eventStop, Src: running, Dst: string(StatusStopping)},
			{Name: eventFinish, Src: append(running, string(StatusStopping)), Dst: string(StatusStopped)},
		},
		fsm.Callbacks{
			"enter_state": func(e *fsm.Event) { onEnter(e.Dst) },
		},
	)
}
