package experiment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nicolatrozzi/spiro/internal/camera"
	"github.com/nicolatrozzi/spiro/internal/hardware"
	"github.com/nicolatrozzi/spiro/internal/imaging"
)

// Finish reasons recorded in the run history.
const (
	ReasonCompleted = "completed"
	ReasonStopped   = "stopped"
	ReasonFailed    = "failed"
)

// RunRecord describes a started run.
type RunRecord struct {
	ID         string
	Name       string
	Dir        string
	StartedAt  time.Time
	EndAt      time.Time
	Delay      int
	Duration   int
	TotalShots int
}

// CaptureRecord describes one capture attempt.
type CaptureRecord struct {
	RunID          string
	Round          int
	Plate          int
	Path           string
	Daytime        bool
	Brightness     float64
	WBRecalibrated bool
	CapturedAt     time.Time
	Duration       time.Duration
	Error          string
}

// captureEvent is the payload broadcast after every capture attempt.
type captureEvent struct {
	RunID      string    `json:"run_id"`
	Round      int       `json:"round"`
	Plate      int       `json:"plate"`
	Path       string    `json:"path,omitempty"`
	Daytime    bool      `json:"daytime"`
	Brightness float64   `json:"brightness"`
	CapturedAt time.Time `json:"captured_at"`
	Error      string    `json:"error,omitempty"`
}

// run is the bookkeeping private to one execution.
type run struct {
	id     string
	cfg    RunConfig
	dir    string
	end    time.Time
	rounds int
	// pinnedAWB is set once white balance has been pinned by this run.
	pinnedAWB bool
	recorded  bool
}

// execute runs one experiment to completion. Finalisation runs on every
// exit, including a panic inside the loop.
func (w *Worker) execute(ctx context.Context, cfg RunConfig) {
	r := &run{id: newRunID(), cfg: cfg}
	reason := ReasonFailed
	defer func() {
		if p := recover(); p != nil {
			w.logger.Error("experiment aborted", "run_id", r.id, "panic", p)
			reason = ReasonFailed
		}
		w.finalize(ctx, r, reason)
	}()

	if err := w.initiate(ctx, r); err != nil {
		w.logger.Error("experiment failed to initiate", "run_id", r.id, "error", err)
		return
	}
	reason = w.loop(ctx, r)
}

// initiate prepares the camera, the schedule and the output tree.
func (w *Worker) initiate(ctx context.Context, r *run) error {
	now := w.clk.Now()
	r.dir = r.cfg.Dir
	if r.dir == "" {
		name := r.cfg.Name
		if name == "" {
			name = w.opts.Instance
		}
		r.dir = DefaultDir(r.cfg.OutputRoot, name, now)
	}
	r.end = now.Add(r.cfg.RunDuration())
	total := r.cfg.TotalShots()

	w.transition(eventInitiate, func(s *State) {
		s.RunID = r.id
		s.Name = r.cfg.Name
		s.Dir = r.dir
		s.StartTime = now
		s.EndTime = r.end
		s.TotalShots = total
		s.RemainingShots = total
		s.Round = 0
		s.CurrentDaytime = imaging.DaytimeUnknown
		s.IdleOffset = 0
		s.LastCaptured = [Plates]string{}
	})
	w.logger.Info("experiment starting",
		"run_id", r.id,
		"name", r.cfg.Name,
		"dir", r.dir,
		"delay_min", r.cfg.Delay,
		"duration_days", r.cfg.Duration,
		"shots", total,
		"end", r.end,
	)

	if err := w.cam.StillMode(ctx); err != nil {
		return fmt.Errorf("switching camera to still mode: %w", err)
	}
	w.pipeline.SetExposure(r.cfg.Exposure)
	w.pipeline.Reset(w.cam.AWBMode() == camera.AWBOff)

	if err := w.rig.LEDControl(false); err != nil {
		w.logger.Warn("switching led off", "error", err)
	}
	for plate := 1; plate <= Plates; plate++ {
		dir := filepath.Join(r.dir, fmt.Sprintf("plate%d", plate))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			// retried by every capture
			w.logger.Error("creating plate directory", "dir", dir, "error", err)
		}
	}

	if w.recorder != nil {
		rec := RunRecord{
			ID:         r.id,
			Name:       r.cfg.Name,
			Dir:        r.dir,
			StartedAt:  now,
			EndAt:      r.end,
			Delay:      r.cfg.Delay,
			Duration:   r.cfg.Duration,
			TotalShots: total,
		}
		if err := w.recorder.RunStarted(ctx, rec); err != nil {
			w.logger.Warn("recording run start", "run_id", r.id, "error", err)
		} else {
			r.recorded = true
		}
	}
	return nil
}

// stopRequested reports whether the run must end at the next boundary.
func (w *Worker) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.StopRequested
}

// loop runs rounds until the end time, the shot budget or a stop.
func (w *Worker) loop(ctx context.Context, r *run) string {
	for {
		if w.stopRequested(ctx) {
			return ReasonStopped
		}
		now := w.clk.Now()
		remaining := w.Snapshot().RemainingShots
		if !now.Before(r.end) || remaining <= 0 {
			return ReasonCompleted
		}

		next := now.Add(r.cfg.DelayDuration())
		if next.After(r.end) {
			next = r.end
		}
		w.round(ctx, r)
		r.rounds++

		snap := w.update(func(s *State) {
			s.RemainingShots--
			s.Round = r.rounds
		})
		if w.metrics != nil {
			w.metrics.WriteRoundMetric(r.id, r.rounds, snap.RemainingShots, w.clk.Now())
		}
		offset := snap.IdleOffset
		if w.stopRequested(ctx) {
			offset = 0
		}
		w.park(offset)
		w.transition(eventWait, func(s *State) {
			s.IdleOffset = (s.IdleOffset + 1) % IdlePositions
		})

		w.wait(ctx, next)
	}
}

// round images every plate once, strictly in order.
func (w *Worker) round(ctx context.Context, r *run) {
	for plate := 0; plate < Plates; plate++ {
		w.position(plate, r.cfg.Calibration)
		w.clk.Sleep(PlateSettle)
		w.capture(ctx, r, plate)
	}
}

// position homes the table for plate 0 and advances one plate otherwise.
// Motor failures are logged; the capture still happens.
func (w *Worker) position(plate, calibration int) {
	if plate == 0 {
		w.transition(eventFindStart, nil)
		if err := w.rig.MotorOn(true); err != nil {
			w.logger.Error("engaging motor", "error", err)
		}
		if err := w.rig.FindStart(calibration); err != nil {
			if errors.Is(err, hardware.ErrHomeNotFound) {
				w.logger.Warn("home position not found, imaging from current position")
			} else {
				w.logger.Error("finding start position", "error", err)
			}
		}
		w.transition(eventImage, nil)
		return
	}
	w.transition(eventImage, nil)
	if err := w.rig.HalfStep(PlateSteps, w.opts.StepDelay); err != nil {
		w.logger.Error("rotating to plate", "plate", plate+1, "error", err)
	}
}

// capture takes one picture. A failure is logged and recorded; it never
// ends the run.
func (w *Worker) capture(ctx context.Context, r *run, plate int) {
	n := plate + 1
	at := w.clk.Now()
	name := fmt.Sprintf("plate%d/plate%d-%s", n, n, at.Format("20060102-150405"))

	res, err := w.pipeline.TakePicture(ctx, r.dir, name, plate)
	if res.WBRecalibrated {
		r.pinnedAWB = true
	}
	w.update(func(s *State) {
		s.CurrentDaytime = w.pipeline.Daytime()
		if err == nil {
			s.LastCaptured[plate] = res.Path
		}
	})

	rec := CaptureRecord{
		RunID:          r.id,
		Round:          r.rounds + 1,
		Plate:          n,
		Path:           res.Path,
		Daytime:        res.Daytime,
		Brightness:     res.Brightness,
		WBRecalibrated: res.WBRecalibrated,
		CapturedAt:     at,
		Duration:       res.Duration,
	}
	if err != nil {
		rec.Error = err.Error()
		w.logger.Error("capture failed", "run_id", r.id, "plate", n, "error", err)
	} else {
		w.logger.Info("captured",
			"plate", n,
			"path", res.Path,
			"daytime", res.Daytime,
			"brightness", res.Brightness,
		)
		if w.metrics != nil {
			w.metrics.WriteCaptureMetric(r.id, n, res.Daytime, res.Brightness, res.Duration, at)
		}
	}

	if w.recorder != nil && r.recorded {
		if rerr := w.recorder.CaptureRecorded(ctx, rec); rerr != nil {
			w.logger.Warn("recording capture", "run_id", r.id, "error", rerr)
		}
	}
	ev := captureEvent{
		RunID:      rec.RunID,
		Round:      rec.Round,
		Plate:      rec.Plate,
		Path:       rec.Path,
		Daytime:    rec.Daytime,
		Brightness: rec.Brightness,
		CapturedAt: rec.CapturedAt,
		Error:      rec.Error,
	}
	if w.hub != nil {
		w.hub.Broadcast(ChannelCapture, ev)
	}
	w.publish(w.topics.Capture, ev, false)
}

// park disengages the motor after a round and applies the idle rotation
// for offset. A stopping run parks with offset 0.
func (w *Worker) park(offset int) {
	if err := w.rig.MotorOn(false); err != nil {
		w.logger.Error("disengaging motor", "error", err)
	}
	if offset <= 0 {
		return
	}
	if err := w.rig.MotorOn(true); err != nil {
		w.logger.Error("engaging motor", "error", err)
		return
	}
	if err := w.rig.HalfStep(IdleSteps*offset, w.opts.StepDelay); err != nil {
		w.logger.Error("idle rotation", "offset", offset, "error", err)
	}
	if err := w.rig.MotorOn(false); err != nil {
		w.logger.Error("disengaging motor", "error", err)
	}
}

// wait polls until next or a stop request.
func (w *Worker) wait(ctx context.Context, next time.Time) {
	for {
		if w.stopRequested(ctx) {
			return
		}
		left := next.Sub(w.clk.Now())
		if left <= 0 {
			return
		}
		w.clk.Sleep(min(left, PollInterval))
	}
}

// finalize restores the camera and rig, records the outcome and returns
// the machine to Stopped.
func (w *Worker) finalize(ctx context.Context, r *run, reason string) {
	// hardware cleanup must run even when ctx is already cancelled
	ctx = context.WithoutCancel(ctx)

	var errs []error
	errs = append(errs,
		w.cam.SetColorEffects(nil),
		w.cam.SetExposureMode(camera.ExposureAuto),
		w.cam.SetMeterMode(camera.MeterSpot),
	)
	if r.pinnedAWB {
		errs = append(errs, w.cam.SetAWBMode(camera.AWBAuto))
	}
	errs = append(errs, w.rig.LEDControl(false), w.rig.MotorOn(false))
	if err := errors.Join(errs...); err != nil {
		w.logger.Warn("experiment cleanup", "run_id", r.id, "error", err)
	}

	if w.recorder != nil && r.recorded {
		if err := w.recorder.RunFinished(ctx, r.id, w.clk.Now(), r.rounds, reason); err != nil {
			w.logger.Warn("recording run end", "run_id", r.id, "error", err)
		}
	}
	if w.opts.LiveView {
		if err := w.cam.VideoMode(ctx); err != nil {
			w.logger.Warn("returning camera to live view", "error", err)
		}
	}

	w.transition(eventFinish, func(s *State) { s.reset() })
	w.logger.Info("experiment finished", "run_id", r.id, "reason", reason, "rounds", r.rounds)
}
