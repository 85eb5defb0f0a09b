// Package history persists experiment runs and capture attempts so the
// control surface can list past experiments.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nicolatrozzi/spiro/internal/experiment"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("history: run not found")

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one stored experiment.
type Run struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Dir        string     `json:"dir"`
	StartedAt  time.Time  `json:"started_at"`
	EndAt      time.Time  `json:"end_at"`
	Delay      int        `json:"delay"`
	Duration   int        `json:"duration"`
	TotalShots int        `json:"total_shots"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Rounds     int        `json:"rounds"`
	Reason     string     `json:"reason,omitempty"`
}

// Capture is one stored capture attempt.
type Capture struct {
	ID             int64     `json:"id"`
	RunID          string    `json:"run_id"`
	Round          int       `json:"round"`
	Plate          int       `json:"plate"`
	Path           string    `json:"path,omitempty"`
	Daytime        bool      `json:"daytime"`
	Brightness     float64   `json:"brightness"`
	WBRecalibrated bool      `json:"wb_recalibrated"`
	CapturedAt     time.Time `json:"captured_at"`
	DurationMS     int64     `json:"duration_ms"`
	Error          string    `json:"error,omitempty"`
}

// Filter pages through results.
type Filter struct {
	Limit  int // default 50, max 500
	Offset int
}

func (f Filter) clamp() Filter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 { //nolint:mnd // max page size
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// RunList is a page of runs.
type RunList struct {
	Runs   []Run `json:"runs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// Repository reads stored history.
type Repository interface {
	ListRuns(ctx context.Context, filter Filter) (*RunList, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	ListCaptures(ctx context.Context, runID string, filter Filter) ([]Capture, error)
}

// SQLiteRepository stores history in SQLite. It implements
// experiment.Recorder.
type SQLiteRepository struct {
	db *sql.DB
}

var _ experiment.Recorder = (*SQLiteRepository)(nil)

// NewSQLiteRepository returns a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RunStarted inserts a new run.
func (r *SQLiteRepository) RunStarted(ctx context.Context, run experiment.RunRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, dir, started_at, end_at, delay_min, duration_d, total_shots)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.Dir,
		run.StartedAt.UTC().Format(timeFormat),
		run.EndAt.UTC().Format(timeFormat),
		run.Delay, run.Duration, run.TotalShots,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// RunFinished records how a run ended.
func (r *SQLiteRepository) RunFinished(ctx context.Context, id string, finishedAt time.Time, rounds int, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, rounds = ?, reason = ? WHERE id = ?`,
		finishedAt.UTC().Format(timeFormat), rounds, reason, id,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// CaptureRecorded inserts one capture attempt.
func (r *SQLiteRepository) CaptureRecorded(ctx context.Context, c experiment.CaptureRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO captures (run_id, round, plate, path, daytime, brightness, wb_recalibrated, captured_at, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.Round, c.Plate, c.Path,
		boolInt(c.Daytime), c.Brightness, boolInt(c.WBRecalibrated),
		c.CapturedAt.UTC().Format(timeFormat),
		c.Duration.Milliseconds(), c.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting capture: %w", err)
	}
	return nil
}

// ListRuns returns runs, most recent first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, filter Filter) (*RunList, error) {
	filter = filter.clamp()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, fmt.Errorf("counting runs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, dir, started_at, end_at, delay_min, duration_d, total_shots, finished_at, rounds, reason
		 FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}

	return &RunList{Runs: runs, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// GetRun returns one run.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, dir, started_at, end_at, delay_min, duration_d, total_shots, finished_at, rounds, reason
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ListCaptures returns the captures of a run in capture order.
func (r *SQLiteRepository) ListCaptures(ctx context.Context, runID string, filter Filter) ([]Capture, error) {
	if _, err := r.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	filter = filter.clamp()

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, round, plate, path, daytime, brightness, wb_recalibrated, captured_at, duration_ms, error
		 FROM captures WHERE run_id = ? ORDER BY id LIMIT ? OFFSET ?`,
		runID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("querying captures: %w", err)
	}
	defer rows.Close()

	captures := []Capture{}
	for rows.Next() {
		var (
			c          Capture
			day, wb    int
			capturedAt string
		)
		if err := rows.Scan(&c.ID, &c.RunID, &c.Round, &c.Plate, &c.Path, &day, &c.Brightness,
			&wb, &capturedAt, &c.DurationMS, &c.Error); err != nil {
			return nil, fmt.Errorf("scanning capture: %w", err)
		}
		c.Daytime = day != 0
		c.WBRecalibrated = wb != 0
		if c.CapturedAt, err = time.Parse(timeFormat, capturedAt); err != nil {
			return nil, fmt.Errorf("parsing capture timestamp %q: %w", capturedAt, err)
		}
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating captures: %w", err)
	}
	return captures, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run                Run
		startedAt, endAt   string
		finishedAt, reason sql.NullString
	)
	if err := s.Scan(&run.ID, &run.Name, &run.Dir, &startedAt, &endAt, &run.Delay, &run.Duration,
		&run.TotalShots, &finishedAt, &run.Rounds, &reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}

	var err error
	if run.StartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
		return nil, fmt.Errorf("parsing run start %q: %w", startedAt, err)
	}
	if run.EndAt, err = time.Parse(timeFormat, endAt); err != nil {
		return nil, fmt.Errorf("parsing run end %q: %w", endAt, err)
	}
	if finishedAt.Valid {
		t, err := time.Parse(timeFormat, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing run finish %q: %w", finishedAt.String, err)
		}
		run.FinishedAt = &t
	}
	run.Reason = reason.String
	return &run, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
