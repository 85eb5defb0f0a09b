package experiment

import "errors"

var (
	// ErrAlreadyRunning is returned by Go while an experiment is in progress.
	ErrAlreadyRunning = errors.New("experiment: already running")

	// ErrInvalidConfig is returned for a run configuration that cannot start.
	ErrInvalidConfig = errors.New("experiment: invalid configuration")

	// ErrInvalidPlate is returned for a plate index outside 1..Plates.
	ErrInvalidPlate = errors.New("experiment: invalid plate")

	// ErrUnknownCommand is returned for an unrecognised remote command.
	ErrUnknownCommand = errors.New("experiment: unknown command")
)
