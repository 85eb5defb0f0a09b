package camera

import "errors"

var (
	// ErrClosed is returned by operations on a closed camera.
	ErrClosed = errors.New("camera: closed")

	// ErrInvalidResolution is returned when a resolution has a zero or
	// negative dimension.
	ErrInvalidResolution = errors.New("camera: invalid resolution")

	// ErrShortFrame is returned when a backend yields fewer bytes than
	// the advertised raw geometry requires.
	ErrShortFrame = errors.New("camera: short frame")

	// ErrUnknownBackend is returned by New for an unrecognised backend name.
	ErrUnknownBackend = errors.New("camera: unknown backend")

	// ErrFrameTimeout is returned when no frame arrives in time.
	ErrFrameTimeout = errors.New("camera: frame timeout")
)
