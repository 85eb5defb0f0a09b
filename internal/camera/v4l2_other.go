//go:build !linux || !cgo

package camera

import (
	"context"
	"errors"
)

// ErrV4L2Unsupported is returned on builds without V4L2 support.
var ErrV4L2Unsupported = errors.New("camera: v4l2 backend requires linux with cgo")

// NewV4L2 is unavailable on this platform.
func NewV4L2(context.Context, V4L2Config) (Camera, error) {
	return nil, ErrV4L2Unsupported
}
