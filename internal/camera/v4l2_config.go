package camera

import (
	"time"

	"github.com/nicolatrozzi/spiro/internal/process"
)

// V4L2Config configures the V4L2 backend.
type V4L2Config struct {
	Device          string
	Resolution      Resolution
	VideoResolution Resolution
	BufferSize      uint32
	FrameTimeout    time.Duration
	Logger          process.Logger
}

func (c *V4L2Config) applyDefaults() {
	if c.Device == "" {
		c.Device = "/dev/video0"
	}
	if !c.Resolution.Valid() {
		c.Resolution = Resolution{Width: 1920, Height: 1080}
	}
	if !c.VideoResolution.Valid() {
		c.VideoResolution = Resolution{Width: 640, Height: 480}
	}
	if c.BufferSize == 0 {
		c.BufferSize = 2
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = 5 * time.Second
	}
}
