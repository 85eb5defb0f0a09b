package camera

import (
	"context"
	"fmt"

	"github.com/nicolatrozzi/spiro/internal/clock"
	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
	"github.com/nicolatrozzi/spiro/internal/process"
)

// FromConfig converts a configured resolution.
func FromConfig(r config.ResolutionConfig) Resolution {
	return Resolution{Width: r.Width, Height: r.Height}
}

// New builds the backend selected by cfg.Backend.
//
// Parameters:
//   - ctx: Used for opening streaming devices
//   - cfg: Camera section of the daemon configuration
//   - clk: Time source for the simulated backend
//   - logger: Receives backend and helper-process diagnostics
//
// Returns:
//   - Camera: Ready backend, in video mode
//   - error: ErrUnknownBackend, or a device open failure
func New(ctx context.Context, cfg config.CameraConfig, clk clock.Clock, logger process.Logger) (Camera, error) {
	switch cfg.Backend {
	case "sim":
		return NewSim(SimConfig{
			Resolution:      FromConfig(cfg.Resolution),
			VideoResolution: FromConfig(cfg.VideoResolution),
			Clock:           clk,
		}), nil
	case "rpicam":
		return NewRPiCam(RPiCamConfig{
			StillBinary:     cfg.StillBinary,
			VideoBinary:     cfg.VideoBinary,
			Resolution:      FromConfig(cfg.Resolution),
			VideoResolution: FromConfig(cfg.VideoResolution),
			VideoFramerate:  cfg.VideoFramerate,
			LensPosition:    cfg.Focus,
			Logger:          logger,
		}), nil
	case "v4l2":
		cam, err := NewV4L2(ctx, V4L2Config{
			Device:          cfg.Device,
			Resolution:      FromConfig(cfg.Resolution),
			VideoResolution: FromConfig(cfg.VideoResolution),
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		return cam, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
