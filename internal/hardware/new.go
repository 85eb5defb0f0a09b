package hardware

import (
	"fmt"

	"github.com/nicolatrozzi/spiro/internal/clock"
	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
)

// New builds the driver selected by cfg.Backend.
func New(cfg config.HardwareConfig, clk clock.Clock, logger Logger) (Controller, error) {
	switch cfg.Backend {
	case "sim":
		return NewSim(clk), nil
	case "gpio":
		g, err := NewGPIO(cfg, clk, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
