// Package logging provides the structured logger shared by every spiro
// component.
//
// It wraps log/slog. Entries carry the service name, the build version
// and the rig instance, and components add their own "component" field:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, or a file path
//
// Usage:
//
//	logger := logging.New(cfg.Logging, cfg.Instance.Name, version)
//	worker := logger.Component("experiment")
//	worker.Info("captured", "plate", 1)
//
// Never log the control-surface password or JWT secret.
package logging
