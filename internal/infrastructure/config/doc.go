// Package config handles loading and validating spiro daemon configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SPIRO_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// The experiment section holds the defaults a run starts from; a start
// request may override name, delay, duration and output directory. The
// values a run uses are copied when it starts, so edits only affect the
// next run.
//
// Security Considerations:
//   - The control-surface password is stored as an Argon2id hash
//     (generate one with cmd/spiro-passwd)
//   - Secrets (JWT secret, MQTT password, InfluxDB token) should be set via
//     environment variables
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Instance.Name)
package config
