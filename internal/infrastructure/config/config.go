package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the spiro daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Camera     CameraConfig     `yaml:"camera"`
	Hardware   HardwareConfig   `yaml:"hardware"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// InstanceConfig identifies this turntable rig.
type InstanceConfig struct {
	// Name is used in default experiment directory names and MQTT topics.
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// ExperimentConfig holds the default run parameters.
type ExperimentConfig struct {
	Name string `yaml:"name"`
	// Delay between rounds, in minutes.
	Delay int `yaml:"delay"`
	// Duration of a run, in days.
	Duration int `yaml:"duration"`
	// OutputRoot is where default experiment directories are created.
	OutputRoot string `yaml:"output_root"`

	// Shutter values are fractions of a second: 100 means 1/100 s.
	DayShutter   int `yaml:"dayshutter"`
	DayISO       int `yaml:"dayiso"`
	NightShutter int `yaml:"nightshutter"`
	NightISO     int `yaml:"nightiso"`

	// Calibration is the number of half-steps past the home switch.
	Calibration int `yaml:"calibration"`

	// ImageFormat is "png" or "jpeg".
	ImageFormat string           `yaml:"image_format"`
	Thumbnail   ResolutionConfig `yaml:"thumbnail"`
}

// ResolutionConfig is a width/height pair.
type ResolutionConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// CameraConfig selects and configures the camera backend.
type CameraConfig struct {
	// Backend is one of "sim", "rpicam", "v4l2".
	Backend          string           `yaml:"backend"`
	Device           string           `yaml:"device"`
	Resolution       ResolutionConfig `yaml:"resolution"`
	VideoResolution  ResolutionConfig `yaml:"video_resolution"`
	SampleResolution ResolutionConfig `yaml:"sample_resolution"`
	StillBinary      string           `yaml:"still_binary"`
	VideoBinary      string           `yaml:"video_binary"`
	VideoFramerate   int              `yaml:"video_framerate"`
	// Focus is the lens position in dioptres (0 leaves focus alone).
	Focus float64 `yaml:"focus"`
	// LiveView puts the camera in video mode while no run is active.
	LiveView bool `yaml:"live_view"`
}

// HardwareConfig selects and configures the turntable/LED driver.
type HardwareConfig struct {
	// Backend is "sim" or "gpio".
	Backend string     `yaml:"backend"`
	Pins    PinsConfig `yaml:"pins"`
	// StepDelayMS is the delay between half-steps, in milliseconds.
	StepDelayMS int `yaml:"step_delay_ms"`
	// HomeTimeout bounds the home-switch search, in seconds.
	HomeTimeout int `yaml:"home_timeout"`
}

// PinsConfig holds BCM GPIO numbers.
type PinsConfig struct {
	Sensor int `yaml:"sensor"`
	LED    int `yaml:"led"`
	PWMA   int `yaml:"pwm_a"`
	PWMB   int `yaml:"pwm_b"`
	CoilA1 int `yaml:"coil_a1"`
	CoilA2 int `yaml:"coil_a2"`
	CoilB1 int `yaml:"coil_b1"`
	CoilB2 int `yaml:"coil_b2"`
	Stdby  int `yaml:"stdby"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP control surface settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains control-surface authentication settings.
type SecurityConfig struct {
	// PasswordHash is an Argon2id PHC string. Empty disables authentication.
	PasswordHash string    `yaml:"password_hash"`
	JWT          JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// AccessTokenTTL in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SPIRO_SECTION_KEY
// For example: SPIRO_DATABASE_PATH, SPIRO_CAMERA_BACKEND
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration, validated as-is. It is used
// when no configuration file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

func defaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Instance: InstanceConfig{
			Name:     "spiro",
			Timezone: "Local",
		},
		Experiment: ExperimentConfig{
			Delay:        60,
			Duration:     7,
			OutputRoot:   home,
			DayShutter:   100,
			DayISO:       50,
			NightShutter: 10,
			NightISO:     400,
			Calibration:  8,
			ImageFormat:  "png",
			Thumbnail:    ResolutionConfig{Width: 800, Height: 600},
		},
		Camera: CameraConfig{
			Backend:          "rpicam",
			Device:           "/dev/video0",
			Resolution:       ResolutionConfig{Width: 2592, Height: 1944},
			VideoResolution:  ResolutionConfig{Width: 1024, Height: 768},
			SampleResolution: ResolutionConfig{Width: 320, Height: 240},
			StillBinary:      "rpicam-still",
			VideoBinary:      "rpicam-vid",
			VideoFramerate:   10,
			LiveView:         true,
		},
		Hardware: HardwareConfig{
			Backend: "gpio",
			Pins: PinsConfig{
				Sensor: 4,
				LED:    17,
				PWMA:   8,
				PWMB:   14,
				CoilA1: 25,
				CoilA2: 24,
				CoilB1: 18,
				CoilB2: 15,
				Stdby:  23,
			},
			StepDelayMS: 30,
			HomeTimeout: 60,
		},
		Database: DatabaseConfig{
			Path:        "./data/spiro.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "spiro",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 0, // live view streams indefinitely
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "spiro",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 720,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPIRO_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("SPIRO_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SPIRO_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SPIRO_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("SPIRO_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("SPIRO_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("SPIRO_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("SPIRO_PASSWORD_HASH"); v != "" {
		cfg.Security.PasswordHash = v
	}

	if v := os.Getenv("SPIRO_CAMERA_BACKEND"); v != "" {
		cfg.Camera.Backend = v
	}
	if v := os.Getenv("SPIRO_HARDWARE_BACKEND"); v != "" {
		cfg.Hardware.Backend = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Instance.Name == "" {
		errs = append(errs, "instance.name is required")
	}

	errs = append(errs, c.Experiment.validate()...)

	switch c.Camera.Backend {
	case "sim", "rpicam", "v4l2":
	default:
		errs = append(errs, fmt.Sprintf("camera.backend %q must be sim, rpicam or v4l2", c.Camera.Backend))
	}
	if c.Camera.Resolution.Width <= 0 || c.Camera.Resolution.Height <= 0 {
		errs = append(errs, "camera.resolution must be positive")
	}
	if c.Camera.SampleResolution.Width <= 0 || c.Camera.SampleResolution.Height <= 0 {
		errs = append(errs, "camera.sample_resolution must be positive")
	}

	switch c.Hardware.Backend {
	case "sim", "gpio":
	default:
		errs = append(errs, fmt.Sprintf("hardware.backend %q must be sim or gpio", c.Hardware.Backend))
	}
	if c.Hardware.StepDelayMS < 0 {
		errs = append(errs, "hardware.step_delay_ms must not be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Tokens are only issued when a password is configured.
	const minJWTSecretLength = 32
	if c.Security.PasswordHash != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters when a password is set (set SPIRO_JWT_SECRET)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (e ExperimentConfig) validate() []string {
	var errs []string
	if e.Delay <= 0 {
		errs = append(errs, "experiment.delay must be positive")
	}
	if e.Duration <= 0 {
		errs = append(errs, "experiment.duration must be positive")
	}
	if e.DayShutter <= 0 || e.NightShutter <= 0 {
		errs = append(errs, "experiment.dayshutter and experiment.nightshutter must be positive")
	}
	if e.DayISO <= 0 || e.NightISO <= 0 {
		errs = append(errs, "experiment.dayiso and experiment.nightiso must be positive")
	}
	if e.Calibration < 0 {
		errs = append(errs, "experiment.calibration must not be negative")
	}
	switch e.ImageFormat {
	case "png", "jpeg":
	default:
		errs = append(errs, fmt.Sprintf("experiment.image_format %q must be png or jpeg", e.ImageFormat))
	}
	if e.Thumbnail.Width <= 0 || e.Thumbnail.Height <= 0 {
		errs = append(errs, "experiment.thumbnail must be positive")
	}
	return errs
}

// StepDelay returns the half-step delay as a Duration.
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.Hardware.StepDelayMS) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
