// Package config provides TOML configuration loading for riftpose.
//
// The configuration file supports the following structure:
//
//	[fusion]
//	mode = "pose"           # "pose" or "position"
//	process_noise = 0.01
//	measurement_noise = 0.1
//
//	[[sensors]]
//	id = 0
//	name = "front"
//	calib_path = "calib/front.toml"
//	external_sync = false
//
//	[[devices]]
//	id = 0
//	name = "hmd"
//	is_hmd = true
//	calib_path = "calib/hmd.toml"
//
//	[telemetry]
//	verbose = false
//	store_path = ""
//	preview = false
//
// Example usage:
//
//	cfg, err := config.Load("riftpose.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("fusion mode: %v\n", cfg.Fusion.Mode)
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FusionMode selects between full pose updates and position-only updates
// when a device's visual observation is injected into its filter.
type FusionMode int

const (
	FusionModePose FusionMode = iota
	FusionModePosition
)

func (m FusionMode) String() string {
	if m == FusionModePosition {
		return "position"
	}
	return "pose"
}

func parseFusionMode(s string) (FusionMode, error) {
	switch s {
	case "", "pose":
		return FusionModePose, nil
	case "position":
		return FusionModePosition, nil
	default:
		return FusionModePose, fmt.Errorf("unknown fusion mode %q", s)
	}
}

// Config is the complete riftpose runtime configuration.
type Config struct {
	Fusion    FusionConfig    `toml:"fusion"`
	Sensors   []SensorConfig  `toml:"sensors"`
	Devices   []DeviceConfig  `toml:"devices"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// FusionConfig holds the tunables for the output pose filter.
type FusionConfig struct {
	// ModeName selects pose vs. position-only updates (default: "pose").
	ModeName string `toml:"mode"`
	// ProcessNoise is the filter's process noise scalar (default: 0.01).
	ProcessNoise float64 `toml:"process_noise"`
	// MeasurementNoise is the filter's measurement noise scalar (default: 0.1).
	MeasurementNoise float64 `toml:"measurement_noise"`

	Mode FusionMode `toml:"-"`
}

// SensorConfig describes one camera sensor.
type SensorConfig struct {
	// ID is the small integer sensor index used by the wire protocol.
	ID int `toml:"id"`
	// Name is a human-readable label for logs and telemetry.
	Name string `toml:"name"`
	// CalibPath points at a TOML or DK2-blob calibration descriptor.
	CalibPath string `toml:"calib_path"`
	// ExternalSync routes start-of-frame through a serial GPIO sync line
	// instead of the embedded USB SOF.
	ExternalSync bool `toml:"external_sync"`
}

// DeviceConfig describes one tracked device (HMD or controller).
type DeviceConfig struct {
	// ID is the small integer device index used by the wire protocol.
	ID int `toml:"id"`
	// Name is a human-readable label for logs and telemetry.
	Name string `toml:"name"`
	// IsHMD marks the headset; all other devices are hand controllers.
	IsHMD bool `toml:"is_hmd"`
	// CalibPath points at the device's LED-constellation descriptor.
	CalibPath string `toml:"calib_path"`
}

// TelemetryConfig holds logging/telemetry settings.
type TelemetryConfig struct {
	// Verbose enables extra per-frame log detail (default: false).
	Verbose bool `toml:"verbose"`
	// StorePath, if set, opens a sqlite session-replay store at that path.
	StorePath string `toml:"store_path"`
	// Preview enables the gocv debug preview window.
	Preview bool `toml:"preview"`
}

// Default returns the default configuration: pose-mode fusion, no
// sensors or devices configured, telemetry quiet.
func Default() *Config {
	return &Config{
		Fusion: FusionConfig{
			ModeName:         "pose",
			Mode:             FusionModePose,
			ProcessNoise:     0.01,
			MeasurementNoise: 0.1,
		},
	}
}

// Load reads and parses a TOML configuration file. If path is empty or
// the file does not exist, it returns the default configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	mode, err := parseFusionMode(cfg.Fusion.ModeName)
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Fusion.Mode = mode

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Fusion.ProcessNoise <= 0 {
		return fmt.Errorf("fusion process_noise must be positive, got %f", c.Fusion.ProcessNoise)
	}
	if c.Fusion.MeasurementNoise <= 0 {
		return fmt.Errorf("fusion measurement_noise must be positive, got %f", c.Fusion.MeasurementNoise)
	}
	seen := map[int]bool{}
	for _, s := range c.Sensors {
		if seen[s.ID] {
			return fmt.Errorf("duplicate sensor id %d", s.ID)
		}
		seen[s.ID] = true
	}
	seenDev := map[int]bool{}
	for _, d := range c.Devices {
		if seenDev[d.ID] {
			return fmt.Errorf("duplicate device id %d", d.ID)
		}
		seenDev[d.ID] = true
	}
	return nil
}
