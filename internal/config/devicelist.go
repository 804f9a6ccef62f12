package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DeviceRosterEntry is one device's roster entry: the LED model file and
// IMU-to-model offset are kept out of riftpose.toml so the roster can be
// swapped per rig without touching the rest of the runtime config.
type DeviceRosterEntry struct {
	ID           int        `yaml:"id"`
	Name         string     `yaml:"name"`
	IsHMD        bool       `yaml:"is_hmd"`
	LEDModel     string     `yaml:"led_model"`
	ImuOffsetXYZ [3]float64 `yaml:"imu_offset_xyz"`
}

// DeviceRoster is the top-level structure for devices.yaml, an
// alternative to listing [[devices]] inline in riftpose.toml.
type DeviceRoster struct {
	Devices []DeviceRosterEntry `yaml:"devices"`
}

// LoadDeviceRoster reads and parses a device roster file.
func LoadDeviceRoster(path string) (*DeviceRoster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device roster: %w", err)
	}
	var roster DeviceRoster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("parse device roster: %w", err)
	}
	return &roster, nil
}

// ToDeviceConfigs converts a roster into the []DeviceConfig shape the
// rest of riftpose consumes, so both the inline-TOML and external-YAML
// paths feed the same downstream construction code. ImuOffsetXYZ is not
// carried over: DeviceConfig has no offset field, and a device's
// IMU-to-model pose comes from its calibration descriptor.
func (r *DeviceRoster) ToDeviceConfigs(calibDir string) []DeviceConfig {
	out := make([]DeviceConfig, len(r.Devices))
	for i, d := range r.Devices {
		path := d.LEDModel
		if calibDir != "" {
			path = calibDir + "/" + d.LEDModel
		}
		out[i] = DeviceConfig{ID: d.ID, Name: d.Name, IsHMD: d.IsHMD, CalibPath: path}
	}
	return out
}
