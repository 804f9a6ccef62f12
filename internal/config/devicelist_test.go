package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDeviceRoster(t *testing.T) {
	content := `
devices:
  - id: 0
    name: hmd
    is_hmd: true
    led_model: hmd.json
    imu_offset_xyz: [0.0, 0.01, -0.02]
  - id: 1
    name: left-hand
    led_model: left-hand.json
`
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	roster, err := LoadDeviceRoster(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roster.Devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(roster.Devices))
	}
	if !roster.Devices[0].IsHMD || roster.Devices[1].IsHMD {
		t.Errorf("unexpected is_hmd flags: %+v", roster.Devices)
	}
	if roster.Devices[0].ImuOffsetXYZ != [3]float64{0.0, 0.01, -0.02} {
		t.Errorf("unexpected imu offset: %+v", roster.Devices[0].ImuOffsetXYZ)
	}

	cfgs := roster.ToDeviceConfigs("calib")
	if len(cfgs) != 2 || cfgs[0].CalibPath != "calib/hmd.json" {
		t.Errorf("unexpected device configs: %+v", cfgs)
	}
}

func TestLoadDeviceRosterMissingFile(t *testing.T) {
	if _, err := LoadDeviceRoster("/nonexistent/devices.yaml"); err == nil {
		t.Error("expected error for missing roster file")
	}
}
