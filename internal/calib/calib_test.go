package calib

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTOML(t *testing.T) {
	content := `
camera_matrix = [500, 0, 320, 0, 500, 240, 0, 0, 1]
distortion = [0.01, -0.02, 0.001, -0.001, 0.0]
fisheye = false

[[led]]
id = 0
pos = [0.01, 0.02, -0.03]
dir = [0, 0, -1]

[imu_to_model]
pos = [0, 0, 0.01]
orient = [1, 0, 0, 0]
`
	dir := t.TempDir()
	path := filepath.Join(dir, "sensor.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	d, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in := d.Intrinsics()
	if in.Fx != 500 || in.Fy != 500 || in.Cx != 320 || in.Cy != 240 {
		t.Errorf("unexpected intrinsics: %+v", in)
	}

	leds := d.LEDRefs()
	if len(leds) != 1 || leds[0].ID != 0 {
		t.Fatalf("unexpected LED refs: %+v", leds)
	}

	pose := d.ImuToModelPose()
	if pose.Pos.Z != 0.01 {
		t.Errorf("unexpected imu-to-model pose: %+v", pose)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/calib.toml"); err == nil {
		t.Error("expected error for missing calibration file")
	}
}

// encodeDK2 builds a raw blob in the same layout DecodeDK2 expects, for
// round-trip testing.
func encodeDK2(t *testing.T, cam [9]float32, k1, k2, p1, p2, k3 float32, fisheye bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	must := func(err error) {
		if err != nil {
			t.Fatalf("building test blob: %v", err)
		}
	}
	must(binary.Write(&buf, binary.LittleEndian, cam))
	for _, v := range []float32{k1, k2, p1, p2, k3} {
		must(binary.Write(&buf, binary.LittleEndian, v))
	}
	var fb uint8
	if fisheye {
		fb = 1
	}
	must(binary.Write(&buf, binary.LittleEndian, fb))
	must(binary.Write(&buf, binary.LittleEndian, uint32(1)))
	must(binary.Write(&buf, binary.LittleEndian, int32(3)))
	must(binary.Write(&buf, binary.LittleEndian, [3]float32{0.01, 0.02, 0.03}))
	must(binary.Write(&buf, binary.LittleEndian, [3]float32{0, 0, -1}))
	must(binary.Write(&buf, binary.LittleEndian, [3]float32{0, 0, 0.01}))
	must(binary.Write(&buf, binary.LittleEndian, [4]float32{1, 0, 0, 0}))
	return buf.Bytes()
}

func TestDecodeDK2CorrectedDistortionMapping(t *testing.T) {
	raw := encodeDK2(t, [9]float32{500, 0, 320, 0, 500, 240, 0, 0, 1}, 0.1, 0.2, 0.3, 0.4, 0.5, true)

	d, err := DecodeDK2(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [5]float64{
		roundTrip32(0.1), roundTrip32(0.2), roundTrip32(0.3), roundTrip32(0.4), roundTrip32(0.5),
	}
	if d.Distortion != want {
		t.Errorf("expected corrected {k1,k2,p1,p2,k3} mapping %v, got %v", want, d.Distortion)
	}
	if !d.Fisheye {
		t.Error("expected fisheye flag to decode true")
	}
	if len(d.LEDs) != 1 || d.LEDs[0].ID != 3 {
		t.Fatalf("unexpected LED list: %+v", d.LEDs)
	}
}

func roundTrip32(f float64) float64 {
	return float64(float32(f))
}
