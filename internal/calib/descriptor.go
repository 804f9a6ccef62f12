// Package calib loads a sensor or device's calibration descriptor:
// camera intrinsics and distortion for a sensor, or LED-constellation
// geometry and IMU offset for a device. It stands in for decoding these
// from onboard EEPROM, reading them instead from a small TOML file or a
// raw byte blob shaped like the legacy DK2 factory calibration.
package calib

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/hmdtrack/riftpose/internal/blobwatch"
	"github.com/hmdtrack/riftpose/internal/device"
	"github.com/hmdtrack/riftpose/internal/geom"
)

// Descriptor is the full calibration record for one sensor or device.
// A sensor's descriptor only populates CameraMatrix/Distortion/Fisheye;
// a device's descriptor only populates LEDs/ImuToModel. Both can be read
// from the same file shape so a single loader serves either role.
type Descriptor struct {
	CameraMatrix [9]float64     `toml:"camera_matrix"`
	Distortion   [5]float64     `toml:"distortion"`
	Fisheye      bool           `toml:"fisheye"`
	LEDs         []LEDPointSpec `toml:"led"`
	ImuToModel   PoseSpec       `toml:"imu_to_model"`
}

// LEDPointSpec is one LED's position/direction as written in a TOML
// calibration file.
type LEDPointSpec struct {
	ID  int        `toml:"id"`
	Pos [3]float64 `toml:"pos"`
	Dir [3]float64 `toml:"dir"`
}

// PoseSpec is a rigid transform as written in a TOML calibration file.
type PoseSpec struct {
	Pos    [3]float64 `toml:"pos"`
	Orient [4]float64 `toml:"orient"` // w, x, y, z
}

func (p PoseSpec) toPose() geom.Pose {
	return geom.Pose{
		Pos:    geom.Vec3{X: p.Pos[0], Y: p.Pos[1], Z: p.Pos[2]},
		Orient: geom.Quat{W: p.Orient[0], X: p.Orient[1], Y: p.Orient[2], Z: p.Orient[3]}.Normalize(),
	}
}

// Load reads and parses a TOML calibration descriptor.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calibration file: %w", err)
	}
	var d Descriptor
	d.Distortion = [5]float64{}
	if _, err := toml.Decode(string(data), &d); err != nil {
		return nil, fmt.Errorf("parsing calibration file: %w", err)
	}
	return &d, nil
}

// Intrinsics converts CameraMatrix (row-major fx,0,cx,0,fy,cy,0,0,1) and
// Distortion/Fisheye into the pinhole model the blobwatch package scores
// poses against.
func (d *Descriptor) Intrinsics() blobwatch.Intrinsics {
	return blobwatch.Intrinsics{
		Fx:         d.CameraMatrix[0],
		Fy:         d.CameraMatrix[4],
		Cx:         d.CameraMatrix[2],
		Cy:         d.CameraMatrix[5],
		Distortion: d.Distortion,
		Fisheye:    d.Fisheye,
	}
}

// LEDModel converts the descriptor's LED list into the device package's
// constellation model.
func (d *Descriptor) LEDModel() device.LEDModel {
	points := make([]device.LEDPoint, len(d.LEDs))
	for i, l := range d.LEDs {
		points[i] = device.LEDPoint{
			ID:  l.ID,
			Pos: geom.Vec3{X: l.Pos[0], Y: l.Pos[1], Z: l.Pos[2]},
			Dir: geom.Vec3{X: l.Dir[0], Y: l.Dir[1], Z: l.Dir[2]},
		}
	}
	return device.LEDModel{Points: points}
}

// LEDRefs converts the descriptor's LED list into the blobwatch
// package's scoring/search representation.
func (d *Descriptor) LEDRefs() []blobwatch.LEDRef {
	refs := make([]blobwatch.LEDRef, len(d.LEDs))
	for i, l := range d.LEDs {
		refs[i] = blobwatch.LEDRef{
			ID:  l.ID,
			Pos: geom.Vec3{X: l.Pos[0], Y: l.Pos[1], Z: l.Pos[2]},
			Dir: geom.Vec3{X: l.Dir[0], Y: l.Dir[1], Z: l.Dir[2]},
		}
	}
	return refs
}

// ImuToModelPose converts the descriptor's stored rigid offset.
func (d *Descriptor) ImuToModelPose() geom.Pose {
	return d.ImuToModel.toPose()
}
