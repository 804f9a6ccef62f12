package calib

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DecodeDK2 decodes a raw calibration blob shaped like the legacy DK2
// factory EEPROM dump: camera matrix, five distortion coefficients,
// a fisheye flag, LED count + LED records, then the IMU-to-model pose,
// all little-endian: float32 values, a one-byte fisheye flag, a uint32
// LED count and int32 LED ids.
//
// The original DK2 firmware write path stored distortion as
// k[1]=k1; k[1]=p1; k[2]=p2; k[4]=k3 — k[1] gets overwritten and k[0]
// (meant to hold k1) is never written at all. DecodeDK2 writes the
// corrected mapping {k1,k2,p1,p2,k3} at indices {0,1,2,3,4} instead of
// reproducing that bug.
func DecodeDK2(raw []byte) (*Descriptor, error) {
	r := bytes.NewReader(raw)

	var d Descriptor
	var cam [9]float32
	if err := binary.Read(r, binary.LittleEndian, &cam); err != nil {
		return nil, fmt.Errorf("decoding DK2 camera matrix: %w", err)
	}
	for i, v := range cam {
		d.CameraMatrix[i] = float64(v)
	}

	var k1, k2, p1, p2, k3 float32
	for _, f := range []*float32{&k1, &k2, &p1, &p2, &k3} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("decoding DK2 distortion coefficients: %w", err)
		}
	}
	d.Distortion = [5]float64{float64(k1), float64(k2), float64(p1), float64(p2), float64(k3)}

	var fisheye uint8
	if err := binary.Read(r, binary.LittleEndian, &fisheye); err != nil {
		return nil, fmt.Errorf("decoding DK2 fisheye flag: %w", err)
	}
	d.Fisheye = fisheye != 0

	var ledCount uint32
	if err := binary.Read(r, binary.LittleEndian, &ledCount); err != nil {
		return nil, fmt.Errorf("decoding DK2 LED count: %w", err)
	}
	d.LEDs = make([]LEDPointSpec, ledCount)
	for i := range d.LEDs {
		var id int32
		var pos, dir [3]float32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("decoding DK2 LED %d id: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &pos); err != nil {
			return nil, fmt.Errorf("decoding DK2 LED %d position: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &dir); err != nil {
			return nil, fmt.Errorf("decoding DK2 LED %d direction: %w", i, err)
		}
		d.LEDs[i] = LEDPointSpec{
			ID:  int(id),
			Pos: [3]float64{float64(pos[0]), float64(pos[1]), float64(pos[2])},
			Dir: [3]float64{float64(dir[0]), float64(dir[1]), float64(dir[2])},
		}
	}

	var imuPos [3]float32
	var imuOrient [4]float32
	if err := binary.Read(r, binary.LittleEndian, &imuPos); err != nil {
		return nil, fmt.Errorf("decoding DK2 IMU-to-model position: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &imuOrient); err != nil {
		return nil, fmt.Errorf("decoding DK2 IMU-to-model orientation: %w", err)
	}
	d.ImuToModel = PoseSpec{
		Pos:    [3]float64{float64(imuPos[0]), float64(imuPos[1]), float64(imuPos[2])},
		Orient: [4]float64{float64(imuOrient[0]), float64(imuOrient[1]), float64(imuOrient[2]), float64(imuOrient[3])},
	}

	return &d, nil
}
