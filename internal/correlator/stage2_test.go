package correlator

import (
	"testing"

	"github.com/hmdtrack/riftpose/internal/blobwatch"
	"github.com/hmdtrack/riftpose/internal/geom"
)

func TestRunStage2ResolvesBothDevicesWithoutDoubleLabel(t *testing.T) {
	leds0 := sixLEDs()
	leds1 := sixLEDs()

	// both poses sit at the search package's assumed nominal depth (0.5m)
	// so the seed-from-identity PnP refine converges correctly: a fresh
	// search is only ever handed a shallow initial guess, not a depth
	// prior.
	pose0 := geom.Pose{Pos: geom.Vec3{Z: 0.5}, Orient: geom.Identity()}
	pose1 := geom.Pose{Pos: geom.Vec3{X: 1.5, Z: 0.5}, Orient: geom.Identity()}

	blobs := append(blobsFor(pose0, leds0, testIntrinsics), blobsFor(pose1, leds1, testIntrinsics)...)

	frame := newFrame(blobs, 2)
	dev0 := newTestDeviceAt(t, 0, true)
	dev1 := newTestDeviceAt(t, 1, false)
	cam := &CameraPoseState{}

	search := blobwatch.NewSearch(testIntrinsics)
	devices := []DeviceContext{{Dev: dev0, LEDs: leds0}, {Dev: dev1, LEDs: leds1}}

	results := RunStage2(frame, devices, search, testIntrinsics, cam, geom.Vec3{Y: 1})

	for i, r := range results {
		if !r.Applied {
			t.Fatalf("device %d: expected stage 2 to resolve a pose, got %+v", i, r)
		}
	}

	owned0 := blobwatch.CountLabeled(frame.BlobObs.Blobs, 0)
	owned1 := blobwatch.CountLabeled(frame.BlobObs.Blobs, 1)
	if owned0 == 0 || owned1 == 0 {
		t.Fatalf("expected both devices to retain labelled blobs, got owned0=%d owned1=%d", owned0, owned1)
	}
}
