package correlator

import (
	"testing"
	"time"

	"github.com/hmdtrack/riftpose/internal/geom"
)

func TestRunStage1FlagsLongAnalysisWithoutAPriorMatch(t *testing.T) {
	leds := sixLEDs()
	truePose := geom.Pose{Pos: geom.Vec3{Z: 2}, Orient: geom.Identity()}
	blobs := blobsFor(truePose, leds, testIntrinsics)

	frame := newFrame(blobs, 1)
	dev := newTestDeviceAt(t, 0, true)
	cam := &CameraPoseState{}

	ctx := DeviceContext{Dev: dev, LEDs: leds}
	result := RunStage1(frame, 0, ctx, testIntrinsics, cam)

	if result.Applied {
		t.Fatalf("expected stage 1 to fail without an exposure-time prior, got %+v", result)
	}
	if !frame.NeedLongAnalysis {
		t.Fatal("expected NeedLongAnalysis to be set so stage 2 picks up the frame")
	}
}

// TestRunStage1ReacquiresFromTheExposureTimeSnapshot exercises the
// steady-state fast-reacquire path: a good prior recorded at exposure
// time, not the device's live filter state, is what stage 1 must match
// blobs against.
func TestRunStage1ReacquiresFromTheExposureTimeSnapshot(t *testing.T) {
	leds := sixLEDs()
	truePose := geom.Pose{Pos: geom.Vec3{Z: 2}, Orient: geom.Identity()}
	blobs := blobsFor(truePose, leds, testIntrinsics)

	frame := newFrame(blobs, 1)
	frame.ExposureInfo.Devices[0].HavePrior = true
	frame.ExposureInfo.Devices[0].CapturePose = truePose
	frame.ExposureInfo.Devices[0].PosError = geom.Vec3{X: 0.01, Y: 0.01, Z: 0.01}
	frame.ExposureInfo.Devices[0].RotError = geom.Vec3{X: 0.01, Y: 0.01, Z: 0.01}
	frame.PerDevice[0].CaptureWorldPose = truePose

	dev := newTestDeviceAt(t, 0, true)
	// Move the live filter state far from the exposure-time snapshot: if
	// RunStage1 re-queried the filter live instead of reading the
	// snapshot, it would candidate-match against this pose, not truePose.
	dev.ImuUpdate(time.Now(), 2000, time.Millisecond, geom.Vec3{}, geom.Vec3{Z: 1}, geom.Vec3{})
	dev.ClaimSlot(0)

	cam := &CameraPoseState{}
	ctx := DeviceContext{Dev: dev, LEDs: leds}
	result := RunStage1(frame, 0, ctx, testIntrinsics, cam)

	if !result.Applied {
		t.Fatalf("expected stage 1 to reacquire from the exposure-time snapshot, got %+v", result)
	}
	if frame.PerDevice[0].CaptureWorldPose != truePose {
		t.Fatal("expected RunStage1 to leave the exposure-time CaptureWorldPose untouched")
	}
}
