package correlator

import (
	"testing"
	"time"

	"github.com/hmdtrack/riftpose/internal/blobwatch"
	"github.com/hmdtrack/riftpose/internal/device"
	"github.com/hmdtrack/riftpose/internal/fusion"
	"github.com/hmdtrack/riftpose/internal/geom"
	"github.com/hmdtrack/riftpose/internal/pipeline"
)

var testIntrinsics = blobwatch.Intrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}

// sixLEDs returns a constellation of six LEDs, all facing the camera,
// spread enough in pixel space that each gets its own blob.
func sixLEDs() []blobwatch.LEDRef {
	offsets := []geom.Vec3{
		{X: -0.1, Y: -0.1}, {X: 0.1, Y: -0.1},
		{X: -0.1, Y: 0.1}, {X: 0.1, Y: 0.1},
		{X: -0.2, Y: 0}, {X: 0.2, Y: 0},
	}
	leds := make([]blobwatch.LEDRef, len(offsets))
	for i, o := range offsets {
		leds[i] = blobwatch.LEDRef{ID: i, Pos: o, Dir: geom.Vec3{Z: -1}}
	}
	return leds
}

// blobsFor projects leds under pose and intrinsics into a blob set, all
// unlabelled, so EvaluatePose/ApplyAcceptedPose see them as fresh
// observations for this frame.
func blobsFor(pose geom.Pose, leds []blobwatch.LEDRef, in blobwatch.Intrinsics) []blobwatch.Blob {
	blobs := make([]blobwatch.Blob, 0, len(leds))
	for _, led := range leds {
		p := pose.Apply(led.Pos)
		x, y, ok := in.Project(p)
		if !ok {
			continue
		}
		blobs = append(blobs, blobwatch.Blob{X: x, Y: y, W: 6, H: 6, LedID: blobwatch.LEDInvalidID, PrevLedID: blobwatch.LEDInvalidID})
	}
	return blobs
}

func newTestDeviceAt(t *testing.T, id int, isHMD bool) *device.Device {
	t.Helper()
	d := device.New(id, "dev", isHMD, geom.IdentityPose(), device.LEDModel{}, device.PolicyPoseUpdate, fusion.NewKalmanFilter6(0.01, 0.1))
	d.ImuUpdate(time.Now(), 1000, time.Millisecond, geom.Vec3{}, geom.Vec3{Z: 1}, geom.Vec3{})
	return d
}

func newFrame(blobs []blobwatch.Blob, nDevices int) *pipeline.Frame {
	f := &pipeline.Frame{ID: 0, StartTs: time.Now()}
	f.BlobObs = &blobwatch.Observation{Blobs: blobs}
	f.PerDevice = make([]pipeline.PerDeviceCaptureState, nDevices)
	f.ExposureInfo = pipeline.ExposureInfo{
		Devices: make([]pipeline.ExposureDeviceEntry, nDevices),
	}
	for i := range f.ExposureInfo.Devices {
		f.ExposureInfo.Devices[i] = pipeline.ExposureDeviceEntry{FusionSlot: i}
	}
	return f
}

func TestApplyAcceptedPoseBootstrapsFromHMD(t *testing.T) {
	leds := sixLEDs()
	truePose := geom.Pose{Pos: geom.Vec3{Z: 2}, Orient: geom.Identity()}
	blobs := blobsFor(truePose, leds, testIntrinsics)

	frame := newFrame(blobs, 1)
	dev := newTestDeviceAt(t, 0, true)
	cam := &CameraPoseState{}

	result := ApplyAcceptedPose(frame, 0, dev, leds, testIntrinsics, cam, truePose, device.SourceDeepSearch)
	if !result.Bootstrapped {
		t.Fatalf("expected bootstrap to fire on first confident HMD observation, got %+v", result)
	}
	if _, have := cam.Snapshot(); !have {
		t.Fatal("expected camera pose state to be bootstrapped")
	}
	if !frame.PerDevice[0].Resolved {
		t.Fatal("expected PerDevice[0].Resolved to be set")
	}
}

func TestApplyAcceptedPoseInjectsWhenCameraPoseKnown(t *testing.T) {
	leds := sixLEDs()
	truePose := geom.Pose{Pos: geom.Vec3{Z: 2}, Orient: geom.Identity()}
	blobs := blobsFor(truePose, leds, testIntrinsics)

	frame := newFrame(blobs, 1)
	dev := newTestDeviceAt(t, 1, false)

	cam := &CameraPoseState{}
	cam.TryBootstrap(geom.IdentityPose(), geom.IdentityPose()) // pre-bootstrap to identity

	dev.ClaimSlot(0) // simulate the frame-start claim normally done by the tracker
	if slot := dev.SlotSnapshot(0); slot.UseCount != 1 {
		t.Fatalf("setup: expected claimed slot UseCount=1, got %d", slot.UseCount)
	}

	result := ApplyAcceptedPose(frame, 0, dev, leds, testIntrinsics, cam, truePose, device.SourceDeepSearch)
	if !result.Applied || !result.InjectedPose {
		t.Fatalf("expected pose to be applied and injected, got %+v", result)
	}
	if !frame.PerDevice[0].FoundDevicePose {
		t.Fatal("expected FoundDevicePose to be set")
	}
	if slot := dev.SlotSnapshot(0); slot.UseCount != 0 {
		t.Fatalf("expected early slot release after injection, got UseCount=%d", slot.UseCount)
	}
}

func TestApplyAcceptedPoseRejectsPoorMatch(t *testing.T) {
	leds := sixLEDs()
	// blobs for a pose far from what's supplied: only noise, no real match
	blobs := []blobwatch.Blob{
		{X: 10, Y: 10, W: 4, H: 4, LedID: blobwatch.LEDInvalidID, PrevLedID: blobwatch.LEDInvalidID},
	}

	frame := newFrame(blobs, 1)
	dev := newTestDeviceAt(t, 0, true)
	cam := &CameraPoseState{}

	badPose := geom.Pose{Pos: geom.Vec3{Z: 2}, Orient: geom.Identity()}
	result := ApplyAcceptedPose(frame, 0, dev, leds, testIntrinsics, cam, badPose, device.SourceDeepSearch)
	if result.Applied {
		t.Fatalf("expected no pose to be applied against unmatched blobs, got %+v", result)
	}
	if frame.PerDevice[0].Resolved {
		t.Fatal("a rejected candidate must not mark the device resolved")
	}
}

// TestStage2NoDoubleLabelAcrossDevices exercises the blob-contention
// scenario: two devices' LED constellations project into disjoint pixel
// regions of the same frame, and accepting one device's pose must never
// take over the other device's blobs: both keep their own labels.
func TestStage2NoDoubleLabelAcrossDevices(t *testing.T) {
	leds0 := sixLEDs()
	leds1 := sixLEDs()

	pose0 := geom.Pose{Pos: geom.Vec3{Z: 2}, Orient: geom.Identity()}
	pose1 := geom.Pose{Pos: geom.Vec3{X: 1.5, Z: 2}, Orient: geom.Identity()}

	blobs := append(blobsFor(pose0, leds0, testIntrinsics), blobsFor(pose1, leds1, testIntrinsics)...)

	frame := newFrame(blobs, 2)
	dev0 := newTestDeviceAt(t, 0, true)
	dev1 := newTestDeviceAt(t, 1, false)
	cam := &CameraPoseState{}
	cam.TryBootstrap(geom.IdentityPose(), geom.IdentityPose())

	r0 := ApplyAcceptedPose(frame, 0, dev0, leds0, testIntrinsics, cam, pose0, device.SourceDeepSearch)
	r1 := ApplyAcceptedPose(frame, 1, dev1, leds1, testIntrinsics, cam, pose1, device.SourceDeepSearch)

	if !r0.Applied || !r1.Applied {
		t.Fatalf("expected both devices to resolve a pose, got r0=%+v r1=%+v", r0, r1)
	}

	for _, b := range frame.BlobObs.Blobs {
		owner := blobwatch.LedObjectID(b.LedID)
		if owner != -1 && owner != 0 && owner != 1 {
			t.Fatalf("blob labelled to unexpected device id %d", owner)
		}
	}

	owned0 := blobwatch.CountLabeled(frame.BlobObs.Blobs, 0)
	owned1 := blobwatch.CountLabeled(frame.BlobObs.Blobs, 1)
	if owned0 == 0 || owned1 == 0 {
		t.Fatalf("expected both devices to retain labelled blobs, got owned0=%d owned1=%d", owned0, owned1)
	}
}
