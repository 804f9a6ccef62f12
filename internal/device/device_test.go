package device

import (
	"testing"
	"time"

	"github.com/hmdtrack/riftpose/internal/fusion"
	"github.com/hmdtrack/riftpose/internal/geom"
)

func newTestDevice(isHMD bool) *Device {
	f := fusion.NewKalmanFilter6(0.01, 0.1)
	return New(0, "test", isHMD, geom.IdentityPose(), LEDModel{}, PolicyPoseUpdate, f)
}

func TestClockExtensionMonotonicAcrossWrap(t *testing.T) {
	d := newTestDevice(false)

	seq := []uint32{100, 200, 4294967295, 50, 60}
	var last uint64
	for i, ts := range seq {
		d.ImuUpdate(time.Now(), ts, 0, geom.Vec3{}, geom.Vec3{}, geom.Vec3{})
		cur := d.DeviceTimeNs()
		if i > 0 && cur < last {
			t.Fatalf("clock went backwards at step %d: %d < %d", i, cur, last)
		}
		last = cur
	}
}

func TestDelaySlotRoundRobinAndRefcount(t *testing.T) {
	d := newTestDevice(false)

	e0 := d.UpdateExposure(1000, geom.IdentityPose(), geom.Vec3{}, geom.Vec3{})
	e1 := d.UpdateExposure(2000, geom.IdentityPose(), geom.Vec3{}, geom.Vec3{})
	e2 := d.UpdateExposure(3000, geom.IdentityPose(), geom.Vec3{}, geom.Vec3{})

	if e0.FusionSlot == e1.FusionSlot || e1.FusionSlot == e2.FusionSlot {
		t.Fatalf("expected distinct round-robin slots, got %d %d %d", e0.FusionSlot, e1.FusionSlot, e2.FusionSlot)
	}

	// Claim all 3 slots, as a frame-start would; with none free, a 4th
	// exposure must get -1 (invariant: no free delay slot -> fusion_slot = -1).
	d.ClaimSlot(e0.FusionSlot)
	d.ClaimSlot(e1.FusionSlot)
	d.ClaimSlot(e2.FusionSlot)
	e3 := d.UpdateExposure(4000, geom.IdentityPose(), geom.Vec3{}, geom.Vec3{})
	if e3.FusionSlot != -1 {
		t.Fatalf("expected exhausted slot allocation to return -1, got %d", e3.FusionSlot)
	}

	if got := d.SlotSnapshot(e0.FusionSlot).UseCount; got != 1 {
		t.Fatalf("expected use_count 1 after claim, got %d", got)
	}

	d.ReleaseSlot(e0.FusionSlot)
	snap := d.SlotSnapshot(e0.FusionSlot)
	if snap.UseCount != 0 || snap.Valid {
		t.Fatalf("expected slot released to valid=false use_count=0, got %+v", snap)
	}

	// Now a free slot exists again.
	e4 := d.UpdateExposure(5000, geom.IdentityPose(), geom.Vec3{}, geom.Vec3{})
	if e4.FusionSlot != e0.FusionSlot {
		t.Fatalf("expected released slot %d to be reused, got %d", e0.FusionSlot, e4.FusionSlot)
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	d := newTestDevice(false)
	e0 := d.UpdateExposure(1000, geom.IdentityPose(), geom.Vec3{}, geom.Vec3{})

	d.ReleaseSlot(e0.FusionSlot) // never claimed; must be a no-op, not negative
	snap := d.SlotSnapshot(e0.FusionSlot)
	if snap.UseCount < 0 {
		t.Fatalf("use_count went negative: %d", snap.UseCount)
	}
}

func TestHMDMirrorXZAppliedOnModelPoseUpdate(t *testing.T) {
	d := newTestDevice(true)
	e0 := d.UpdateExposure(1000, geom.IdentityPose(), geom.Vec3{}, geom.Vec3{})

	pose := geom.Pose{Pos: geom.Vec3{X: 1, Y: 2, Z: 3}, Orient: geom.Identity()}
	ok := d.ModelPoseUpdate(time.Now(), time.Now(), 1000, e0.FusionSlot, pose, SourceDeepSearch)
	if !ok {
		t.Fatal("expected pose to be injected (matching slot)")
	}
	if want := (geom.Vec3{X: 1, Y: -2, Z: 3}); d.lastObservedPose.Pos != want {
		t.Fatalf("expected XZ-mirrored position %+v, got %+v", want, d.lastObservedPose.Pos)
	}
}

func TestModelPoseUpdateDroppedWithoutMatchingSlot(t *testing.T) {
	d := newTestDevice(false)
	pose := geom.Pose{Pos: geom.Vec3{X: 1}, Orient: geom.Identity()}
	ok := d.ModelPoseUpdate(time.Now(), time.Now(), 1000, -1, pose, SourceDeepSearch)
	if ok {
		t.Fatal("expected drop when fusion slot is -1")
	}
}

func TestPoseLostFreezesPositionNotOrientation(t *testing.T) {
	d := newTestDevice(false)

	d.ImuUpdate(time.Now(), 0, 0, geom.Vec3{}, geom.Vec3{Z: -1}, geom.Vec3{})
	e0 := d.UpdateExposure(0, geom.IdentityPose(), geom.Vec3{}, geom.Vec3{})
	pose := geom.Pose{Pos: geom.Vec3{X: 1, Y: 2, Z: 3}, Orient: geom.Identity()}
	d.ModelPoseUpdate(time.Now(), time.Now(), 0, e0.FusionSlot, pose, SourceDeepSearch)

	view1 := d.GetViewPose(1.0)

	// Advance the device clock by 600ms of IMU-only samples with no new
	// visual observation: position must freeze at the last reported value.
	angVel := geom.Vec3{X: 0.1}
	d.ImuUpdate(time.Now(), uint32(600000), time.Millisecond, angVel, geom.Vec3{}, geom.Vec3{})

	view2 := d.GetViewPose(1.0)

	if view2.Pose.Pos != view1.Pose.Pos {
		t.Fatalf("expected frozen position %+v, got %+v", view1.Pose.Pos, view2.Pose.Pos)
	}
	if view2.Pose.Orient == view1.Pose.Orient {
		t.Fatalf("expected orientation to keep following the filter, stayed at %+v", view1.Pose.Orient)
	}
}
