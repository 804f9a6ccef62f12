package tracker

import (
	"testing"
	"time"

	"github.com/hmdtrack/riftpose/internal/blobwatch"
	"github.com/hmdtrack/riftpose/internal/device"
	"github.com/hmdtrack/riftpose/internal/fusion"
	"github.com/hmdtrack/riftpose/internal/geom"
)

var testIntrinsics = blobwatch.Intrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}

func newTestDevice(id int, isHMD bool) *device.Device {
	return device.New(id, "dev", isHMD, geom.IdentityPose(), device.LEDModel{}, device.PolicyPoseUpdate, fusion.NewKalmanFilter6(0.01, 0.1))
}

func TestUpdateExposureUnchangedCountOnlyRefreshesLEDPhase(t *testing.T) {
	tr := New()
	tr.AddDevice(newTestDevice(0, true))

	tr.UpdateExposure(10, 1, 0)
	first, _ := tr.ExposureSnapshot()

	tr.UpdateExposure(10, 1, 3)
	second, _ := tr.ExposureSnapshot()

	if second.LedPatternPhase != 3 {
		t.Fatalf("expected led phase to refresh to 3, got %d", second.LedPatternPhase)
	}
	if second.Devices[0].FusionSlot != first.Devices[0].FusionSlot {
		t.Fatalf("expected the fusion slot to be kept across an unchanged count, got %d then %d",
			first.Devices[0].FusionSlot, second.Devices[0].FusionSlot)
	}
}

// TestUpdateExposureExhaustsDelaySlotsAfterThreeUnclaimedFrames covers
// scenario (d): three exposures in quick succession, each claimed by a
// frame-start that never releases, exhaust the three delay slots so the
// fourth exposure's fusion_slot is -1; releasing one frees it again.
func TestUpdateExposureExhaustsDelaySlotsAfterThreeUnclaimedFrames(t *testing.T) {
	tr := New()
	dev := newTestDevice(0, true)
	tr.AddDevice(dev)

	var claimed []int
	for i := 0; i < device.NumPoseDelaySlots; i++ {
		tr.UpdateExposure(uint64(i), uint64(i+1), 0)
		snap, _ := tr.ExposureSnapshot()
		slot := snap.Devices[0].FusionSlot
		if slot < 0 {
			t.Fatalf("expected a free slot on exposure %d, got -1", i+1)
		}
		dev.ClaimSlot(slot)
		claimed = append(claimed, slot)
	}

	tr.UpdateExposure(99, uint64(device.NumPoseDelaySlots+1), 0)
	snap, _ := tr.ExposureSnapshot()
	if snap.Devices[0].FusionSlot != -1 {
		t.Fatalf("expected delay-slot exhaustion (fusion_slot=-1), got %d", snap.Devices[0].FusionSlot)
	}

	dev.ReleaseSlot(claimed[0])
	tr.UpdateExposure(100, uint64(device.NumPoseDelaySlots+2), 0)
	snap, _ = tr.ExposureSnapshot()
	if snap.Devices[0].FusionSlot != claimed[0] {
		t.Fatalf("expected the released slot %d to be reused, got %d", claimed[0], snap.Devices[0].FusionSlot)
	}
}

func TestFrameStartReleasePairing(t *testing.T) {
	tr := New()
	tr.FrameStart(0, time.Now())
	tr.FrameStart(0, time.Now())
	if got := tr.OutstandingFrames(0); got != 2 {
		t.Fatalf("expected 2 outstanding frame-starts, got %d", got)
	}
	tr.FrameRelease(0)
	if got := tr.OutstandingFrames(0); got != 1 {
		t.Fatalf("expected 1 outstanding frame-start after one release, got %d", got)
	}
	tr.FrameRelease(0)
	if got := tr.OutstandingFrames(0); got != 0 {
		t.Fatalf("expected 0 outstanding frame-starts after both released, got %d", got)
	}
}

// TestAdoptExposureWithinWindowSwapsTheFramesClaim covers the accept half
// of scenario (e): a frame already carrying one exposure adopts a new
// one published 3 ms later, releasing its original delay-slot claim and
// claiming the new exposure's slot instead.
func TestAdoptExposureWithinWindowSwapsTheFramesClaim(t *testing.T) {
	tr := New()
	dev := newTestDevice(0, true)
	tr.AddDevice(dev)
	s, err := tr.AddSensor(0, testIntrinsics)
	if err != nil {
		t.Fatalf("AddSensor: %v", err)
	}

	tr.UpdateExposure(1, 1, 0)
	snap1, _ := tr.ExposureSnapshot()
	slot1 := snap1.Devices[0].FusionSlot
	if slot1 < 0 {
		t.Fatal("setup: expected a free slot for the first exposure")
	}

	s.StartOfFrame(time.Now())
	if got := dev.SlotSnapshot(slot1).UseCount; got != 1 {
		t.Fatalf("expected start-of-frame to claim slot %d, got UseCount=%d", slot1, got)
	}

	time.Sleep(3 * time.Millisecond)
	tr.UpdateExposure(2, 2, 0)
	snap2, _ := tr.ExposureSnapshot()
	slot2 := snap2.Devices[0].FusionSlot
	if slot2 < 0 {
		t.Fatal("setup: expected a free slot for the second exposure")
	}

	if got := dev.SlotSnapshot(slot1).UseCount; got != 0 {
		t.Fatalf("expected the original slot %d to be released after adoption, got UseCount=%d", slot1, got)
	}
	if got := dev.SlotSnapshot(slot2).UseCount; got != 1 {
		t.Fatalf("expected the new slot %d to be claimed after adoption, got UseCount=%d", slot2, got)
	}
}

// TestAdoptExposureOutsideWindowKeepsTheFramesOriginalClaim covers the
// reject half of scenario (e): an exposure published 9 ms after
// start-of-frame (outside the 5 ms window) leaves the in-flight frame's
// original claim untouched.
func TestAdoptExposureOutsideWindowKeepsTheFramesOriginalClaim(t *testing.T) {
	tr := New()
	dev := newTestDevice(0, true)
	tr.AddDevice(dev)
	s, err := tr.AddSensor(0, testIntrinsics)
	if err != nil {
		t.Fatalf("AddSensor: %v", err)
	}

	tr.UpdateExposure(1, 1, 0)
	snap1, _ := tr.ExposureSnapshot()
	slot1 := snap1.Devices[0].FusionSlot
	if slot1 < 0 {
		t.Fatal("setup: expected a free slot for the first exposure")
	}

	s.StartOfFrame(time.Now())
	if got := dev.SlotSnapshot(slot1).UseCount; got != 1 {
		t.Fatalf("expected start-of-frame to claim slot %d, got UseCount=%d", slot1, got)
	}

	time.Sleep(9 * time.Millisecond)
	tr.UpdateExposure(2, 2, 0)
	snap2, _ := tr.ExposureSnapshot()
	slot2 := snap2.Devices[0].FusionSlot
	if slot2 < 0 {
		t.Fatal("setup: expected a free slot for the second exposure")
	}

	if got := dev.SlotSnapshot(slot1).UseCount; got != 1 {
		t.Fatalf("expected the original slot %d to remain claimed when the new exposure arrives late, got UseCount=%d", slot1, got)
	}
	if got := dev.SlotSnapshot(slot2).UseCount; got != 0 {
		t.Fatalf("expected the late exposure's slot %d to remain unclaimed by the in-flight frame, got UseCount=%d", slot2, got)
	}
}
