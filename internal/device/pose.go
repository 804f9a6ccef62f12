package device

import (
	"time"

	"github.com/hmdtrack/riftpose/internal/geom"
)

// PoseSource identifies who produced an accepted observation, for
// telemetry only.
type PoseSource int

const (
	SourceFastReacquire PoseSource = iota
	SourceDeepSearch
)

// ModelPoseUpdate undoes the IMU-to-model rigid offset (mirroring XZ for
// the HMD), finds the delay slot matching this exposure, and injects the
// pose into the filter if found. If no matching slot is found the
// observation is dropped from the filter but still considered "handled"
// by the caller for telemetry.
func (d *Device) ModelPoseUpdate(localTs time.Time, frameStartTs time.Time, exposureDeviceTimeNs uint64, fusionSlot int, pose geom.Pose, source PoseSource) (injected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	resolved := pose.Compose(d.FusionToModel.Inverse())
	if d.IsHMD {
		resolved = resolved.MirrorXZ()
	}

	if !d.matchesSlotLocked(fusionSlot, exposureDeviceTimeNs) {
		return false
	}

	switch d.Policy {
	case PolicyPositionOnly:
		d.filter.PositionUpdate(exposureDeviceTimeNs, resolved.Pos, fusionSlot)
	default:
		d.filter.PoseUpdate(exposureDeviceTimeNs, resolved, fusionSlot)
	}

	d.lastObservedPoseTs = exposureDeviceTimeNs
	d.lastObservedPose = resolved
	d.haveObservedPose = true
	return true
}

func (d *Device) matchesSlotLocked(slotID int, deviceTimeNs uint64) bool {
	if slotID < 0 || slotID >= NumPoseDelaySlots {
		return false
	}
	s := d.slots[slotID]
	return s.Valid && s.DeviceTimeNs == deviceTimeNs
}

// ViewPose is the smoothed output pose returned to the application,
// including velocity/acceleration for UI or debug purposes.
type ViewPose struct {
	Pose  geom.Pose
	Vel   geom.Vec3
	Accel geom.Vec3
}

// GetViewPose returns the smoothed output pose: if the device clock
// advanced since the last report, query the filter; freeze position
// (carry the last reported position forward) while continuing to update
// orientation when no observation has landed within PoseLostThreshold;
// then smooth the result through an exponential filter.
func (d *Device) GetViewPose(smoothing float64) ViewPose {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.deviceTimeNs == d.lastReportedTs && d.haveSmoothed {
		return ViewPose{Pose: d.smoothedPose}
	}
	d.lastReportedTs = d.deviceTimeNs

	pose, vel, accel, _, _, ok := d.filter.GetPoseAt(d.deviceTimeNs)
	if !ok {
		return ViewPose{Pose: geom.IdentityPose()}
	}

	stale := !d.haveObservedPose || d.deviceTimeNs > d.lastObservedPoseTs &&
		time.Duration(d.deviceTimeNs-d.lastObservedPoseTs)*time.Nanosecond > PoseLostThreshold
	if stale {
		if !d.haveFrozenPos {
			d.frozenPos = pose.Pos
			if d.haveSmoothed {
				d.frozenPos = d.smoothedPose.Pos
			}
			d.haveFrozenPos = true
		}
		pose.Pos = d.frozenPos
		vel = geom.Vec3{}
	} else {
		d.haveFrozenPos = false
	}

	if !d.haveSmoothed {
		d.smoothedPose = pose
		d.haveSmoothed = true
	} else {
		d.smoothedPose = geom.Pose{
			Pos:    d.smoothedPose.Pos.Add(pose.Pos.Sub(d.smoothedPose.Pos).Scale(smoothing)),
			Orient: slerpApprox(d.smoothedPose.Orient, pose.Orient, smoothing),
		}
	}

	return ViewPose{Pose: d.smoothedPose, Vel: vel, Accel: accel}
}

// slerpApprox is a cheap linear-blend-and-renormalize approximation of
// spherical interpolation, adequate for the small per-frame deltas the
// output filter smooths over.
func slerpApprox(a, b geom.Quat, t float64) geom.Quat {
	return geom.Quat{
		W: a.W + (b.W-a.W)*t,
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}.Normalize()
}

// ModelPose is the prior handed back to the correspondence driver, in
// model/camera-facing frame with camera-frame error vectors.
type ModelPose struct {
	Pose     geom.Pose
	PosError geom.Vec3
	RotError geom.Vec3
}

// GetModelPose obtains the filter's pose/error at the device's current
// time, mirrors XZ back for the HMD, composes the IMU-to-model offset,
// applies the same freeze-when-stale rule, and rotates the world-frame
// error vectors into camera-frame by the current orientation.
func (d *Device) GetModelPose() (ModelPose, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pose, _, _, posErr, rotErr, ok := d.filter.GetPoseAt(d.deviceTimeNs)
	if !ok {
		return ModelPose{}, false
	}

	stale := !d.haveObservedPose || d.deviceTimeNs > d.lastObservedPoseTs &&
		time.Duration(d.deviceTimeNs-d.lastObservedPoseTs)*time.Nanosecond > PoseLostThreshold
	if stale {
		if d.haveFrozenPos {
			pose.Pos = d.frozenPos
		}
	}

	if d.IsHMD {
		pose = pose.MirrorXZ()
	}
	modelPose := pose.Compose(d.FusionToModel)

	invOrient := pose.Orient.Conj()
	camPosErr := invOrient.Rotate(posErr)
	camRotErr := invOrient.Rotate(rotErr)

	return ModelPose{Pose: modelPose, PosError: camPosErr, RotError: camRotErr}, true
}
