// Package fusion implements the 6-DoF pose-fusion filter a device drives
// through its delay slots. A full unscented Kalman filter with
// orientation and velocity state is out of scope for this package; it
// provides a simplified filter behind the same interface so the pipeline
// above it can be built and tested end to end.
package fusion

import (
	"sync"

	"github.com/hmdtrack/riftpose/internal/geom"
)

// Filter is the external interface the device/delay-slot layer drives.
type Filter interface {
	Init(numDelaySlots int)
	Clear()
	ImuUpdate(deviceTimeNs uint64, angVel, accel, mag geom.Vec3)
	PrepareDelaySlot(deviceTimeNs uint64, slotID int)
	ReleaseDelaySlot(slotID int)
	PoseUpdate(deviceTimeNs uint64, pose geom.Pose, slotID int)
	PositionUpdate(deviceTimeNs uint64, pos geom.Vec3, slotID int)
	GetPoseAt(deviceTimeNs uint64) (pose geom.Pose, vel, accel geom.Vec3, posErr, rotErr geom.Vec3, ok bool)
}

// slotRecord is the bookkeeping a delay slot carries inside the filter:
// the time it was prepared for, and whether it is currently prepared.
type slotRecord struct {
	prepared     bool
	deviceTimeNs uint64
}

// KalmanFilter6 is a per-axis discrete Kalman filter over
// position and a small-angle orientation correction, covering all 6
// degrees of freedom with a single scalar process/measurement noise pair.
// It does not replay history on a delayed pose_update the way a
// production UKF smoother would; it folds the measurement in at call
// time. Delay slots are honored as pure bookkeeping (prepare/release),
// which is what the tracker/device layer above actually depends on.
type KalmanFilter6 struct {
	mu sync.Mutex

	q, r float64 // process / measurement noise, one scalar per axis class

	initialized bool
	pos         geom.Vec3
	vel         geom.Vec3
	accel       geom.Vec3
	orient      geom.Quat

	posUncertainty float64
	rotUncertainty float64

	slots []slotRecord

	lastDeviceTimeNs uint64
}

// NewKalmanFilter6 creates a filter with the given process/measurement
// noise.
func NewKalmanFilter6(processNoise, measurementNoise float64) *KalmanFilter6 {
	return &KalmanFilter6{
		q:              processNoise,
		r:              measurementNoise,
		orient:         geom.Identity(),
		posUncertainty: 1.0,
		rotUncertainty: 1.0,
	}
}

func (f *KalmanFilter6) Init(numDelaySlots int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots = make([]slotRecord, numDelaySlots)
	f.initialized = false
	f.pos = geom.Vec3{}
	f.vel = geom.Vec3{}
	f.accel = geom.Vec3{}
	f.orient = geom.Identity()
	f.posUncertainty = 1.0
	f.rotUncertainty = 1.0
}

func (f *KalmanFilter6) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = false
	f.pos = geom.Vec3{}
	f.vel = geom.Vec3{}
	f.accel = geom.Vec3{}
	f.orient = geom.Identity()
	f.posUncertainty = 1.0
	f.rotUncertainty = 1.0
	for i := range f.slots {
		f.slots[i] = slotRecord{}
	}
}

// ImuUpdate integrates angular velocity into orientation and records the
// latest accel sample. A full strapdown integrator is beyond the
// scope of this reference filter; orientation is nudged by a small-angle
// update proportional to angVel, which is enough to drive the "orientation
// keeps moving while position freezes" behavior the output filter's
// pose-lost path depends on.
func (f *KalmanFilter6) ImuUpdate(deviceTimeNs uint64, angVel, accel, mag geom.Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized {
		f.lastDeviceTimeNs = deviceTimeNs
		f.initialized = true
		f.accel = accel
		return
	}

	dt := 0.0
	if deviceTimeNs > f.lastDeviceTimeNs {
		dt = float64(deviceTimeNs-f.lastDeviceTimeNs) / 1e9
	}
	f.lastDeviceTimeNs = deviceTimeNs
	f.accel = accel

	// small-angle integration: q' = q + 0.5 * q * (0, angVel) * dt, renormalized
	dq := geom.Quat{W: 1, X: angVel.X * dt * 0.5, Y: angVel.Y * dt * 0.5, Z: angVel.Z * dt * 0.5}
	f.orient = f.orient.Mul(dq).Normalize()

	f.pos = f.pos.Add(f.vel.Scale(dt))
	f.posUncertainty += f.q * dt
	f.rotUncertainty += f.q * dt
}

func (f *KalmanFilter6) PrepareDelaySlot(deviceTimeNs uint64, slotID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slotID < 0 || slotID >= len(f.slots) {
		return
	}
	f.slots[slotID] = slotRecord{prepared: true, deviceTimeNs: deviceTimeNs}
}

func (f *KalmanFilter6) ReleaseDelaySlot(slotID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slotID < 0 || slotID >= len(f.slots) {
		return
	}
	f.slots[slotID] = slotRecord{}
}

func (f *KalmanFilter6) PoseUpdate(deviceTimeNs uint64, pose geom.Pose, slotID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyPositionMeasurement(pose.Pos)
	f.applyOrientationMeasurement(pose.Orient)
	_ = deviceTimeNs
	_ = slotID
}

func (f *KalmanFilter6) PositionUpdate(deviceTimeNs uint64, pos geom.Vec3, slotID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyPositionMeasurement(pos)
	_ = deviceTimeNs
	_ = slotID
}

func (f *KalmanFilter6) applyPositionMeasurement(pos geom.Vec3) {
	k := f.posUncertainty / (f.posUncertainty + f.r)
	f.pos = f.pos.Add(pos.Sub(f.pos).Scale(k))
	f.posUncertainty = (1 - k) * f.posUncertainty
}

func (f *KalmanFilter6) applyOrientationMeasurement(o geom.Quat) {
	k := f.rotUncertainty / (f.rotUncertainty + f.r)
	// slerp-free blend: nudge toward measured orientation proportional to gain
	delta := f.orient.Conj().Mul(o)
	scaled := geom.Quat{
		W: 1 - k + k*delta.W,
		X: k * delta.X,
		Y: k * delta.Y,
		Z: k * delta.Z,
	}.Normalize()
	f.orient = f.orient.Mul(scaled)
	f.rotUncertainty = (1 - k) * f.rotUncertainty
}

func (f *KalmanFilter6) GetPoseAt(deviceTimeNs uint64) (pose geom.Pose, vel, accel geom.Vec3, posErr, rotErr geom.Vec3, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.initialized {
		return geom.IdentityPose(), geom.Vec3{}, geom.Vec3{}, geom.Vec3{}, geom.Vec3{}, false
	}
	p := geom.Pose{Pos: f.pos, Orient: f.orient}
	e := geom.Vec3{X: f.posUncertainty, Y: f.posUncertainty, Z: f.posUncertainty}
	re := geom.Vec3{X: f.rotUncertainty, Y: f.rotUncertainty, Z: f.rotUncertainty}
	return p, f.vel, f.accel, e, re, true
}
