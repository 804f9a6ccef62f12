// Package device implements per-device state: the IMU clock, the bounded
// ring of Kalman delay slots, the pending-IMU buffer, and the output pose
// filter. One Device corresponds to one tracked HMD or controller.
package device

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hmdtrack/riftpose/internal/fusion"
	"github.com/hmdtrack/riftpose/internal/geom"
)

// NumPoseDelaySlots bounds how many in-flight exposures a device's filter
// can have prepared at once.
const NumPoseDelaySlots = 3

// PoseLostThreshold is the staleness window after which GetViewPose
// freezes position.
const PoseLostThreshold = 500 * time.Millisecond

// UpdatePolicy selects between a full pose update and a position-only
// update when injecting a visual observation into the filter.
type UpdatePolicy int

const (
	// PolicyPoseUpdate injects full 6-DoF observations (default).
	PolicyPoseUpdate UpdatePolicy = iota
	// PolicyPositionOnly injects position-only observations.
	PolicyPositionOnly
)

// LEDPoint is one LED of a device's constellation model.
type LEDPoint struct {
	ID  int
	Pos geom.Vec3
	Dir geom.Vec3
}

// LEDModel is the full constellation used for correspondence search.
type LEDModel struct {
	Points []LEDPoint
}

// PendingIMUSample is a buffered IMU reading kept around for telemetry
// flush.
type PendingIMUSample struct {
	LocalTS      time.Time
	DeviceTimeNs uint64
	AngVel       geom.Vec3
	Accel        geom.Vec3
	Mag          geom.Vec3
}

const pendingIMUCapacity = 256

// Device is a tracked HMD or controller: identity, IMU timeline, delay
// slots, and output pose filter, all behind a single per-device lock.
type Device struct {
	ID         int
	UUID       uuid.UUID
	Name       string
	IsHMD      bool // capability flag replacing scattered "id == 0" checks
	FusionToModel geom.Pose
	LEDs       LEDModel
	Policy     UpdatePolicy

	filter fusion.Filter

	mu sync.Mutex

	// device clock extension state
	haveClock     bool
	lastDeviceTs  uint32
	deviceTimeNs  uint64

	slots      [NumPoseDelaySlots]DelaySlot
	slotCursor int

	pending []PendingIMUSample

	lastObservedPoseTs uint64
	lastObservedPose   geom.Pose
	haveObservedPose   bool

	// output filter state (exponential smoothing applied in GetViewPose)
	smoothedPose    geom.Pose
	haveSmoothed    bool
	lastReportedTs  uint64
	frozenPos       geom.Vec3
	haveFrozenPos   bool
}

// New creates a device with its delay slots and filter initialized.
func New(id int, name string, isHMD bool, fusionToModel geom.Pose, leds LEDModel, policy UpdatePolicy, filter fusion.Filter) *Device {
	d := &Device{
		ID:            id,
		UUID:          uuid.New(),
		Name:          name,
		IsHMD:         isHMD,
		FusionToModel: fusionToModel,
		LEDs:          leds,
		Policy:        policy,
		filter:        filter,
	}
	for i := range d.slots {
		d.slots[i] = DelaySlot{SlotID: i}
	}
	filter.Init(NumPoseDelaySlots)
	return d
}

// ImuUpdate extends the 32-bit device microsecond counter to a 64-bit
// nanosecond monotonic timeline and forwards the sample to the filter.
// dt is accepted for API parity with the external interface but the
// nanosecond timeline is derived from deviceTs32, not dt.
func (d *Device) ImuUpdate(localTs time.Time, deviceTs32 uint32, dt time.Duration, angVel, accel, mag geom.Vec3) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.deviceTimeNs = extendClock(&d.haveClock, &d.lastDeviceTs, d.deviceTimeNs, deviceTs32)

	d.filter.ImuUpdate(d.deviceTimeNs, angVel, accel, mag)

	sample := PendingIMUSample{LocalTS: localTs, DeviceTimeNs: d.deviceTimeNs, AngVel: angVel, Accel: accel, Mag: mag}
	d.pending = append(d.pending, sample)
	if len(d.pending) > pendingIMUCapacity {
		d.pending = d.pending[len(d.pending)-pendingIMUCapacity:]
	}
}

// DrainPending returns and clears the buffered IMU samples, for telemetry
// flush.
func (d *Device) DrainPending() []PendingIMUSample {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.pending
	d.pending = nil
	return out
}

// DeviceTimeNs returns the current extended device clock.
func (d *Device) DeviceTimeNs() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceTimeNs
}
