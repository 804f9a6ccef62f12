package device

import "github.com/hmdtrack/riftpose/internal/geom"

// DelaySlot is the per-device delay-slot bookkeeping record. Invariants:
// UseCount >= 0; UseCount > 0 implies Valid; when UseCount drops to zero
// the slot is released back to the filter and Valid clears.
type DelaySlot struct {
	SlotID       int
	Valid        bool
	UseCount     int
	DeviceTimeNs uint64
}

// ExposureEntry is the per-device portion of the exposure-info broadcast,
// produced by UpdateExposure and consumed by the tracker when assembling
// the broadcast and by the correspondence driver as a fusion prior.
type ExposureEntry struct {
	DeviceTimeNs uint64
	CapturePose  geom.Pose
	PosError     geom.Vec3
	RotError     geom.Vec3
	FusionSlot   int // -1 if no slot was free
}

// UpdateExposure allocates a free delay slot round-robin for a new
// exposure, stamps the device's copy of that exposure's capture pose and
// errors, and asks the filter to prepare the slot at deviceTimeNs. If no
// slot is free, FusionSlot is -1 and the filter is not touched; the
// caller (tracker) must not expect a pose update to land for this
// exposure.
func (d *Device) UpdateExposure(deviceTimeNs uint64, capturePose geom.Pose, posErr, rotErr geom.Vec3) ExposureEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	slotID := d.allocateSlotLocked()
	entry := ExposureEntry{
		DeviceTimeNs: deviceTimeNs,
		CapturePose:  capturePose,
		PosError:     posErr,
		RotError:     rotErr,
		FusionSlot:   slotID,
	}

	if slotID >= 0 {
		d.slots[slotID].DeviceTimeNs = deviceTimeNs
		d.filter.PrepareDelaySlot(deviceTimeNs, slotID)
	}

	return entry
}

// allocateSlotLocked selects the next free slot round-robin starting from
// slotCursor. Must be called with d.mu held.
func (d *Device) allocateSlotLocked() int {
	for i := 0; i < NumPoseDelaySlots; i++ {
		idx := (d.slotCursor + i) % NumPoseDelaySlots
		if d.slots[idx].UseCount == 0 {
			d.slotCursor = (idx + 1) % NumPoseDelaySlots
			d.slots[idx].Valid = true
			return idx
		}
	}
	return -1
}

// ClaimSlot increments the reference count on a slot, invoked on
// frame-start. Idempotent against concurrent claims/releases because it
// runs under the device lock.
func (d *Device) ClaimSlot(slotID int) {
	if slotID < 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claimLocked(slotID)
}

func (d *Device) claimLocked(slotID int) {
	if slotID < 0 || slotID >= NumPoseDelaySlots {
		return
	}
	d.slots[slotID].UseCount++
	d.slots[slotID].Valid = true
}

// ReleaseSlot decrements the reference count on a slot, invoked on
// frame-release. When the count reaches zero the slot is invalidated and
// returned to the filter.
func (d *Device) ReleaseSlot(slotID int) {
	if slotID < 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseLocked(slotID)
}

func (d *Device) releaseLocked(slotID int) {
	if slotID < 0 || slotID >= NumPoseDelaySlots {
		return
	}
	if d.slots[slotID].UseCount == 0 {
		return
	}
	d.slots[slotID].UseCount--
	if d.slots[slotID].UseCount == 0 {
		d.slots[slotID].Valid = false
		d.filter.ReleaseDelaySlot(slotID)
	}
}

// ChangedExposure performs a paired release(old) + claim(new), used when
// a frame in flight adopts a newer exposure broadcast than the one it
// started with.
func (d *Device) ChangedExposure(oldSlot, newSlot int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseLocked(oldSlot)
	d.claimLocked(newSlot)
}

// SlotSnapshot returns a copy of a slot's state for test assertions and
// telemetry; it does not mutate the slot.
func (d *Device) SlotSnapshot(slotID int) DelaySlot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slotID < 0 || slotID >= NumPoseDelaySlots {
		return DelaySlot{SlotID: -1}
	}
	return d.slots[slotID]
}

// MatchesSlot reports whether the device's slot `slotID` is valid and
// still stamped with `deviceTimeNs`.
func (d *Device) MatchesSlot(slotID int, deviceTimeNs uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slotID < 0 || slotID >= NumPoseDelaySlots {
		return false
	}
	s := d.slots[slotID]
	return s.Valid && s.DeviceTimeNs == deviceTimeNs
}
