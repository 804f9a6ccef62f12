package tracker

import (
	"time"

	"github.com/hmdtrack/riftpose/internal/device"
	"github.com/hmdtrack/riftpose/internal/geom"
	"github.com/hmdtrack/riftpose/internal/pipeline"
	"github.com/hmdtrack/riftpose/internal/sensor"
)

// UpdateExposure is the tracker-wide exposure broadcast entry point,
// called once per synchronized LED flash. If count is unchanged from the
// last broadcast, only the LED pattern phase is refreshed and no new
// delay-slot allocation round runs. Otherwise every currently known
// device allocates a fresh delay slot (round-robin; -1 if none is free),
// and the new broadcast is handed to every sensor, which may fold it
// into a capture already in flight.
func (t *Tracker) UpdateExposure(hmdTs uint64, count uint64, ledPhase int) {
	t.mu.Lock()

	if t.haveExposure && t.exposure.Count == count {
		t.exposure.LedPatternPhase = ledPhase
		t.mu.Unlock()
		return
	}

	devices := make([]*device.Device, len(t.devices))
	copy(devices, t.devices)

	info := pipeline.ExposureInfo{
		LocalTs:         time.Now(),
		HmdTs:           hmdTs,
		Count:           count,
		LedPatternPhase: ledPhase,
		NDevices:        len(devices),
		Devices:         make([]pipeline.ExposureDeviceEntry, len(devices)),
	}

	for i, d := range devices {
		pose := geom.IdentityPose()
		var posErr, rotErr geom.Vec3
		havePrior := false
		if modelPose, ok := d.GetModelPose(); ok {
			pose = modelPose.Pose
			posErr = modelPose.PosError
			rotErr = modelPose.RotError
			havePrior = true
		}

		entry := d.UpdateExposure(d.DeviceTimeNs(), pose, posErr, rotErr)
		info.Devices[i] = pipeline.ExposureDeviceEntry{
			DeviceTimeNs: entry.DeviceTimeNs,
			CapturePose:  entry.CapturePose,
			PosError:     entry.PosError,
			RotError:     entry.RotError,
			FusionSlot:   entry.FusionSlot,
			HavePrior:    havePrior,
		}
		if entry.FusionSlot < 0 {
			t.log.Warnf("device %d: no free delay slot for exposure count=%d", d.ID, count)
		}
	}

	t.exposure = info
	t.haveExposure = true

	sensors := make([]*sensor.Sensor, len(t.sensors))
	copy(sensors, t.sensors)
	t.mu.Unlock()

	for _, s := range sensors {
		s.AdoptExposure(info)
	}
}

// ExposureSnapshot implements sensor.TrackerLink.
func (t *Tracker) ExposureSnapshot() (pipeline.ExposureInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.exposure, t.haveExposure
}

// FrameStart implements sensor.TrackerLink.
func (t *Tracker) FrameStart(sensorID int, startTs time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outstanding[sensorID]++
}

// FrameRelease implements sensor.TrackerLink.
func (t *Tracker) FrameRelease(sensorID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outstanding[sensorID] > 0 {
		t.outstanding[sensorID]--
	}
}

// OutstandingFrames reports the number of frame-starts not yet matched
// by a frame-release for a sensor (invariant 3 bookkeeping, exposed for
// tests and telemetry).
func (t *Tracker) OutstandingFrames(sensorID int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.outstanding[sensorID]
}
