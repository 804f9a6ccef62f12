// Package tracker implements the tracker-wide coordinator (C6): the set
// of devices and sensors, and the exposure-info broadcast they share.
// It is the only package that owns both internal/sensor and
// internal/device values at once; a sensor's own back-reference to the
// tracker goes through the sensor.TrackerLink interface to avoid an
// import cycle.
package tracker

import (
	"fmt"
	"sync"

	"github.com/hmdtrack/riftpose/internal/blobwatch"
	"github.com/hmdtrack/riftpose/internal/correlator"
	"github.com/hmdtrack/riftpose/internal/device"
	"github.com/hmdtrack/riftpose/internal/pipeline"
	"github.com/hmdtrack/riftpose/internal/sensor"
	"github.com/hmdtrack/riftpose/internal/telemetry"
)

// Tracker owns every sensor and device in a session and serializes the
// exposure-info broadcast they share.
type Tracker struct {
	mu sync.RWMutex

	devices []*device.Device
	sensors []*sensor.Sensor

	exposure     pipeline.ExposureInfo
	haveExposure bool

	// outstanding tracks frame-starts not yet matched by a frame-release,
	// per sensor id, so tests and telemetry can confirm every start is
	// eventually paired with exactly one release.
	outstanding map[int]int

	log *telemetry.Logger
}

// New creates an empty tracker with no sensors or devices.
func New() *Tracker {
	return &Tracker{outstanding: make(map[int]int)}
}

// SetLogger attaches a logger. Sensors added after this call inherit it;
// sensors already added do not.
func (t *Tracker) SetLogger(l *telemetry.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = l
}

// AddDevice registers a tracked device. A sensor snapshots the device
// list at construction, so add every device before calling AddSensor.
func (t *Tracker) AddDevice(dev *device.Device) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.devices = append(t.devices, dev)
}

// Devices returns the tracker's devices in registration order.
func (t *Tracker) Devices() []*device.Device {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*device.Device, len(t.devices))
	copy(out, t.devices)
	return out
}

// DeviceByID returns the device with the given id, or nil.
func (t *Tracker) DeviceByID(id int) *device.Device {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, d := range t.devices {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func ledRefs(leds device.LEDModel) []blobwatch.LEDRef {
	out := make([]blobwatch.LEDRef, len(leds.Points))
	for i, p := range leds.Points {
		out[i] = blobwatch.LEDRef{ID: p.ID, Pos: p.Pos, Dir: p.Dir}
	}
	return out
}

// AddSensor builds and registers a sensor bound to every device currently
// registered on the tracker, using each device's own LED model for
// correspondence search.
func (t *Tracker) AddSensor(id int, in blobwatch.Intrinsics) (*sensor.Sensor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.sensors {
		if s.ID == id {
			return nil, fmt.Errorf("tracker: duplicate sensor id %d", id)
		}
	}

	devices := make([]correlator.DeviceContext, len(t.devices))
	for i, d := range t.devices {
		devices[i] = correlator.DeviceContext{Dev: d, LEDs: ledRefs(d.LEDs)}
	}

	s := sensor.New(id, in, t, devices)
	s.SetLogger(t.log)
	t.sensors = append(t.sensors, s)
	return s, nil
}

// Sensors returns the tracker's sensors in registration order.
func (t *Tracker) Sensors() []*sensor.Sensor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*sensor.Sensor, len(t.sensors))
	copy(out, t.sensors)
	return out
}

// Start launches every registered sensor's worker goroutines.
func (t *Tracker) Start() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.sensors {
		s.Start()
	}
}

// Close stops every sensor and waits for its workers to drain.
func (t *Tracker) Close() {
	t.mu.RLock()
	sensors := make([]*sensor.Sensor, len(t.sensors))
	copy(sensors, t.sensors)
	t.mu.RUnlock()

	for _, s := range sensors {
		s.Close()
	}
}
