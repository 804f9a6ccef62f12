// Package riftpose provides a library-first 6-DoF positional head and
// hand tracking session: load a configuration and per-sensor/per-device
// calibration, assemble the sensors and devices it describes, start
// capture, and read back smoothed output poses.
//
// # Quick Start
//
//	cfg, err := config.Load("riftpose.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	session, err := riftpose.NewSession(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	if err := session.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
//	pose, ok := session.Pose(0)
//
// # Architecture
//
//   - Session: owns every configured sensor and device and their shared
//     exposure broadcast
//   - CaptureSource: pluggable start-of-frame/frame-captured driver,
//     satisfied by the uvc package's gocv/serial backends
//   - Logger/Store/Preview: optional telemetry, off by default
//
// All exported types are safe for concurrent use.
package riftpose

import (
	"fmt"
	"sync"
	"time"

	"github.com/hmdtrack/riftpose/internal/calib"
	"github.com/hmdtrack/riftpose/internal/config"
	"github.com/hmdtrack/riftpose/internal/device"
	"github.com/hmdtrack/riftpose/internal/fusion"
	"github.com/hmdtrack/riftpose/internal/geom"
	"github.com/hmdtrack/riftpose/internal/sensor"
	"github.com/hmdtrack/riftpose/internal/telemetry"
	"github.com/hmdtrack/riftpose/internal/telemetry/store"
	"github.com/hmdtrack/riftpose/internal/tracker"
)

// Pose is the smoothed output pose for a single device, in application
// (model) space.
type Pose struct {
	Position    geom.Vec3
	Orientation geom.Quat
	Velocity    geom.Vec3
	Accel       geom.Vec3
}

// CaptureSource drives one sensor's start-of-frame/frame-captured pair.
// Satisfied by uvc.GocvCapture and uvc.ExternalSyncCapture (a gocv frame
// reader paired with a uvc.SerialSOF trigger); SetCaptureSource wires it
// to the matching sensor by id.
type CaptureSource interface {
	StreamSetup() error
	StreamStart(sofCb func(time.Time), frameCb func(pixels []byte, w, h, ledPhase int)) error
	StreamStop()
	Close() error
}

// Session owns every sensor and device described by a configuration,
// plus the capture sources and telemetry sinks attached to them.
type Session struct {
	cfg *config.Config
	trk *tracker.Tracker

	mu      sync.Mutex
	sources map[int]CaptureSource
	replay  *store.Store
	log     *telemetry.Logger

	smoothing float64
}

// NewSession loads every device and sensor described by cfg, reading
// each one's calibration descriptor from its configured path, and
// returns a Session ready to have capture sources attached.
func NewSession(cfg *config.Config) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("riftpose: invalid configuration: %w", err)
	}

	log := telemetry.New(cfg.Telemetry.Verbose)

	var replay *store.Store
	if cfg.Telemetry.StorePath != "" {
		s, err := store.Open(cfg.Telemetry.StorePath)
		if err != nil {
			return nil, fmt.Errorf("riftpose: opening session replay store: %w", err)
		}
		replay = s
	}

	trk := tracker.New()
	trk.SetLogger(log)

	policy := device.PolicyPoseUpdate
	if cfg.Fusion.Mode == config.FusionModePosition {
		policy = device.PolicyPositionOnly
	}

	for _, dc := range cfg.Devices {
		desc, err := calib.Load(dc.CalibPath)
		if err != nil {
			return nil, fmt.Errorf("riftpose: loading device %q calibration: %w", dc.Name, err)
		}
		filter := fusion.NewKalmanFilter6(cfg.Fusion.ProcessNoise, cfg.Fusion.MeasurementNoise)
		dev := device.New(dc.ID, dc.Name, dc.IsHMD, desc.ImuToModelPose(), desc.LEDModel(), policy, filter)
		trk.AddDevice(dev)
	}

	for _, sc := range cfg.Sensors {
		desc, err := calib.Load(sc.CalibPath)
		if err != nil {
			return nil, fmt.Errorf("riftpose: loading sensor %q calibration: %w", sc.Name, err)
		}
		if _, err := trk.AddSensor(sc.ID, desc.Intrinsics()); err != nil {
			return nil, fmt.Errorf("riftpose: registering sensor %q: %w", sc.Name, err)
		}
	}

	if cfg.Telemetry.Preview {
		for _, s := range trk.Sensors() {
			if p, ok := newPreviewWindow(s.ID); ok {
				s.SetPreview(p)
			}
		}
	}

	if replay != nil {
		for _, s := range trk.Sensors() {
			s.SetStore(replay)
		}
	}

	return &Session{
		cfg:       cfg,
		trk:       trk,
		sources:   make(map[int]CaptureSource),
		replay:    replay,
		log:       log,
		smoothing: 0.3,
	}, nil
}

// SetSmoothing adjusts the exponential smoothing factor applied to
// output poses, in (0, 1]; smaller values smooth more aggressively.
func (sess *Session) SetSmoothing(alpha float64) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.smoothing = alpha
}

// SetCaptureSource attaches a capture source to the sensor with the
// given id, wiring its start-of-frame/frame-captured callbacks to that
// sensor. Call before Start.
func (sess *Session) SetCaptureSource(sensorID int, src CaptureSource) error {
	s := sess.sensorByID(sensorID)
	if s == nil {
		return fmt.Errorf("riftpose: no sensor with id %d", sensorID)
	}
	if err := src.StreamSetup(); err != nil {
		return fmt.Errorf("riftpose: setting up capture source for sensor %d: %w", sensorID, err)
	}

	sess.mu.Lock()
	sess.sources[sensorID] = src
	sess.mu.Unlock()
	return nil
}

func (sess *Session) sensorByID(id int) *sensor.Sensor {
	for _, s := range sess.trk.Sensors() {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Start launches every sensor's worker goroutines and every attached
// capture source's stream.
func (sess *Session) Start() error {
	sess.trk.Start()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	for id, src := range sess.sources {
		s := sess.sensorByID(id)
		if s == nil {
			continue
		}
		if err := src.StreamStart(s.StartOfFrame, wrapFrameCaptured(s)); err != nil {
			return fmt.Errorf("riftpose: starting capture source for sensor %d: %w", id, err)
		}
	}
	return nil
}

func wrapFrameCaptured(s *sensor.Sensor) func([]byte, int, int, int) {
	return func(pixels []byte, w, h, ledPhase int) {
		s.FrameCaptured(pixels, w, h, ledPhase)
	}
}

// UpdateExposure publishes a new exposure broadcast to every sensor and
// device, allocating delay slots for the devices visible in this
// exposure. hmdTs is the HMD's raw exposure timestamp, count its
// monotonic exposure counter, and ledPhase the LED pattern phase it
// flashed.
func (sess *Session) UpdateExposure(hmdTs, count uint64, ledPhase int) {
	sess.trk.UpdateExposure(hmdTs, count, ledPhase)
}

// ImuUpdate forwards one IMU sample to the device with the given id.
func (sess *Session) ImuUpdate(deviceID int, localTs time.Time, deviceTs32 uint32, angVel, accel, mag geom.Vec3) error {
	dev := sess.trk.DeviceByID(deviceID)
	if dev == nil {
		return fmt.Errorf("riftpose: no device with id %d", deviceID)
	}
	dev.ImuUpdate(localTs, deviceTs32, 0, angVel, accel, mag)
	return nil
}

// Pose returns the smoothed output pose for the device with the given
// id, and whether that device exists.
func (sess *Session) Pose(deviceID int) (Pose, bool) {
	dev := sess.trk.DeviceByID(deviceID)
	if dev == nil {
		return Pose{}, false
	}

	sess.mu.Lock()
	alpha := sess.smoothing
	sess.mu.Unlock()

	vp := dev.GetViewPose(alpha)
	return Pose{
		Position:    vp.Pose.Pos,
		Orientation: vp.Pose.Orient,
		Velocity:    vp.Vel,
		Accel:       vp.Accel,
	}, true
}

// CameraPose returns the given sensor's bootstrapped camera-to-world
// pose, and whether bootstrap has completed yet.
func (sess *Session) CameraPose(sensorID int) (geom.Pose, bool) {
	s := sess.sensorByID(sensorID)
	if s == nil {
		return geom.Pose{}, false
	}
	return s.CameraPose()
}

// DroppedFrames reports how many captures the given sensor has had to
// reclaim because no frame buffer was free.
func (sess *Session) DroppedFrames(sensorID int) int {
	s := sess.sensorByID(sensorID)
	if s == nil {
		return 0
	}
	return s.DroppedFrames()
}

// SensorIDs returns every configured sensor's id, in registration order.
func (sess *Session) SensorIDs() []int {
	sensors := sess.trk.Sensors()
	ids := make([]int, len(sensors))
	for i, s := range sensors {
		ids[i] = s.ID
	}
	return ids
}

// DeviceIDs returns every configured device's id, in registration order.
func (sess *Session) DeviceIDs() []int {
	devices := sess.trk.Devices()
	ids := make([]int, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	return ids
}

// SlotOccupancy reports whether each of a device's delay slots is
// currently valid (allocated to an exposure and not yet released; a
// slot can be valid before any frame has claimed it), for
// dashboard/telemetry display.
func (sess *Session) SlotOccupancy(deviceID int) ([device.NumPoseDelaySlots]bool, bool) {
	dev := sess.trk.DeviceByID(deviceID)
	if dev == nil {
		return [device.NumPoseDelaySlots]bool{}, false
	}
	var occ [device.NumPoseDelaySlots]bool
	for i := range occ {
		occ[i] = dev.SlotSnapshot(i).Valid
	}
	return occ, true
}

// Close stops every sensor, every attached capture source, and the
// session replay store if one is open.
func (sess *Session) Close() error {
	sess.mu.Lock()
	sources := make(map[int]CaptureSource, len(sess.sources))
	for id, src := range sess.sources {
		sources[id] = src
	}
	replay := sess.replay
	sess.mu.Unlock()

	for _, src := range sources {
		src.StreamStop()
	}
	sess.trk.Close()

	var firstErr error
	for _, src := range sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if replay != nil {
		if err := replay.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
