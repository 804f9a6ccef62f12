// Package sensor implements one camera's three-actor capture pipeline: a
// USB-callback-driven capture actor and two worker goroutines (fast
// reacquire, long correspondence search) coordinated over a shared frame
// pool with a mutex and condition variable.
package sensor

import (
	"sync"
	"time"

	"github.com/hmdtrack/riftpose/internal/blobwatch"
	"github.com/hmdtrack/riftpose/internal/correlator"
	"github.com/hmdtrack/riftpose/internal/device"
	"github.com/hmdtrack/riftpose/internal/geom"
	"github.com/hmdtrack/riftpose/internal/pipeline"
	"github.com/hmdtrack/riftpose/internal/telemetry"
	"github.com/hmdtrack/riftpose/internal/telemetry/store"
)

// deviceSlotRef pairs a device with one of its delay slots. Collected
// while the sensor lock is held and applied only after it is dropped:
// the device lock must never be taken while the sensor lock is held, to
// avoid a lock-ordering cycle against the tracker/correspondence path.
type deviceSlotRef struct {
	dev    *device.Device
	slotID int
}

func claimSlots(st *store.Store, refs []deviceSlotRef) {
	for _, r := range refs {
		r.dev.ClaimSlot(r.slotID)
		recordDelaySlotEvent(st, r.dev.ID, r.slotID, "claim")
	}
}

func releaseSlots(st *store.Store, refs []deviceSlotRef) {
	for _, r := range refs {
		r.dev.ReleaseSlot(r.slotID)
		recordDelaySlotEvent(st, r.dev.ID, r.slotID, "release")
	}
}

// pendingExposureAction is a release-then-claim (or either alone) to
// apply to one device once AdoptExposure has dropped the sensor lock.
type pendingExposureAction struct {
	dev     *device.Device
	oldSlot int // -1 if nothing to release
	newSlot int // -1 if nothing to claim
}

func applyExposureActions(st *store.Store, actions []pendingExposureAction) {
	for _, a := range actions {
		switch {
		case a.oldSlot >= 0 && a.newSlot >= 0:
			a.dev.ChangedExposure(a.oldSlot, a.newSlot)
			recordDelaySlotEvent(st, a.dev.ID, a.newSlot, "changed_exposure")
		case a.oldSlot >= 0:
			a.dev.ReleaseSlot(a.oldSlot)
			recordDelaySlotEvent(st, a.dev.ID, a.oldSlot, "release")
		case a.newSlot >= 0:
			a.dev.ClaimSlot(a.newSlot)
			recordDelaySlotEvent(st, a.dev.ID, a.newSlot, "claim")
		}
	}
}

// recordDelaySlotEvent is a best-effort telemetry write: a nil store (the
// default) or a write failure never affects delay-slot bookkeeping itself.
func recordDelaySlotEvent(st *store.Store, deviceID, slotID int, event string) {
	if st == nil {
		return
	}
	st.RecordDelaySlotEvent(deviceID, slotID, event, time.Now().UnixNano())
}

// exposureAdoptionWindow bounds how late an exposure broadcast may still
// be folded into a capture already in flight: if the broadcast's
// timestamp is farther from the frame's start than this, a frame that
// already carries an exposure keeps it. A frame with no exposure yet
// adopts the broadcast regardless of this window.
const exposureAdoptionWindow = 5 * time.Millisecond

// TrackerLink is the view of the owning tracker a sensor is allowed to
// hold: enough to read the current exposure broadcast and report
// frame-start/frame-release events, without importing the tracker
// package and creating an import cycle (the tracker owns sensors).
type TrackerLink interface {
	// ExposureSnapshot returns the tracker's current exposure broadcast
	// and whether one has ever been published.
	ExposureSnapshot() (pipeline.ExposureInfo, bool)
	// FrameStart reports a capture start for this sensor.
	FrameStart(sensorID int, startTs time.Time)
	// FrameRelease reports that a previously started frame has been
	// fully released, pairing with exactly one FrameStart.
	FrameRelease(sensorID int)
}

// Sensor owns one camera's frame pool, blob detector, correspondence
// search, and camera-pose bootstrap state, plus the fast and long worker
// goroutines that drain its queues.
type Sensor struct {
	ID         int
	Intrinsics blobwatch.Intrinsics

	tracker TrackerLink
	devices []correlator.DeviceContext

	detector *blobwatch.Detector
	search   *blobwatch.Search
	cam      *correlator.CameraPoseState
	gravity  geom.Vec3

	mu       sync.Mutex
	cond     *sync.Cond
	pool     *pipeline.Pool
	longBusy bool
	shutdown bool

	wg sync.WaitGroup

	log     *telemetry.Logger
	preview Preview
	store   *store.Store
}

// Preview is an optional debug sink shown each captured frame's raw
// pixels and blob observation. Satisfied by telemetry.PreviewWindow.
type Preview interface {
	Show(pixels []byte, w, h int, obs *blobwatch.Observation)
}

// SetLogger attaches a logger for dropped-frame and release diagnostics.
// A nil logger (the default) discards everything.
func (s *Sensor) SetLogger(l *telemetry.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = l
}

// SetPreview attaches a debug preview window. A nil preview (the
// default) disables preview entirely.
func (s *Sensor) SetPreview(p Preview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preview = p
}

// SetStore attaches a session-replay store. A nil store (the default)
// disables frame/bootstrap/delay-slot event logging entirely.
func (s *Sensor) SetStore(st *store.Store) {
	s.mu.Lock()
	s.store = st
	s.mu.Unlock()

	s.cam.SetBootstrapHook(func() {
		if st == nil {
			return
		}
		st.RecordBootstrapEvent(s.ID, time.Now().UnixNano())
	})
}

// recordFrameEvent is a best-effort telemetry write: a nil store (the
// default) or a write failure never affects frame handling itself.
func (s *Sensor) recordFrameEvent(frameID int, stage string) {
	if s.store == nil {
		return
	}
	s.store.RecordFrameEvent(s.ID, frameID, stage, time.Now().UnixNano())
}

// New creates a sensor bound to the given camera intrinsics and device
// list. The device list is fixed at construction; devices added later to
// the tracker are not retroactively visible to this sensor's search
// model (mirroring the fixed n_devices snapshot an exposure broadcast
// carries).
func New(id int, in blobwatch.Intrinsics, tracker TrackerLink, devices []correlator.DeviceContext) *Sensor {
	s := &Sensor{
		ID:         id,
		Intrinsics: in,
		tracker:    tracker,
		devices:    devices,
		detector:   blobwatch.NewDetector(),
		search:     blobwatch.NewSearch(in),
		cam:        &correlator.CameraPoseState{},
		gravity:    geom.Vec3{Y: 1},
		pool:       pipeline.NewPool(),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, dc := range devices {
		s.search.SetModel(dc.Dev.ID, dc.LEDs)
	}
	return s
}

// Start launches the fast and long worker goroutines. The capture actor
// is not a goroutine owned by the sensor; it is driven by whatever USB
// callback thread calls StartOfFrame/FrameCaptured.
func (s *Sensor) Start() {
	s.wg.Add(2)
	go s.fastWorker()
	go s.longWorker()
}

// Close signals shutdown and waits for both workers to drain and exit.
// Any frames still queued are released back to the pool by the worker
// that was holding them.
func (s *Sensor) Close() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	s.cond.Broadcast()
	s.wg.Wait()
}

// CameraPose exposes the sensor's bootstrap state for telemetry.
func (s *Sensor) CameraPose() (geom.Pose, bool) {
	return s.cam.Snapshot()
}

// DroppedFrames reports how many captures this sensor has had to
// reclaim from the fast queue because no frame was free.
func (s *Sensor) DroppedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.DroppedFrames
}

// StartOfFrame is the capture actor's start-of-frame handler: it snapshots
// the tracker's current exposure broadcast, selects a frame from the
// pool (reclaiming from the fast queue or reusing a stuck cur_capture
// frame if necessary), and stamps it for the upcoming capture.
func (s *Sensor) StartOfFrame(startTs time.Time) {
	s.mu.Lock()
	frame, stale, dropped := s.pool.AcquireForCapture()
	if frame == nil {
		// every buffer is stuck in the long queue or its worker's hand;
		// the USB layer has nowhere to write this capture.
		s.mu.Unlock()
		s.log.Warnf("sensor %d: start-of-frame with no free capture buffer", s.ID)
		return
	}
	if dropped {
		s.log.Warnf("sensor %d: reclaimed a capture buffer from the fast queue, %d dropped total", s.ID, s.pool.DroppedFrames)
	}
	frame.StartTs = startTs

	var exp pipeline.ExposureInfo
	haveExp := false
	if s.tracker != nil {
		exp, haveExp = s.tracker.ExposureSnapshot()
	}
	frame.ExposureInfoValid = haveExp
	var toClaim []deviceSlotRef
	if haveExp {
		frame.ExposureInfo = exp
		frame.NDevices = exp.NDevices
		if frame.NDevices > len(s.devices) {
			frame.NDevices = len(s.devices)
		}
		frame.PerDevice = make([]pipeline.PerDeviceCaptureState, frame.NDevices)
		for i := 0; i < frame.NDevices; i++ {
			if exp.Devices[i].FusionSlot >= 0 {
				toClaim = append(toClaim, deviceSlotRef{dev: s.devices[i].Dev, slotID: exp.Devices[i].FusionSlot})
			}
		}
	}
	frameID := frame.ID
	s.mu.Unlock()

	claimSlots(s.store, toClaim)
	s.recordFrameEvent(frameID, "start")

	if s.tracker == nil {
		return
	}
	if stale != nil {
		// the previous start-of-frame's capture was never delivered;
		// its announced start still needs exactly one matching release.
		s.tracker.FrameRelease(s.ID)
	}
	s.tracker.FrameStart(s.ID, startTs)
}

// AdoptExposure lets a newly-published exposure broadcast reach a capture
// already in flight, instead of only ever being picked up at the next
// start-of-frame. The tracker calls this on every sensor right after
// publishing. If the in-flight frame has no exposure yet, it adopts
// unconditionally; if it already carries a different one, it only
// adopts when the new broadcast's timestamp falls within
// exposureAdoptionWindow of the frame's capture start, on the theory
// that an exposure change that far removed belongs to the next frame,
// not this one.
func (s *Sensor) AdoptExposure(exp pipeline.ExposureInfo) {
	s.mu.Lock()

	frame := s.pool.CurCapture()
	if frame == nil {
		s.mu.Unlock()
		return
	}
	if frame.ExposureInfoValid && frame.ExposureInfo.Count == exp.Count {
		s.mu.Unlock()
		return
	}
	if frame.ExposureInfoValid {
		delta := exp.LocalTs.Sub(frame.StartTs)
		if delta < 0 {
			delta = -delta
		}
		if delta > exposureAdoptionWindow {
			s.mu.Unlock()
			return
		}
	}

	oldValid := frame.ExposureInfoValid
	oldNDevices := frame.NDevices
	oldExp := frame.ExposureInfo

	newNDevices := exp.NDevices
	if newNDevices > len(s.devices) {
		newNDevices = len(s.devices)
	}

	var actions []pendingExposureAction
	if oldValid {
		for i := 0; i < oldNDevices && i < len(s.devices); i++ {
			oldSlot := oldExp.Devices[i].FusionSlot
			if oldSlot < 0 {
				continue
			}
			if i < newNDevices && exp.Devices[i].FusionSlot >= 0 {
				actions = append(actions, pendingExposureAction{dev: s.devices[i].Dev, oldSlot: oldSlot, newSlot: exp.Devices[i].FusionSlot})
			} else {
				actions = append(actions, pendingExposureAction{dev: s.devices[i].Dev, oldSlot: oldSlot, newSlot: -1})
			}
		}
	}
	for i := 0; i < newNDevices; i++ {
		newSlot := exp.Devices[i].FusionSlot
		if newSlot < 0 {
			continue
		}
		alreadyHandled := oldValid && i < oldNDevices && oldExp.Devices[i].FusionSlot >= 0
		if alreadyHandled {
			continue
		}
		actions = append(actions, pendingExposureAction{dev: s.devices[i].Dev, oldSlot: -1, newSlot: newSlot})
	}

	frame.ExposureInfoValid = true
	frame.ExposureInfo = exp
	frame.NDevices = newNDevices
	frame.PerDevice = make([]pipeline.PerDeviceCaptureState, newNDevices)

	s.mu.Unlock()

	applyExposureActions(s.store, actions)
	s.log.Infof("sensor %d: adopted exposure count=%d mid-capture", s.ID, exp.Count)
}

// FrameCaptured is the capture actor's frame-delivered handler. pixels is
// a grayscale frame of the given dimensions; ledPhase selects which LED
// pattern phase was lit during this exposure.
func (s *Sensor) FrameCaptured(pixels []byte, w, h, ledPhase int) {
	s.mu.Lock()
	frame := s.pool.CurCapture()
	if frame == nil {
		s.mu.Unlock()
		return
	}
	s.pool.CompleteCapture(frame)

	if !frame.ExposureInfoValid {
		s.log.Infof("sensor %d: frame %d captured with no exposure broadcast yet, releasing unresolved", s.ID, frame.ID)
		frameID := frame.ID
		pending := s.releaseFrameLocked(frame)
		s.mu.Unlock()
		releaseSlots(s.store, pending)
		s.recordFrameEvent(frameID, "dropped")
		return
	}

	for i := range frame.PerDevice {
		entry := frame.ExposureInfo.Devices[i]
		frame.PerDevice[i].CaptureWorldPose = entry.CapturePose
		frame.PerDevice[i].GravityErrorRad = geom.GravityErrorRad(entry.RotError)
	}

	frame.BlobObs = s.detector.Process(pixels, w, h, ledPhase)
	if s.preview != nil {
		s.preview.Show(pixels, w, h, frame.BlobObs)
	}
	frameID := frame.ID
	s.pool.PushFast(frame)
	s.cond.Broadcast()
	s.mu.Unlock()
	s.recordFrameEvent(frameID, "captured")
}

// releaseFrameLocked returns the frame to the pool's free list and
// collects every device's claim on this frame's exposure (a no-op for
// any device whose claim was already released early by an accepted
// pose) for the caller to release once s.mu is dropped. Must be called
// with s.mu held; the returned refs must not be applied until it isn't.
func (s *Sensor) releaseFrameLocked(frame *pipeline.Frame) []deviceSlotRef {
	var pending []deviceSlotRef
	for i := 0; i < frame.NDevices && i < len(s.devices); i++ {
		entry := frame.ExposureInfo.Devices[i]
		pending = append(pending, deviceSlotRef{dev: s.devices[i].Dev, slotID: entry.FusionSlot})
	}
	s.pool.Release(frame)
	if s.tracker != nil {
		s.tracker.FrameRelease(s.ID)
	}
	return pending
}

func (s *Sensor) fastWorker() {
	defer s.wg.Done()
	s.mu.Lock()
	for {
		for s.pool.Fast.Empty() && !s.shutdown {
			s.cond.Wait()
		}
		if s.shutdown && s.pool.Fast.Empty() {
			s.mu.Unlock()
			return
		}
		frame := s.pool.Fast.Pop()
		s.mu.Unlock()

		s.runStage1(frame)

		s.mu.Lock()
		var pending []deviceSlotRef
		releasedFrameID := -1
		if frame.NeedLongAnalysis && !s.longBusy {
			if bumped := s.pool.PushLong(frame); bumped != nil {
				pending = s.releaseFrameLocked(bumped)
				releasedFrameID = bumped.ID
			}
			s.cond.Broadcast()
		} else {
			pending = s.releaseFrameLocked(frame)
			releasedFrameID = frame.ID
		}
		s.mu.Unlock()
		releaseSlots(s.store, pending)
		if releasedFrameID >= 0 {
			s.recordFrameEvent(releasedFrameID, "released")
		}
		s.mu.Lock()
	}
}

func (s *Sensor) longWorker() {
	defer s.wg.Done()
	s.mu.Lock()
	for {
		for s.pool.Long.Empty() && !s.shutdown {
			s.cond.Wait()
		}
		if s.shutdown && s.pool.Long.Empty() {
			s.mu.Unlock()
			return
		}
		frame := s.pool.Long.Pop()
		s.longBusy = true
		s.mu.Unlock()

		s.runStage2(frame)

		s.mu.Lock()
		s.longBusy = false
		frameID := frame.ID
		pending := s.releaseFrameLocked(frame)
		s.mu.Unlock()
		releaseSlots(s.store, pending)
		s.recordFrameEvent(frameID, "released")
		s.mu.Lock()
	}
}

// runStage1 runs outside the sensor lock, per device with a fusion slot.
func (s *Sensor) runStage1(frame *pipeline.Frame) {
	for i := 0; i < frame.NDevices && i < len(s.devices); i++ {
		if frame.ExposureInfo.Devices[i].FusionSlot < 0 {
			continue
		}
		correlator.RunStage1(frame, i, s.devices[i], s.Intrinsics, s.cam)
	}
}

// runStage2 runs outside the sensor lock. It rotates the world gravity
// vector into camera frame when a camera pose is already known, then
// publishes any refined blob labels back to the detector so the next
// fast pass starts from them.
func (s *Sensor) runStage2(frame *pipeline.Frame) {
	devices := s.devices
	if frame.NDevices < len(devices) {
		devices = devices[:frame.NDevices]
	}

	gravity := s.gravity
	if camPose, have := s.cam.Snapshot(); have {
		gravity = camPose.Orient.Conj().Rotate(s.gravity)
	}

	correlator.RunStage2(frame, devices, s.search, s.Intrinsics, s.cam, gravity)

	if frame.BlobObs == nil {
		return
	}
	for _, dc := range devices {
		s.detector.UpdateLabels(frame.BlobObs, dc.Dev.ID)
	}
}
