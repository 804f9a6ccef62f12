package pipeline

import (
	"time"

	"github.com/hmdtrack/riftpose/internal/blobwatch"
	"github.com/hmdtrack/riftpose/internal/geom"
)

// NumCaptureBuffers bounds how many in-flight capture frames a sensor
// owns at once.
const NumCaptureBuffers = 4

// ExposureDeviceEntry is the per-device slice of an ExposureInfo
// broadcast.
type ExposureDeviceEntry struct {
	DeviceTimeNs uint64
	CapturePose  geom.Pose
	PosError     geom.Vec3
	RotError     geom.Vec3
	FusionSlot   int
	// HavePrior reports whether the filter had already produced a pose as
	// of exposure time; false means CapturePose/PosError/RotError are the
	// zero-value placeholder, not a measurement the fast path can reacquire
	// against.
	HavePrior bool
}

// ExposureInfo is the tracker-wide broadcast snapshot a sensor samples
// at start-of-frame. Count must be read as monotonic by callers; NDevices
// is fixed at the
// moment the exposure began, so devices added afterward get no
// retroactive slot.
type ExposureInfo struct {
	LocalTs        time.Time
	HmdTs          uint64
	Count          uint64
	LedPatternPhase int
	NDevices       int
	Devices        []ExposureDeviceEntry
}

// PerDeviceCaptureState is the per-device working state attached to a
// frame during correspondence analysis.
type PerDeviceCaptureState struct {
	CaptureWorldPose geom.Pose
	GravityErrorRad  float64
	FinalCamPose     geom.Pose
	FoundDevicePose  bool
	Metrics          blobwatch.PoseMetrics
	Resolved         bool // set once stage-1 or stage-2 accepts a pose this frame
}

// FrameTimestamps holds the observability timestamps recorded as a
// capture frame moves through the pipeline.
type FrameTimestamps struct {
	Delivered  time.Time
	FastStart  time.Time
	BlobDone   time.Time
	FastFinish time.Time
	LongStart  time.Time
	LongFinish time.Time
}

// Frame is the capture-frame record. Frames are exclusively owned by
// whichever pipeline stage currently holds them.
type Frame struct {
	ID     int // 0..NumCaptureBuffers-1
	Pixels []byte
	Width  int
	Height int

	StartTs time.Time

	ExposureInfo      ExposureInfo
	ExposureInfoValid bool

	BlobObs *blobwatch.Observation

	PerDevice []PerDeviceCaptureState
	NDevices  int

	Timestamps FrameTimestamps

	NeedLongAnalysis       bool
	LongAnalysisFoundBlobs bool
}

// Reset clears a frame for reuse by the pool, releasing any blob
// observation it still holds.
func (f *Frame) Reset() {
	if f.BlobObs != nil {
		f.BlobObs.Release()
		f.BlobObs = nil
	}
	f.ExposureInfoValid = false
	f.ExposureInfo = ExposureInfo{}
	f.PerDevice = nil
	f.NDevices = 0
	f.Timestamps = FrameTimestamps{}
	f.NeedLongAnalysis = false
	f.LongAnalysisFoundBlobs = false
}
