package correlator

import (
	"github.com/hmdtrack/riftpose/internal/blobwatch"
	"github.com/hmdtrack/riftpose/internal/device"
	"github.com/hmdtrack/riftpose/internal/pipeline"
)

// DeviceContext bundles everything the driver needs for one device
// against one sensor: its record and its LED model.
type DeviceContext struct {
	Dev  *device.Device
	LEDs []blobwatch.LEDRef
}

// RunStage1 is the fast per-device reacquisition pass run before any deep
// search is attempted. It fills in frame.PerDevice[idx] and, when the
// fast pass cannot confirm a pose, sets frame.NeedLongAnalysis so the
// long-analysis worker picks the frame up.
//
// Sequence per device: read the filter's prior as it stood at this
// frame's exposure (already snapshotted into frame.ExposureInfo /
// frame.PerDevice by FrameCaptured, not re-queried live, since the filter
// keeps moving between exposure and analysis), fold in the sensor's
// camera pose (if bootstrapped) to get a camera-frame candidate, score it
// with the prior-aware evaluator, and hand it to the shared accept path
// if it scores as a good match or at least four blobs already carry this
// device's labels; otherwise, or if the accept path rejects it, flag the
// frame for the deep search.
func RunStage1(frame *pipeline.Frame, idx int, ctx DeviceContext, in blobwatch.Intrinsics, cam *CameraPoseState) AcceptResult {
	dev := ctx.Dev
	entry := frame.ExposureInfo.Devices[idx]
	if !entry.HavePrior {
		frame.NeedLongAnalysis = true
		return AcceptResult{}
	}

	capturePose := frame.PerDevice[idx].CaptureWorldPose
	candidate := capturePose
	if camPose, have := cam.Snapshot(); have {
		candidate = camPose.Inverse().Compose(capturePose)
	}

	blobs := frame.BlobObs.Blobs
	metrics := blobwatch.EvaluatePoseWithPrior(candidate, candidate, entry.PosError, entry.RotError, ctx.LEDs, blobs, in, dev.ID)

	if !metrics.GoodPoseMatch && blobwatch.CountLabeled(blobs, dev.ID) < 4 {
		frame.NeedLongAnalysis = true
		frame.PerDevice[idx].Metrics = metrics
		return AcceptResult{}
	}

	result := ApplyAcceptedPose(frame, idx, dev, ctx.LEDs, in, cam, candidate, device.SourceFastReacquire)
	if !result.Applied {
		frame.NeedLongAnalysis = true
	}
	return result
}
