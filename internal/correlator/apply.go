package correlator

import (
	"time"

	"github.com/hmdtrack/riftpose/internal/blobwatch"
	"github.com/hmdtrack/riftpose/internal/device"
	"github.com/hmdtrack/riftpose/internal/geom"
	"github.com/hmdtrack/riftpose/internal/pipeline"
)

// BootstrapScalarThreshold gates the camera-pose bootstrap path: only a
// candidate pose whose orientation is close to identity about the
// gravity axis, and whose gravity error is small, is trusted to seed the
// sensor's camera pose.
const BootstrapScalarThreshold = 0.9

var bootstrapGravityThreshold = geom.Deg(15)

// AcceptResult reports what ApplyAcceptedPose did, for telemetry and
// tests.
type AcceptResult struct {
	Applied      bool // a world pose was produced (InjectedPose says whether the filter took it) or bootstrap happened
	Bootstrapped bool
	InjectedPose bool
}

// ApplyAcceptedPose is the shared tail end of both correspondence passes:
// given a camera-frame candidate pose accepted for device dev at
// frame.PerDevice[idx], it relabels blobs against that candidate,
// refines the pose by PnP, rescores, and - if the refined pose is still a
// good match - either converts it to a world pose and feeds the device's
// filter, or (for an unbootstrapped HMD) seeds the sensor's camera pose
// from it.
func ApplyAcceptedPose(frame *pipeline.Frame, idx int, dev *device.Device, leds []blobwatch.LEDRef, in blobwatch.Intrinsics, cam *CameraPoseState, pose geom.Pose, source device.PoseSource) AcceptResult {
	blobs := frame.BlobObs.Blobs

	// clear this device's labels (preserving PrevLedID).
	blobwatch.ClearDeviceLabels(blobs, dev.ID)

	// project the LED model under pose and label matching blobs.
	blobwatch.MarkMatchingBlobs(pose, blobs, dev.ID, leds, in)

	// refine by PnP over the freshly labelled blobs.
	refined := pose
	if blobwatch.EstimateInitialPose(blobs, dev.ID, leds, in, &refined) {
		pose = refined
	}

	// re-label and record the final camera-frame pose for this frame.
	blobwatch.ClearDeviceLabels(blobs, dev.ID)
	blobwatch.MarkMatchingBlobs(pose, blobs, dev.ID, leds, in)
	frame.PerDevice[idx].FinalCamPose = pose

	// rescore with the plain evaluator.
	metrics := blobwatch.EvaluatePose(pose, leds, blobs, in, dev.ID)
	frame.PerDevice[idx].Metrics = metrics

	if !metrics.GoodPoseMatch {
		return AcceptResult{}
	}

	entry := frame.ExposureInfo.Devices[idx]

	if camPose, have := cam.Snapshot(); have {
		worldPose := camPose.Compose(pose)
		injected := dev.ModelPoseUpdate(time.Now(), frame.StartTs, entry.DeviceTimeNs, entry.FusionSlot, worldPose, source)
		frame.PerDevice[idx].FoundDevicePose = true
		frame.PerDevice[idx].Resolved = true
		// this device's claim on the exposure can be released as soon as
		// its pose lands; it need not wait for the frame's eventual
		// release.
		dev.ReleaseSlot(entry.FusionSlot)
		return AcceptResult{Applied: true, InjectedPose: injected}
	}

	if dev.IsHMD && pose.Orient.ScalarMagnitude() > BootstrapScalarThreshold &&
		frame.PerDevice[idx].GravityErrorRad < bootstrapGravityThreshold {
		applied := cam.TryBootstrap(pose, entry.CapturePose)
		frame.PerDevice[idx].Resolved = true
		return AcceptResult{Applied: applied, Bootstrapped: applied}
	}

	frame.PerDevice[idx].Resolved = true
	return AcceptResult{}
}
