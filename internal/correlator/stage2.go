package correlator

import (
	"github.com/hmdtrack/riftpose/internal/blobwatch"
	"github.com/hmdtrack/riftpose/internal/device"
	"github.com/hmdtrack/riftpose/internal/geom"
	"github.com/hmdtrack/riftpose/internal/pipeline"
)

// alignedSearchGravityLimit gates the gravity-aligned search variant: it
// is only attempted once a sensor has a camera pose and the device's
// current gravity-error estimate is small enough to trust.
var alignedSearchGravityLimit = geom.Deg(45)

// minAlignedSearchTolerance floors how tight the aligned search's up-axis
// tolerance is allowed to get, even when a device's tracked gravity error
// is very small.
var minAlignedSearchTolerance = geom.Deg(10)

// alignedSearchTolerance widens with a device's own gravity-error estimate
// so a device whose tracked orientation is already slightly off gravity
// isn't held to a tighter tolerance than its own uncertainty justifies.
func alignedSearchTolerance(gravityErrorRad float64) float64 {
	t := 2 * gravityErrorRad
	if t < minAlignedSearchTolerance {
		return minAlignedSearchTolerance
	}
	return t
}

// RunStage2 is the two-pass deep search run when stage 1 could not
// reacquire a device's pose. Devices that stage 1 already resolved this
// frame are skipped. Pass 0 requires a strong match and, for the HMD
// (device 0), is allowed to claim any blob; pass 1 relaxes to a good
// match and rechecks good-but-not-strong candidates against every device
// that did land a strong match this frame, rejecting a weaker guess that
// only scores well because it squatted on blobs another device already
// claimed more convincingly.
func RunStage2(frame *pipeline.Frame, devices []DeviceContext, search *blobwatch.Search, in blobwatch.Intrinsics, cam *CameraPoseState, gravity geom.Vec3) []AcceptResult {
	results := make([]AcceptResult, len(devices))
	strongThisFrame := map[int]bool{}

	search.SetBlobs(frame.BlobObs.Blobs)

	haveCamPose := false
	if _, have := cam.Snapshot(); have {
		haveCamPose = true
	}

	// pass 0: strong matches only.
	for i, dc := range devices {
		if frame.PerDevice[i].Resolved {
			continue
		}
		if !search.SetModel(dc.Dev.ID, dc.LEDs) {
			continue
		}

		flags := blobwatch.ShallowSearch | blobwatch.StopForStrongMatch
		if dc.Dev.IsHMD {
			flags |= blobwatch.MatchAllBlobs
		}

		gravErrOK := haveCamPose && frame.PerDevice[i].GravityErrorRad < alignedSearchGravityLimit
		var pose geom.Pose
		var metrics blobwatch.PoseMetrics
		var ok bool
		if gravErrOK {
			tol := alignedSearchTolerance(frame.PerDevice[i].GravityErrorRad)
			pose, metrics, ok = search.FindOnePoseAligned(dc.Dev.ID, flags, gravity, 0, tol)
		} else {
			pose, metrics, ok = search.FindOnePose(dc.Dev.ID, flags)
		}
		frame.PerDevice[i].Metrics = metrics
		if !ok || !metrics.StrongPoseMatch {
			continue
		}

		results[i] = ApplyAcceptedPose(frame, i, dc.Dev, dc.LEDs, in, cam, pose, device.SourceDeepSearch)
		strongThisFrame[dc.Dev.ID] = true
	}

	// A device resolved earlier this frame by the fast reacquire path only
	// ever needed a good (not strong) match. If pass 0 just gave some other
	// device a strong match, that device may have claimed blobs the
	// earlier acceptance was relying on. Re-score those earlier acceptances
	// now and demote any that no longer hold up, so pass 1 gets a chance
	// to re-resolve them honestly.
	if len(strongThisFrame) > 0 {
		for i, dc := range devices {
			if !frame.PerDevice[i].Resolved || frame.PerDevice[i].Metrics.StrongPoseMatch {
				continue
			}
			recheck := blobwatch.EvaluatePose(frame.PerDevice[i].FinalCamPose, dc.LEDs, frame.BlobObs.Blobs, in, dc.Dev.ID)
			if recheck.GoodPoseMatch {
				continue
			}
			frame.PerDevice[i].Resolved = false
			blobwatch.ClearDeviceLabels(frame.BlobObs.Blobs, dc.Dev.ID)
		}
	}

	// pass 1: good-but-not-strong matches, rechecked against any device
	// that landed a strong match this frame so a weaker earlier guess
	// can't keep blobs a later strong winner should have claimed.
	for i, dc := range devices {
		if frame.PerDevice[i].Resolved {
			continue
		}
		if !search.SetModel(dc.Dev.ID, dc.LEDs) {
			continue
		}

		flags := blobwatch.DeepSearch
		if dc.Dev.IsHMD {
			flags |= blobwatch.MatchAllBlobs
		}

		pose, metrics, ok := search.FindOnePose(dc.Dev.ID, flags)
		frame.PerDevice[i].Metrics = metrics
		if !ok {
			continue
		}

		if len(strongThisFrame) > 0 && !metrics.StrongPoseMatch {
			recheck := blobwatch.EvaluatePose(pose, dc.LEDs, frame.BlobObs.Blobs, in, dc.Dev.ID)
			if !recheck.GoodPoseMatch {
				continue
			}
		}

		results[i] = ApplyAcceptedPose(frame, i, dc.Dev, dc.LEDs, in, cam, pose, device.SourceDeepSearch)
	}

	return results
}
