package blobwatch

import (
	"math"

	"github.com/hmdtrack/riftpose/internal/geom"
)

// scoring thresholds for the reference pose evaluator. A real evaluator
// would project the full LED model and count matches against detected
// blobs with a pixel-reprojection tolerance; this reference version
// approximates that using blob/LED count agreement plus, for the prior
// variant, distance from the reference pose.
const (
	goodMatchMinLeds   = 4
	strongMatchMinLeds = 6
)

// Intrinsics is the pinhole camera model used to project LED points:
// focal lengths, principal point, and distortion coefficients.
type Intrinsics struct {
	Fx, Fy, Cx, Cy float64
	Distortion     [5]float64
	Fisheye        bool
}

// Project maps a camera-space point to pixel coordinates. Distortion is
// ignored for the near-axis points this reference implementation deals
// with in tests; a production evaluator would apply the Brown-Conrady
// (or fisheye) model using Distortion.
func (in Intrinsics) Project(p geom.Vec3) (x, y float64, visible bool) {
	if p.Z <= 0 {
		return 0, 0, false
	}
	return in.Fx*p.X/p.Z + in.Cx, in.Fy*p.Y/p.Z + in.Cy, true
}

// EvaluatePose scores a candidate pose against the blobs belonging to
// deviceID: it projects the LED model under pose and counts LEDs that
// land near a blob that is unlabelled or labelled to deviceID.
func EvaluatePose(pose geom.Pose, leds []LEDRef, blobs []Blob, in Intrinsics, deviceID int) PoseMetrics {
	return evaluateProjected(pose, leds, blobs, in, deviceID, nil, geom.Vec3{}, geom.Vec3{})
}

// EvaluatePoseWithPrior is like EvaluatePose, but penalizes poses that
// deviate from referencePose by more than the supplied
// positional/rotational uncertainty.
func EvaluatePoseWithPrior(pose geom.Pose, referencePose geom.Pose, posError, rotError geom.Vec3, leds []LEDRef, blobs []Blob, in Intrinsics, deviceID int) PoseMetrics {
	ref := &referencePose
	return evaluateProjected(pose, leds, blobs, in, deviceID, ref, posError, rotError)
}

// LEDRef is the subset of a device's LED model needed for projection and
// matching.
type LEDRef struct {
	ID  int
	Pos geom.Vec3
	Dir geom.Vec3
}

func evaluateProjected(pose geom.Pose, leds []LEDRef, blobs []Blob, in Intrinsics, deviceID int, reference *geom.Pose, posError, rotError geom.Vec3) PoseMetrics {
	visible := 0
	matched := 0

	for _, led := range leds {
		camPoint := pose.Apply(led.Pos)
		camNormal := pose.Orient.Rotate(led.Dir)
		if camNormal.Z >= 0 {
			continue // LED normal points away from the camera
		}
		px, py, ok := in.Project(camPoint)
		if !ok {
			continue
		}
		visible++
		for _, b := range blobs {
			if LedObjectID(b.LedID) != deviceID && b.LedID != LEDInvalidID {
				continue
			}
			dx, dy := px-b.X, py-b.Y
			if math.Hypot(dx, dy) < math.Max(b.W, b.H) {
				matched++
				break
			}
		}
	}

	metrics := PoseMetrics{MatchedBlobs: matched, VisibleLeds: visible}
	metrics.GoodPoseMatch = matched >= goodMatchMinLeds
	metrics.StrongPoseMatch = matched >= strongMatchMinLeds

	if reference != nil {
		delta := pose.Pos.Sub(reference.Pos)
		posTol := math.Max(posError.Norm(), 0.01)
		rotTol := math.Max(geom.GravityErrorRad(rotError), geom.Deg(5))
		angDelta := angleBetween(pose.Orient, reference.Orient)
		if delta.Norm() > posTol*3 || angDelta > rotTol*3 {
			metrics.GoodPoseMatch = false
			metrics.StrongPoseMatch = false
		}
	}

	return metrics
}

func angleBetween(a, b geom.Quat) float64 {
	delta := a.Conj().Mul(b)
	w := math.Min(1, math.Max(-1, delta.ScalarMagnitude()))
	return 2 * math.Acos(w)
}

// MarkMatchingBlobs labels blobs in place whose projected LED normal
// points sufficiently toward the camera.
func MarkMatchingBlobs(pose geom.Pose, blobs []Blob, deviceID int, leds []LEDRef, in Intrinsics) {
	for _, led := range leds {
		camPoint := pose.Apply(led.Pos)
		camNormal := pose.Orient.Rotate(led.Dir)
		if camNormal.Z >= 0 {
			continue
		}
		px, py, ok := in.Project(camPoint)
		if !ok {
			continue
		}
		bestIdx := -1
		bestDist := math.Inf(1)
		for i, b := range blobs {
			dx, dy := px-b.X, py-b.Y
			dist := math.Hypot(dx, dy)
			if dist < math.Max(b.W, b.H) && dist < bestDist {
				bestDist = dist
				bestIdx = i
			}
		}
		if bestIdx >= 0 {
			blobs[bestIdx].LedID = EncodeLedID(deviceID, led.ID)
		}
	}
}

// ClearDeviceLabels moves a device's current labels to PrevLedID and
// clears LedID.
func ClearDeviceLabels(blobs []Blob, deviceID int) {
	for i := range blobs {
		if LedObjectID(blobs[i].LedID) == deviceID {
			blobs[i].PrevLedID = blobs[i].LedID
			blobs[i].LedID = LEDInvalidID
		}
	}
}

// CountLabeled counts blobs currently labelled to deviceID via LedID or
// PrevLedID.
func CountLabeled(blobs []Blob, deviceID int) int {
	n := 0
	for _, b := range blobs {
		if LedObjectID(b.LedID) == deviceID || LedObjectID(b.PrevLedID) == deviceID {
			n++
		}
	}
	return n
}
