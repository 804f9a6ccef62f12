// Package blobwatch implements the blob detector, pose scoring, and
// correspondence search collaborators a real tracker would hand off to
// an image/math library. It provides a concrete, testable reference
// implementation (not a research-grade computer-vision pipeline) so the
// pipeline and correspondence driver above it can run end to end without
// a real camera or PnP solver.
package blobwatch

// LEDInvalidID marks a blob with no device/LED assignment.
const LEDInvalidID = -1

// Blob is a bright connected region, a candidate LED observation.
type Blob struct {
	X, Y, W, H float64
	LedID      int
	PrevLedID  int
}

// EncodeLedID packs a device id and LED index into one label: device id
// in the high bits, LED index in the low 16 bits.
func EncodeLedID(deviceID, ledIndex int) int {
	return deviceID<<16 | (ledIndex & 0xffff)
}

// LedObjectID extracts which device a labelled blob belongs to.
func LedObjectID(ledID int) int {
	if ledID < 0 {
		return -1
	}
	return ledID >> 16
}

// LedIndex extracts the LED index component of an encoded id.
func LedIndex(ledID int) int {
	if ledID < 0 {
		return -1
	}
	return ledID & 0xffff
}

// Observation is the owning handle returned by a detector pass over one
// frame; Release returns it to the detector's internal pool.
type Observation struct {
	Blobs []Blob

	detector *Detector
}

// Release returns the observation to its owning detector. Safe to call
// more than once.
func (o *Observation) Release() {
	if o == nil || o.detector == nil {
		return
	}
	o.detector.recycle(o)
	o.detector = nil
}

// PoseMetrics is the scoring output shared by EvaluatePose and
// EvaluatePoseWithPrior.
type PoseMetrics struct {
	GoodPoseMatch   bool
	StrongPoseMatch bool
	MatchedBlobs    int
	VisibleLeds     int
}
