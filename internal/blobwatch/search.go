package blobwatch

import (
	"sort"

	"github.com/hmdtrack/riftpose/internal/geom"
)

// SearchFlags controls how a Search attempt treats blob ownership and
// match-strength stopping conditions.
type SearchFlags uint32

const (
	StopForStrongMatch SearchFlags = 1 << iota
	MatchAllBlobs
	ShallowSearch
	DeepSearch
)

// Search attempts to find a 2D-3D correspondence between a device's LED
// model and the current frame's blobs and recover a pose from it. This
// reference implementation assigns LED ids greedily to the largest
// candidate blobs rather than running a combinatorial or RANSAC search.
type Search struct {
	models map[int][]LEDRef
	blobs  []Blob
	in     Intrinsics
}

// NewSearch creates a correspondence search bound to the given camera
// intrinsics.
func NewSearch(in Intrinsics) *Search {
	return &Search{models: make(map[int][]LEDRef), in: in}
}

// SetModel registers a device's LED constellation.
func (s *Search) SetModel(deviceID int, leds []LEDRef) bool {
	if len(leds) == 0 {
		return false
	}
	s.models[deviceID] = leds
	return true
}

// SetBlobs sets the current frame's blob set.
func (s *Search) SetBlobs(blobs []Blob) {
	s.blobs = blobs
}

// FindOnePose attempts to find a pose for deviceID. Without MatchAllBlobs
// it only considers blobs not currently claimed by another device; with
// MatchAllBlobs (set for the HMD, device id 0) it may claim any blob.
func (s *Search) FindOnePose(deviceID int, flags SearchFlags) (geom.Pose, PoseMetrics, bool) {
	return s.findOnePose(deviceID, flags, nil, geom.Vec3{}, 0)
}

// FindOnePoseAligned is like FindOnePose but seeds the search with an
// orientation whose "up" axis points along gravityVec and rejects a pose
// whose "up" axis is more than tolerance away from it. The swing argument
// is not used.
func (s *Search) FindOnePoseAligned(deviceID int, flags SearchFlags, gravityVec geom.Vec3, swing, tolerance float64) (geom.Pose, PoseMetrics, bool) {
	return s.findOnePose(deviceID, flags, &gravityVec, geom.Vec3{}, tolerance)
}

func (s *Search) findOnePose(deviceID int, flags SearchFlags, gravityVec *geom.Vec3, _ geom.Vec3, tolerance float64) (geom.Pose, PoseMetrics, bool) {
	leds, ok := s.models[deviceID]
	if !ok {
		return geom.IdentityPose(), PoseMetrics{}, false
	}

	candidates := s.candidateBlobs(deviceID, flags)
	if len(candidates) < 4 {
		return geom.IdentityPose(), PoseMetrics{}, false
	}

	working := cloneBlobs(s.blobs)
	tentativelyLabel(working, candidates, deviceID, leds)

	pose := geom.IdentityPose()
	if gravityVec != nil {
		pose.Orient = orientFromGravity(*gravityVec)
	}

	if !EstimateInitialPose(working, deviceID, leds, s.in, &pose) {
		return geom.IdentityPose(), PoseMetrics{}, false
	}

	if gravityVec != nil && tolerance > 0 {
		up := pose.Orient.Rotate(geom.Vec3{Y: 1})
		ang := angleBetween(geom.Identity(), orientBetween(up, *gravityVec))
		if ang > tolerance {
			return geom.IdentityPose(), PoseMetrics{}, false
		}
	}

	metrics := EvaluatePose(pose, leds, working, s.in, deviceID)

	requireStrong := flags&ShallowSearch != 0 && flags&DeepSearch == 0
	if requireStrong && !metrics.StrongPoseMatch {
		return pose, metrics, false
	}
	if !metrics.GoodPoseMatch {
		return pose, metrics, false
	}

	// publish the tentative labels onto the caller's working set
	copy(s.blobs, working)

	return pose, metrics, true
}

// candidateBlobs returns indices of blobs eligible to be claimed by
// deviceID: unlabelled blobs, blobs already labelled to deviceID, or (if
// MatchAllBlobs is set) any blob at all.
func (s *Search) candidateBlobs(deviceID int, flags SearchFlags) []int {
	var idx []int
	for i, b := range s.blobs {
		owner := LedObjectID(b.LedID)
		if flags&MatchAllBlobs != 0 || owner == -1 || owner == deviceID {
			idx = append(idx, i)
		}
	}
	return idx
}

func cloneBlobs(blobs []Blob) []Blob {
	out := make([]Blob, len(blobs))
	copy(out, blobs)
	return out
}

// tentativelyLabel assigns the largest (by W*H) candidate blobs to the
// device's LED ids in index order, a simple greedy correspondence
// adequate for the reference search above.
func tentativelyLabel(blobs []Blob, candidates []int, deviceID int, leds []LEDRef) {
	sort.Slice(candidates, func(i, j int) bool {
		bi, bj := blobs[candidates[i]], blobs[candidates[j]]
		return bi.W*bi.H > bj.W*bj.H
	})
	n := len(candidates)
	if n > len(leds) {
		n = len(leds)
	}
	for i := 0; i < n; i++ {
		blobs[candidates[i]].LedID = EncodeLedID(deviceID, leds[i].ID)
	}
}

func orientFromGravity(g geom.Vec3) geom.Quat {
	// returns the rotation whose local +Y axis maps to g; used only to
	// seed the PnP search with a gravity-consistent guess.
	up := geom.Vec3{Y: 1}
	return orientBetween(up, g)
}

// orientBetween returns the shortest rotation mapping a onto b.
func orientBetween(a, b geom.Vec3) geom.Quat {
	an, bn := a.Norm(), b.Norm()
	if an < 1e-9 || bn < 1e-9 {
		return geom.Identity()
	}
	a = a.Scale(1 / an)
	b = b.Scale(1 / bn)
	dot := a.X*b.X + a.Y*b.Y + a.Z*b.Z
	if dot > 0.9999 {
		return geom.Identity()
	}
	cross := geom.Vec3{X: a.Y*b.Z - a.Z*b.Y, Y: a.Z*b.X - a.X*b.Z, Z: a.X*b.Y - a.Y*b.X}
	w := 1 + dot
	return geom.Quat{W: w, X: cross.X, Y: cross.Y, Z: cross.Z}.Normalize()
}
