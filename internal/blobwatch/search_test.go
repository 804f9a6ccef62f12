package blobwatch

import (
	"testing"

	"github.com/hmdtrack/riftpose/internal/geom"
)

var searchTestIntrinsics = Intrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}

func sixTestLEDs() []LEDRef {
	offsets := []geom.Vec3{
		{X: -0.1, Y: -0.1}, {X: 0.1, Y: -0.1},
		{X: -0.1, Y: 0.1}, {X: 0.1, Y: 0.1},
		{X: -0.2, Y: 0}, {X: 0.2, Y: 0},
	}
	leds := make([]LEDRef, len(offsets))
	for i, o := range offsets {
		leds[i] = LEDRef{ID: i, Pos: o, Dir: geom.Vec3{Z: -1}}
	}
	return leds
}

func blobsForTest(pose geom.Pose, leds []LEDRef, in Intrinsics) []Blob {
	blobs := make([]Blob, 0, len(leds))
	for _, led := range leds {
		p := pose.Apply(led.Pos)
		x, y, ok := in.Project(p)
		if !ok {
			continue
		}
		blobs = append(blobs, Blob{X: x, Y: y, W: 6, H: 6, LedID: LEDInvalidID, PrevLedID: LEDInvalidID})
	}
	return blobs
}

// TestFindOnePoseShallowSearchRejectsGoodButNotStrongMatch exercises the
// pass-0 requirement: a shallow-search call must reject a merely good
// match and must not commit its tentative blob labels, so a later deep
// pass still finds those blobs free to claim.
func TestFindOnePoseShallowSearchRejectsGoodButNotStrongMatch(t *testing.T) {
	leds := sixTestLEDs()
	// the device sits at the search's nominal depth (0.5m): FindOnePose
	// seeds its PnP from an identity guess, which carries no depth prior.
	truePose := geom.Pose{Pos: geom.Vec3{Z: 0.5}, Orient: geom.Identity()}
	blobs := blobsForTest(truePose, leds, searchTestIntrinsics)
	// drop one blob so only 5 of 6 LEDs can match: good (>=4) but not
	// strong (>=6).
	blobs = blobs[:len(blobs)-1]

	s := NewSearch(searchTestIntrinsics)
	s.SetModel(0, leds)
	s.SetBlobs(blobs)

	_, metrics, ok := s.FindOnePose(0, ShallowSearch)
	if ok {
		t.Fatalf("expected shallow search to reject a non-strong match, got metrics=%+v", metrics)
	}
	if !metrics.GoodPoseMatch || metrics.StrongPoseMatch {
		t.Fatalf("expected good-but-not-strong metrics, got %+v", metrics)
	}

	for i, b := range s.blobs {
		if b.LedID != LEDInvalidID {
			t.Fatalf("blob %d: expected no label committed by a rejected shallow search, got LedID=%d", i, b.LedID)
		}
	}
}

// TestFindOnePoseDeepSearchAcceptsGoodButNotStrongMatch exercises the
// pass-1 side of the same scenario: the deep pass may accept and commit
// a good-but-not-strong match.
func TestFindOnePoseDeepSearchAcceptsGoodButNotStrongMatch(t *testing.T) {
	leds := sixTestLEDs()
	truePose := geom.Pose{Pos: geom.Vec3{Z: 0.5}, Orient: geom.Identity()}
	blobs := blobsForTest(truePose, leds, searchTestIntrinsics)
	blobs = blobs[:len(blobs)-1]

	s := NewSearch(searchTestIntrinsics)
	s.SetModel(0, leds)
	s.SetBlobs(blobs)

	_, metrics, ok := s.FindOnePose(0, DeepSearch)
	if !ok {
		t.Fatalf("expected deep search to accept a good-but-not-strong match, got metrics=%+v", metrics)
	}

	if CountLabeled(s.blobs, 0) == 0 {
		t.Fatal("expected deep search to commit labels on acceptance")
	}
}
