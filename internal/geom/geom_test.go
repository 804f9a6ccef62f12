package geom

import (
	"math"
	"testing"
)

func approxVec(a, b Vec3, tol float64) bool {
	return math.Abs(a.X-b.X) < tol && math.Abs(a.Y-b.Y) < tol && math.Abs(a.Z-b.Z) < tol
}

func TestPoseInverseRoundTrip(t *testing.T) {
	p := Pose{
		Pos:    Vec3{X: 1, Y: 2, Z: 3},
		Orient: Quat{W: 0.7071, X: 0, Y: 0.7071, Z: 0}.Normalize(),
	}
	x := Vec3{X: 5, Y: -1, Z: 0.5}

	world := p.Apply(x)
	back := p.Inverse().Apply(world)

	if !approxVec(back, x, 1e-6) {
		t.Fatalf("round trip mismatch: got %+v want %+v", back, x)
	}
}

func TestBootstrapComposeLaw(t *testing.T) {
	// camera_pose = P_ow * P_oc^-1  =>  camera_pose * P_oc == P_ow
	pOc := Pose{Pos: Vec3{X: 0.1, Y: 0.2, Z: 0.3}, Orient: Identity()}
	pOw := Pose{Pos: Vec3{X: 1, Y: 1, Z: 1}, Orient: Quat{W: 1, X: 0, Y: 0, Z: 0}}

	cameraPose := pOw.Compose(pOc.Inverse())

	got := cameraPose.Compose(pOc)
	if !approxVec(got.Pos, pOw.Pos, 1e-6) {
		t.Fatalf("bootstrap law violated: got pos %+v want %+v", got.Pos, pOw.Pos)
	}
}

func TestMirrorXZInvolution(t *testing.T) {
	p := Pose{Pos: Vec3{1, 2, 3}, Orient: Quat{W: 0.9, X: 0.1, Y: 0.2, Z: 0.3}.Normalize()}
	back := p.MirrorXZ().MirrorXZ()
	if !approxVec(back.Pos, p.Pos, 1e-9) {
		t.Fatalf("mirror not involutive: got %+v want %+v", back.Pos, p.Pos)
	}
}

func TestGravityErrorRad(t *testing.T) {
	got := GravityErrorRad(Vec3{X: 3, Y: 100, Z: 4})
	if math.Abs(got-5) > 1e-9 {
		t.Fatalf("expected 5, got %f", got)
	}
}
