// Package geom provides the small vector/quaternion/pose algebra shared by
// the tracking pipeline: composing rigid transforms, inverting them, and
// rotating vectors between camera, world, and model frames.
package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Vec3 is a 3D vector or point, used interchangeably for positions,
// gravity directions, and error magnitudes.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Quat is a unit quaternion representing an orientation.
type Quat struct {
	W, X, Y, Z float64
}

// Identity returns the identity orientation.
func Identity() Quat { return Quat{W: 1} }

func (q Quat) toGonum() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

func fromGonum(n quat.Number) Quat {
	return Quat{W: n.Real, X: n.Imag, Y: n.Jmag, Z: n.Kmag}
}

// Mul composes two rotations: applying q.Mul(p) rotates by p first, then q.
func (q Quat) Mul(p Quat) Quat {
	return fromGonum(quat.Mul(q.toGonum(), p.toGonum()))
}

// Conj returns the conjugate, which for a unit quaternion is its inverse.
func (q Quat) Conj() Quat {
	return fromGonum(quat.Conj(q.toGonum()))
}

// Normalize returns q scaled to unit length, or Identity if q is degenerate.
func (q Quat) Normalize() Quat {
	n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if n < 1e-12 {
		return Identity()
	}
	return Quat{q.W / n, q.X / n, q.Y / n, q.Z / n}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q.toGonum(), p), quat.Conj(q.toGonum()))
	return Vec3{r.Imag, r.Jmag, r.Kmag}
}

// ScalarMagnitude returns |W|, the scalar component's magnitude, used by the "gravity alignment" gate in
// the correspondence driver (|capture.orient| > 0.9 in spec terms refers to
// the rotation's proximity to identity about the gravity axis).
func (q Quat) ScalarMagnitude() float64 {
	return math.Abs(q.W)
}

// Pose is a rigid transform: orient then translate.
type Pose struct {
	Pos    Vec3
	Orient Quat
}

// IdentityPose is the no-op rigid transform.
func IdentityPose() Pose { return Pose{Orient: Identity()} }

// Apply maps a point from the frame Pose is expressed relative to, into the
// parent frame: parent_point = Pos + Orient * local_point.
func (p Pose) Apply(local Vec3) Vec3 {
	return p.Pos.Add(p.Orient.Rotate(local))
}

// Inverse returns the pose such that p.Inverse().Compose(p) == Identity,
// i.e. it maps points the opposite direction Apply does.
func (p Pose) Inverse() Pose {
	inv := p.Orient.Conj()
	return Pose{
		Pos:    inv.Rotate(p.Pos.Scale(-1)),
		Orient: inv,
	}
}

// Compose returns a pose equivalent to first applying q then p:
// (p.Compose(q)).Apply(x) == p.Apply(q.Apply(x)).
func (p Pose) Compose(q Pose) Pose {
	return Pose{
		Pos:    p.Apply(q.Pos),
		Orient: p.Orient.Mul(q.Orient),
	}
}

// MirrorXZ mirrors a pose's position and orientation across the XZ plane,
// used to convert the HMD's device axes to view-plane axes.
func (p Pose) MirrorXZ() Pose {
	return Pose{
		Pos:    Vec3{X: p.Pos.X, Y: -p.Pos.Y, Z: p.Pos.Z},
		Orient: Quat{W: p.Orient.W, X: -p.Orient.X, Y: p.Orient.Y, Z: -p.Orient.Z},
	}
}

// GravityErrorRad computes sqrt(rotErr.X^2 + rotErr.Z^2), the XZ-plane
// component of a rotation-uncertainty vector that corresponds to gravity
// direction uncertainty.
func GravityErrorRad(rotErr Vec3) float64 {
	return math.Sqrt(rotErr.X*rotErr.X + rotErr.Z*rotErr.Z)
}

// Deg converts degrees to radians.
func Deg(d float64) float64 { return d * math.Pi / 180 }
