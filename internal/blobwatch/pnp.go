package blobwatch

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/hmdtrack/riftpose/internal/geom"
)

// nominalDepth is the assumed camera-space depth used to back-project a
// 2D blob into a pseudo 3D point before rigid alignment. A full
// perspective-n-point solver iterates depth and rotation jointly; this
// reference implementation fixes depth from the incoming pose estimate
// and solves a single Kabsch alignment, which is adequate for the small
// reprojection errors exercised by this package's tests and callers.
const nominalDepth = 0.5

// EstimateInitialPose refines pose in place by rigidly aligning the LED
// model's points to their back-projected blob observations, given blobs
// already labelled to deviceID. Returns false if fewer than 4
// correspondences are available.
func EstimateInitialPose(blobs []Blob, deviceID int, leds []LEDRef, in Intrinsics, pose *geom.Pose) bool {
	ledByID := make(map[int]geom.Vec3, len(leds))
	for _, l := range leds {
		ledByID[l.ID] = l.Pos
	}

	var src, dst []geom.Vec3 // src: LED local points, dst: pseudo camera-space points
	depth := nominalDepth
	if pose.Pos.Norm() > 1e-6 {
		depth = pose.Pos.Z
		if depth <= 0.05 {
			depth = nominalDepth
		}
	}

	for _, b := range blobs {
		if LedObjectID(b.LedID) != deviceID {
			continue
		}
		ledPos, ok := ledByID[LedIndex(b.LedID)]
		if !ok {
			continue
		}
		x := (b.X - in.Cx) / in.Fx * depth
		y := (b.Y - in.Cy) / in.Fy * depth
		src = append(src, ledPos)
		dst = append(dst, geom.Vec3{X: x, Y: y, Z: depth})
	}

	if len(src) < 4 {
		return false
	}

	r, t, ok := kabsch(src, dst)
	if !ok {
		return false
	}
	pose.Orient = r
	pose.Pos = t
	return true
}

// kabsch computes the rigid rotation+translation that best aligns src
// onto dst in a least-squares sense, via SVD of the cross-covariance
// matrix (the Kabsch algorithm).
func kabsch(src, dst []geom.Vec3) (geom.Quat, geom.Vec3, bool) {
	n := len(src)
	if n == 0 {
		return geom.Identity(), geom.Vec3{}, false
	}

	var srcCentroid, dstCentroid geom.Vec3
	for i := range src {
		srcCentroid = srcCentroid.Add(src[i])
		dstCentroid = dstCentroid.Add(dst[i])
	}
	srcCentroid = srcCentroid.Scale(1 / float64(n))
	dstCentroid = dstCentroid.Scale(1 / float64(n))

	h := mat.NewDense(3, 3, nil)
	for i := range src {
		s := src[i].Sub(srcCentroid)
		d := dst[i].Sub(dstCentroid)
		sv := mat.NewVecDense(3, []float64{s.X, s.Y, s.Z})
		dv := mat.NewVecDense(3, []float64{d.X, d.Y, d.Z})
		var outer mat.Dense
		outer.Outer(1, sv, dv)
		h.Add(h, &outer)
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return geom.Identity(), geom.Vec3{}, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rMat mat.Dense
	rMat.Mul(&v, u.T())

	if det3(&rMat) < 0 {
		// reflection: flip the last column of V and recompute
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		rMat.Mul(&v, u.T())
	}

	q := quatFromRotationMatrix(&rMat)

	srcR := q.Rotate(srcCentroid)
	t := dstCentroid.Sub(srcR)

	return q, t, true
}

func det3(m *mat.Dense) float64 {
	a, b, c := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	d, e, f := m.At(1, 0), m.At(1, 1), m.At(1, 2)
	g, h, i := m.At(2, 0), m.At(2, 1), m.At(2, 2)
	return a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
}

func quatFromRotationMatrix(m *mat.Dense) geom.Quat {
	tr := m.At(0, 0) + m.At(1, 1) + m.At(2, 2)
	var q geom.Quat
	if tr > 0 {
		s := math.Sqrt(tr+1) * 2
		q.W = s / 4
		q.X = (m.At(2, 1) - m.At(1, 2)) / s
		q.Y = (m.At(0, 2) - m.At(2, 0)) / s
		q.Z = (m.At(1, 0) - m.At(0, 1)) / s
	} else if m.At(0, 0) > m.At(1, 1) && m.At(0, 0) > m.At(2, 2) {
		s := math.Sqrt(1+m.At(0, 0)-m.At(1, 1)-m.At(2, 2)) * 2
		q.W = (m.At(2, 1) - m.At(1, 2)) / s
		q.X = s / 4
		q.Y = (m.At(0, 1) + m.At(1, 0)) / s
		q.Z = (m.At(0, 2) + m.At(2, 0)) / s
	} else if m.At(1, 1) > m.At(2, 2) {
		s := math.Sqrt(1+m.At(1, 1)-m.At(0, 0)-m.At(2, 2)) * 2
		q.W = (m.At(0, 2) - m.At(2, 0)) / s
		q.X = (m.At(0, 1) + m.At(1, 0)) / s
		q.Y = s / 4
		q.Z = (m.At(1, 2) + m.At(2, 1)) / s
	} else {
		s := math.Sqrt(1+m.At(2, 2)-m.At(0, 0)-m.At(1, 1)) * 2
		q.W = (m.At(1, 0) - m.At(0, 1)) / s
		q.X = (m.At(0, 2) + m.At(2, 0)) / s
		q.Y = (m.At(1, 2) + m.At(2, 1)) / s
		q.Z = s / 4
	}
	return q.Normalize()
}
