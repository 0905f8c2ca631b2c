package calib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/pkg/geometry"
)

// collinearityRatio is the minimum ratio between the second and first
// singular values of the centered point matrix; below it the support points
// are effectively collinear and the plane is unconstrained.
const collinearityRatio = 1e-6

// FitPlane fits a least-squares plane to a set of 3D points using SVD of the
// centered coordinate matrix. Returns ErrInsufficientCalibrationData for
// fewer than three points and ErrDegenerateGeometry when the points are
// collinear beyond tolerance.
func FitPlane(points []geometry.Vec3) (geometry.Plane, error) {
	if len(points) < 3 {
		return geometry.Plane{}, fmt.Errorf("%w: plane fit needs >= 3 points, got %d",
			ErrInsufficientCalibrationData, len(points))
	}

	centroid := geometry.Centroid3(points)
	m := mat.NewDense(len(points), 3, nil)
	for i, p := range points {
		m.Set(i, 0, p.X-centroid.X)
		m.Set(i, 1, p.Y-centroid.Y)
		m.Set(i, 2, p.Z-centroid.Z)
	}

	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDThin) {
		return geometry.Plane{}, fmt.Errorf("%w: SVD failed", ErrDegenerateGeometry)
	}
	s := svd.Values(nil)
	if s[0] == 0 || s[1]/s[0] < collinearityRatio {
		return geometry.Plane{}, fmt.Errorf("%w: support points are collinear", ErrDegenerateGeometry)
	}

	var v mat.Dense
	svd.VTo(&v)
	normal := geometry.Vec3{X: v.At(0, 2), Y: v.At(1, 2), Z: v.At(2, 2)}
	return geometry.NewPlane(normal, centroid), nil
}

// FitResidual returns the RMS distance of the points from the plane.
func FitResidual(p geometry.Plane, points []geometry.Vec3) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, pt := range points {
		d := p.SignedDistance(pt)
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(points)))
}
