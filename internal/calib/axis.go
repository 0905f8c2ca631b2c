package calib

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/pkg/geometry"
)

// FitTurntableAxis recovers the turntable rotation axis from the positions of
// a fixed point on the table (the calibration target origin) observed at
// several rotation angles. The positions trace a circle; the axis is the
// circle plane's normal through its center.
//
// At least three positions from distinct angles are required; collinear
// positions (a too-small angular sweep) are rejected as degenerate.
func FitTurntableAxis(origins []geometry.Vec3) (geometry.Axis, error) {
	if len(origins) < 3 {
		return geometry.Axis{}, fmt.Errorf("%w: axis fit needs >= 3 positions, got %d",
			ErrInsufficientCalibrationData, len(origins))
	}

	plane, err := FitPlane(origins)
	if err != nil {
		return geometry.Axis{}, err
	}

	// Build an in-plane basis and fit a circle by linear least squares:
	// 2·cu·u + 2·cv·v + r² − cu² − cv² = u² + v².
	centroid := geometry.Centroid3(origins)
	u := perpendicular(plane.Normal)
	v := plane.Normal.Cross(u)

	a := mat.NewDense(len(origins), 3, nil)
	b := mat.NewVecDense(len(origins), nil)
	for i, p := range origins {
		d := p.Sub(centroid)
		pu := d.Dot(u)
		pv := d.Dot(v)
		a.Set(i, 0, 2*pu)
		a.Set(i, 1, 2*pv)
		a.Set(i, 2, 1)
		b.SetVec(i, pu*pu+pv*pv)
	}

	var qr mat.QR
	qr.Factorize(a)
	var sol mat.VecDense
	if err := qr.SolveVecTo(&sol, false, b); err != nil {
		return geometry.Axis{}, fmt.Errorf("%w: circle fit failed: %v", ErrDegenerateGeometry, err)
	}

	center := centroid.
		Add(u.Scale(sol.AtVec(0))).
		Add(v.Scale(sol.AtVec(1)))
	return geometry.NewAxis(plane.Normal, center), nil
}

// perpendicular returns an arbitrary unit vector perpendicular to n.
func perpendicular(n geometry.Vec3) geometry.Vec3 {
	ref := geometry.Vec3{X: 1}
	if n.Cross(ref).Norm() < 1e-6 {
		ref = geometry.Vec3{Y: 1}
	}
	return n.Cross(ref).Normalize()
}
