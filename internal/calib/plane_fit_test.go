package calib

import (
	"errors"
	"math"
	"testing"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/pkg/geometry"
)

func TestFitPlane_ExactPlane(t *testing.T) {
	// Points on z = 2x - y + 5.
	var pts []geometry.Vec3
	for _, xy := range [][2]float64{{0, 0}, {1, 0}, {0, 1}, {2, 3}, {-1, 4}, {5, -2}} {
		x, y := xy[0], xy[1]
		pts = append(pts, geometry.Vec3{X: x, Y: y, Z: 2*x - y + 5})
	}

	plane, err := FitPlane(pts)
	if err != nil {
		t.Fatalf("FitPlane: %v", err)
	}
	for _, p := range pts {
		if d := plane.SignedDistance(p); math.Abs(d) > 1e-9 {
			t.Fatalf("point %+v is %g off the fitted plane", p, d)
		}
	}
	if r := FitResidual(plane, pts); r > 1e-9 {
		t.Errorf("residual = %g, want ~0", r)
	}
}

func TestFitPlane_LeastSquares(t *testing.T) {
	// Points straddling z = 0 symmetrically; the fit must split the difference.
	pts := []geometry.Vec3{
		{X: 0, Y: 0, Z: 0.1}, {X: 1, Y: 0, Z: -0.1},
		{X: 0, Y: 1, Z: -0.1}, {X: 1, Y: 1, Z: 0.1},
		{X: 2, Y: 0, Z: 0.1}, {X: 2, Y: 1, Z: -0.1},
	}
	plane, err := FitPlane(pts)
	if err != nil {
		t.Fatalf("FitPlane: %v", err)
	}
	if math.Abs(math.Abs(plane.Normal.Z)-1) > 0.1 {
		t.Errorf("normal = %+v, want approximately +-z", plane.Normal)
	}
}

func TestFitPlane_TooFewPoints(t *testing.T) {
	_, err := FitPlane([]geometry.Vec3{{X: 1}, {Y: 1}})
	if !errors.Is(err, ErrInsufficientCalibrationData) {
		t.Errorf("err = %v, want ErrInsufficientCalibrationData", err)
	}
}

func TestFitPlane_CollinearPoints(t *testing.T) {
	var pts []geometry.Vec3
	for i := 0; i < 10; i++ {
		pts = append(pts, geometry.Vec3{X: float64(i), Y: 2 * float64(i), Z: -float64(i)})
	}
	_, err := FitPlane(pts)
	if !errors.Is(err, ErrDegenerateGeometry) {
		t.Errorf("err = %v, want ErrDegenerateGeometry", err)
	}
}
