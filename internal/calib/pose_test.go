package calib

import (
	"math"
	"testing"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/pkg/geometry"
)

// syntheticPose builds a board pose rotated about the camera x axis and the
// normalized projections of a board-point grid seen through it.
func syntheticPose(angle float64, t geometry.Vec3) (BoardPose, []geometry.Point2D, []geometry.Point2D) {
	cos, sin := math.Cos(angle), math.Sin(angle)
	pose := BoardPose{
		R: [3]geometry.Vec3{
			{X: 1},
			{Y: cos, Z: sin},
			{Y: -sin, Z: cos},
		},
		T: t,
	}
	pose.Plane = geometry.NewPlane(pose.R[2], pose.T)

	var boardPts, normPts []geometry.Point2D
	for i := 0; i < 6; i++ {
		for j := 0; j < 5; j++ {
			bp := geometry.Point2D{X: float64(i) * 0.035, Y: float64(j) * 0.035}
			p := pose.Transform(bp)
			boardPts = append(boardPts, bp)
			normPts = append(normPts, geometry.Point2D{X: p.X / p.Z, Y: p.Y / p.Z})
		}
	}
	return pose, boardPts, normPts
}

func TestSolveBoardPose_RecoversPose(t *testing.T) {
	want, boardPts, normPts := syntheticPose(0.35, geometry.Vec3{X: 0.1, Y: -0.05, Z: 2})

	got, err := SolveBoardPose(boardPts, normPts)
	if err != nil {
		t.Fatalf("SolveBoardPose: %v", err)
	}
	if d := got.T.Distance(want.T); d > 1e-6 {
		t.Errorf("translation off by %g: got %+v, want %+v", d, got.T, want.T)
	}
	for i := 0; i < 3; i++ {
		if d := got.R[i].Dot(want.R[i]); d < 1-1e-6 {
			t.Errorf("rotation column %d: dot = %g, want ~1", i, d)
		}
	}
	// Every transformed board point must lie on the recovered target plane.
	for _, bp := range boardPts {
		p := want.Transform(bp)
		if d := math.Abs(got.Plane.SignedDistance(p)); d > 1e-6 {
			t.Fatalf("board point %+v is %g off the recovered plane", bp, d)
		}
	}
}

func TestSolveBoardPose_FrontalBoard(t *testing.T) {
	want, boardPts, normPts := syntheticPose(0, geometry.Vec3{Z: 1.5})

	got, err := SolveBoardPose(boardPts, normPts)
	if err != nil {
		t.Fatalf("SolveBoardPose: %v", err)
	}
	if d := got.T.Distance(want.T); d > 1e-6 {
		t.Errorf("translation off by %g", d)
	}
	if got.T.Z < 0 {
		t.Error("recovered target sits behind the camera")
	}
}

func TestSolveBoardPose_TooFewPoints(t *testing.T) {
	pts := []geometry.Point2D{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}}
	if _, err := SolveBoardPose(pts, pts); err == nil {
		t.Error("three correspondences should fail")
	}
}

func TestSolveBoardPose_CountMismatch(t *testing.T) {
	a := []geometry.Point2D{{}, {X: 1}, {Y: 1}, {X: 1, Y: 1}}
	if _, err := SolveBoardPose(a, a[:3]); err == nil {
		t.Error("mismatched point counts should fail")
	}
}

func TestReprojectionError_PerfectPoseIsZero(t *testing.T) {
	pose, boardPts, normPts := syntheticPose(0.2, geometry.Vec3{X: -0.02, Y: 0.03, Z: 1.8})
	cam := CameraModel{Fx: 800, Fy: 800, Cx: 640, Cy: 360}

	imgPts := make([]geometry.Point2D, len(normPts))
	for i, n := range normPts {
		imgPts[i] = geometry.Point2D{X: cam.Fx*n.X + cam.Cx, Y: cam.Fy*n.Y + cam.Cy}
	}
	if e := ReprojectionError(&cam, pose, boardPts, imgPts); e > 1e-6 {
		t.Errorf("reprojection error = %g px, want ~0", e)
	}
}

func TestCameraModel_NormalizeRoundTrip(t *testing.T) {
	cam := CameraModel{
		Fx: 1200, Fy: 1180, Cx: 960, Cy: 540,
		Dist: [5]float64{-0.12, 0.03, 0.001, -0.0005, 0},
	}

	// Distort a known normalized point forward, then invert through Normalize.
	x, y := 0.21, -0.14
	r2 := x*x + y*y
	radial := 1 + r2*(cam.Dist[0]+r2*(cam.Dist[1]+r2*cam.Dist[4]))
	xd := x*radial + 2*cam.Dist[2]*x*y + cam.Dist[3]*(r2+2*x*x)
	yd := y*radial + cam.Dist[2]*(r2+2*y*y) + 2*cam.Dist[3]*x*y

	px := cam.Fx*xd + cam.Cx
	py := cam.Fy*yd + cam.Cy
	gx, gy := cam.Normalize(px, py)
	if math.Abs(gx-x) > 1e-6 || math.Abs(gy-y) > 1e-6 {
		t.Errorf("Normalize(%g, %g) = (%g, %g), want (%g, %g)", px, py, gx, gy, x, y)
	}
}

func TestCameraModel_PixelRay(t *testing.T) {
	cam := CameraModel{Fx: 500, Fy: 500, Cx: 320, Cy: 240}

	ray := cam.PixelRay(320, 240)
	if ray.Dir.Distance(geometry.Vec3{Z: 1}) > 1e-12 {
		t.Errorf("principal-point ray = %+v, want +z", ray.Dir)
	}
	if (ray.Origin != geometry.Vec3{}) {
		t.Errorf("ray origin = %+v, want the camera center", ray.Origin)
	}
	if n := cam.PixelRay(100, 400).Dir.Norm(); math.Abs(n-1) > 1e-12 {
		t.Errorf("ray direction norm = %g, want 1", n)
	}
}
