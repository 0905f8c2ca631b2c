package calib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/pkg/geometry"
)

// BoardPose is the recovered pose of the planar calibration target in camera
// space: rotation columns, translation, and the target plane itself.
type BoardPose struct {
	R     [3]geometry.Vec3 // columns of the rotation matrix
	T     geometry.Vec3
	Plane geometry.Plane
}

// Transform maps a point from board coordinates (Z = 0 on the target) into
// camera space.
func (bp BoardPose) Transform(boardPt geometry.Point2D) geometry.Vec3 {
	return bp.R[0].Scale(boardPt.X).
		Add(bp.R[1].Scale(boardPt.Y)).
		Add(bp.T)
}

// SolveBoardPose recovers the target pose from board-plane points and their
// undistorted normalized image projections, via homography decomposition.
// At least four correspondences are required.
func SolveBoardPose(boardPts []geometry.Point2D, normPts []geometry.Point2D) (BoardPose, error) {
	h, err := solveHomography(boardPts, normPts)
	if err != nil {
		return BoardPose{}, err
	}

	h1 := geometry.Vec3{X: h.At(0, 0), Y: h.At(1, 0), Z: h.At(2, 0)}
	h2 := geometry.Vec3{X: h.At(0, 1), Y: h.At(1, 1), Z: h.At(2, 1)}
	h3 := geometry.Vec3{X: h.At(0, 2), Y: h.At(1, 2), Z: h.At(2, 2)}

	scale := 2 / (h1.Norm() + h2.Norm())
	if scale == 0 || math.IsInf(scale, 0) {
		return BoardPose{}, fmt.Errorf("%w: homography has zero rotation columns", ErrDegenerateGeometry)
	}

	r1 := h1.Scale(scale)
	r2 := h2.Scale(scale)
	t := h3.Scale(scale)
	// The target must sit in front of the camera.
	if t.Z < 0 {
		r1 = r1.Scale(-1)
		r2 = r2.Scale(-1)
		t = t.Scale(-1)
	}
	r3 := r1.Cross(r2)

	r1, r2, r3 = orthonormalize(r1, r2, r3)

	pose := BoardPose{
		R:     [3]geometry.Vec3{r1, r2, r3},
		T:     t,
		Plane: geometry.NewPlane(r3, t),
	}
	return pose, nil
}

// solveHomography runs the DLT: stacks 2 rows per correspondence into
// A·h = 0 and takes the null-space vector from the SVD.
func solveHomography(src, dst []geometry.Point2D) (*mat.Dense, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("calib: point count mismatch: %d vs %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, fmt.Errorf("%w: homography needs >= 4 points, got %d",
			ErrInsufficientCalibrationData, len(src))
	}

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range src {
		X, Y := src[i].X, src[i].Y
		x, y := dst[i].X, dst[i].Y
		r := 2 * i

		// x·(h20 X + h21 Y + h22) = h00 X + h01 Y + h02
		a.Set(r, 0, X)
		a.Set(r, 1, Y)
		a.Set(r, 2, 1)
		a.Set(r, 6, -X*x)
		a.Set(r, 7, -Y*x)
		a.Set(r, 8, -x)

		a.Set(r+1, 3, X)
		a.Set(r+1, 4, Y)
		a.Set(r+1, 5, 1)
		a.Set(r+1, 6, -X*y)
		a.Set(r+1, 7, -Y*y)
		a.Set(r+1, 8, -y)
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, fmt.Errorf("%w: homography SVD failed", ErrDegenerateGeometry)
	}
	s := svd.Values(nil)
	if s[0] == 0 || s[7]/s[0] < 1e-12 {
		return nil, fmt.Errorf("%w: homography is rank deficient", ErrDegenerateGeometry)
	}

	var v mat.Dense
	svd.VTo(&v)
	h := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h.Set(i, j, v.At(3*i+j, 8))
		}
	}
	return h, nil
}

// orthonormalize projects three approximate rotation columns onto the nearest
// rotation matrix via SVD (R = U·Vᵀ).
func orthonormalize(r1, r2, r3 geometry.Vec3) (geometry.Vec3, geometry.Vec3, geometry.Vec3) {
	q := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3.X,
		r1.Y, r2.Y, r3.Y,
		r1.Z, r2.Z, r3.Z,
	})

	var svd mat.SVD
	if !svd.Factorize(q, mat.SVDFull) {
		return r1.Normalize(), r2.Normalize(), r3.Normalize()
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())

	col := func(j int) geometry.Vec3 {
		return geometry.Vec3{X: r.At(0, j), Y: r.At(1, j), Z: r.At(2, j)}
	}
	return col(0), col(1), col(2)
}

// ReprojectionError measures the mean pixel distance between detected corners
// and board points reprojected through the recovered pose and intrinsics.
func ReprojectionError(cam *CameraModel, pose BoardPose, boardPts, imgPts []geometry.Point2D) float64 {
	if len(boardPts) == 0 || len(boardPts) != len(imgPts) {
		return math.Inf(1)
	}
	var total float64
	for i := range boardPts {
		p := pose.Transform(boardPts[i])
		if p.Z <= 0 {
			return math.Inf(1)
		}
		// Reprojection ignores distortion; the corners were undistorted on
		// the way in, so this is a consistent residual.
		u := cam.Fx*(p.X/p.Z) + cam.Cx
		v := cam.Fy*(p.Y/p.Z) + cam.Cy
		total += imgPts[i].Distance(geometry.Point2D{X: u, Y: v})
	}
	return total / float64(len(boardPts))
}
