package calib

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/pkg/geometry"
)

// Target describes the planar calibration target.
type Target struct {
	Rows       int     `json:"rows"`        // inner corner rows
	Cols       int     `json:"cols"`        // inner corner columns
	SquareSize float64 `json:"square_size"` // square edge length, mm
}

// DefaultTarget returns the checkerboard used on the bench.
func DefaultTarget() Target {
	return Target{Rows: 7, Cols: 7, SquareSize: 35.0}
}

// BoardPoints returns the target's corner grid in board coordinates (Z = 0),
// row major, matching OpenCV's corner ordering.
func (t Target) BoardPoints() []geometry.Point2D {
	pts := make([]geometry.Point2D, 0, t.Rows*t.Cols)
	for c := 0; c < t.Cols; c++ {
		for r := 0; r < t.Rows; r++ {
			pts = append(pts, geometry.Point2D{
				X: float64(r) * t.SquareSize,
				Y: float64(c) * t.SquareSize,
			})
		}
	}
	return pts
}

// DetectCorners locates the target's inner corners in a grayscale frame and
// refines them to sub-pixel precision. Returns false when the full grid is
// not visible.
func DetectCorners(img *image.Gray, target Target) ([]geometry.Point2D, bool, error) {
	m, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return nil, false, fmt.Errorf("calib: convert frame: %w", err)
	}
	defer m.Close()

	corners := gocv.NewMat()
	defer corners.Close()

	size := image.Pt(target.Rows, target.Cols)
	found := gocv.FindChessboardCorners(m, size, &corners,
		gocv.CalibCBAdaptiveThresh|gocv.CalibCBNormalizeImage)
	if !found {
		return nil, false, nil
	}

	criteria := gocv.NewTermCriteria(gocv.MaxIter|gocv.EPS, 30, 0.001)
	gocv.CornerSubPix(m, &corners, image.Pt(11, 11), image.Pt(-1, -1), criteria)

	pts := make([]geometry.Point2D, 0, corners.Rows())
	for i := 0; i < corners.Rows(); i++ {
		vec := corners.GetVecfAt(i, 0)
		pts = append(pts, geometry.Point2D{X: float64(vec[0]), Y: float64(vec[1])})
	}
	if len(pts) != target.Rows*target.Cols {
		return nil, false, nil
	}
	return pts, true, nil
}

// CalibrateIntrinsics solves camera intrinsics and distortion from corner
// detections across the calibration poses via multi-plane calibration.
func CalibrateIntrinsics(target Target, imgPts [][]geometry.Point2D, width, height int) (CameraModel, float64, error) {
	if len(imgPts) < MinPoses {
		return CameraModel{}, 0, fmt.Errorf("%w: got %d poses with corners, need >= %d",
			ErrInsufficientCalibrationData, len(imgPts), MinPoses)
	}

	boardPts := target.BoardPoints()
	obj3f := make([]gocv.Point3f, len(boardPts))
	for i, p := range boardPts {
		obj3f[i] = gocv.Point3f{X: float32(p.X), Y: float32(p.Y), Z: 0}
	}

	objPoints := gocv.NewPoints3fVector()
	defer objPoints.Close()
	imgPoints := gocv.NewPoints2fVector()
	defer imgPoints.Close()

	for _, pose := range imgPts {
		if len(pose) != len(boardPts) {
			return CameraModel{}, 0, fmt.Errorf("calib: pose has %d corners, target has %d",
				len(pose), len(boardPts))
		}
		img2f := make([]gocv.Point2f, len(pose))
		for i, p := range pose {
			img2f[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
		}
		objPoints.Append(gocv.NewPoint3fVectorFromPoints(obj3f))
		imgPoints.Append(gocv.NewPoint2fVectorFromPoints(img2f))
	}

	camMat := gocv.NewMat()
	defer camMat.Close()
	distMat := gocv.NewMat()
	defer distMat.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	rms := gocv.CalibrateCamera(objPoints, imgPoints, image.Pt(width, height),
		&camMat, &distMat, &rvecs, &tvecs, gocv.CalibFlag(0))

	cam := CameraModel{
		Fx:     camMat.GetDoubleAt(0, 0),
		Fy:     camMat.GetDoubleAt(1, 1),
		Cx:     camMat.GetDoubleAt(0, 2),
		Cy:     camMat.GetDoubleAt(1, 2),
		Width:  width,
		Height: height,
	}
	n := distMat.Rows() * distMat.Cols()
	for i := 0; i < n && i < len(cam.Dist); i++ {
		if distMat.Rows() == 1 {
			cam.Dist[i] = distMat.GetDoubleAt(0, i)
		} else {
			cam.Dist[i] = distMat.GetDoubleAt(i, 0)
		}
	}
	return cam, rms, nil
}
