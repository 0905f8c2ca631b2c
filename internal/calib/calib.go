// Package calib computes the geometric calibration a reconstruction session
// runs against: camera intrinsics and distortion, the 3D light plane swept by
// each projector column, and the turntable rotation axis.
//
// Calibration happens once per rig and is treated as immutable, read-only
// configuration for the lifetime of a session.
package calib

import (
	"errors"
	"math"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/pkg/geometry"
)

// ErrInsufficientCalibrationData is returned when fewer than the minimum
// number of usable calibration poses are supplied.
var ErrInsufficientCalibrationData = errors.New("calib: insufficient calibration data")

// ErrDegenerateGeometry is returned when the calibration poses are too close
// to coplanar or collinear for a well-conditioned solve.
var ErrDegenerateGeometry = errors.New("calib: degenerate geometry")

// MinPoses is the minimum number of usable, non-coplanar target poses.
const MinPoses = 3

// CameraModel holds pinhole intrinsics and lens distortion. Dist is the
// OpenCV ordering k1, k2, p1, p2, k3.
type CameraModel struct {
	Fx     float64    `json:"fx"`
	Fy     float64    `json:"fy"`
	Cx     float64    `json:"cx"`
	Cy     float64    `json:"cy"`
	Dist   [5]float64 `json:"dist"`
	Width  int        `json:"width"`
	Height int        `json:"height"`
}

// Normalize converts a pixel position to undistorted normalized image
// coordinates (x/z, y/z on the z=1 plane).
func (c *CameraModel) Normalize(px, py float64) (float64, float64) {
	xd := (px - c.Cx) / c.Fx
	yd := (py - c.Cy) / c.Fy
	return c.undistort(xd, yd)
}

// PixelRay returns the camera ray through a pixel. The camera center is the
// origin of the reconstruction frame.
func (c *CameraModel) PixelRay(px, py float64) geometry.Ray {
	xn, yn := c.Normalize(px, py)
	return geometry.NewRay(geometry.Vec3{}, geometry.Vec3{X: xn, Y: yn, Z: 1})
}

// undistort inverts the radial/tangential distortion model by fixed-point
// iteration. Eight rounds is ample for bench-camera distortion levels.
func (c *CameraModel) undistort(xd, yd float64) (float64, float64) {
	k1, k2, p1, p2, k3 := c.Dist[0], c.Dist[1], c.Dist[2], c.Dist[3], c.Dist[4]
	if k1 == 0 && k2 == 0 && p1 == 0 && p2 == 0 && k3 == 0 {
		return xd, yd
	}
	x, y := xd, yd
	for i := 0; i < 8; i++ {
		r2 := x*x + y*y
		radial := 1 + r2*(k1+r2*(k2+r2*k3))
		dx := 2*p1*x*y + p2*(r2+2*x*x)
		dy := p1*(r2+2*y*y) + 2*p2*x*y
		x = (xd - dx) / radial
		y = (yd - dy) / radial
	}
	return x, y
}

// PlaneMap maps a decoded projector column code to the 3D light plane that
// column sweeps, in camera-reference space.
type PlaneMap struct {
	Planes []geometry.Plane `json:"planes"`
	Known  []bool           `json:"known"`
}

// NewPlaneMap creates an empty map covering codes [0, n).
func NewPlaneMap(n int) *PlaneMap {
	return &PlaneMap{
		Planes: make([]geometry.Plane, n),
		Known:  make([]bool, n),
	}
}

// Plane returns the light plane for a code, and whether one is known.
func (m *PlaneMap) Plane(code int) (geometry.Plane, bool) {
	if code < 0 || code >= len(m.Planes) || !m.Known[code] {
		return geometry.Plane{}, false
	}
	return m.Planes[code], true
}

// Len returns the covered code range.
func (m *PlaneMap) Len() int {
	return len(m.Planes)
}

// set records a fitted plane, orienting the normal so it faces the camera.
func (m *PlaneMap) set(code int, p geometry.Plane) {
	if p.Normal.Z > 0 {
		p.Normal = p.Normal.Scale(-1)
		p.D = -p.D
	}
	m.Planes[code] = p
	m.Known[code] = true
}

// PoseError is the per-pose reprojection error report the operator uses to
// discard bad poses before the final solve.
type PoseError struct {
	Pose      int     `json:"pose"`
	MeanPixel float64 `json:"mean_pixel_error"`
}

// Result is the complete calibration of a rig.
type Result struct {
	Camera     CameraModel   `json:"camera"`
	Planes     *PlaneMap     `json:"planes"`
	Axis       geometry.Axis `json:"axis"`
	PoseErrors []PoseError   `json:"pose_errors,omitempty"`
}

// angleBetween returns the angle in radians between two unit vectors.
func angleBetween(a, b geometry.Vec3) float64 {
	d := math.Abs(a.Dot(b))
	if d > 1 {
		d = 1
	}
	return math.Acos(d)
}
