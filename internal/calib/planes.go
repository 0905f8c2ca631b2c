package calib

import (
	"fmt"
	"math/bits"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/decode"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/pkg/geometry"
)

// PoseSample pairs a decoded calibration capture with the recovered target
// plane for that pose. The target plane supplies ground-truth 3D positions:
// every valid pixel's camera ray is intersected with it, and the resulting
// points lie on the light plane of the pixel's decoded column.
type PoseSample struct {
	Codes *decode.CodeMap
	Board geometry.Plane
}

// PlaneFitOptions tunes the projector plane solve.
type PlaneFitOptions struct {
	PixelStride    int     // sample every n-th pixel; bounds memory
	MinSamples     int     // minimum support points per code
	MinPoseSpread  float64 // minimum angle (radians) between target poses
	MaxFitResidual float64 // reject fits with RMS residual above this
	RayEpsilon     float64 // parallel-ray cutoff for board intersection
}

// DefaultPlaneFitOptions returns the plane-solve defaults.
func DefaultPlaneFitOptions() PlaneFitOptions {
	return PlaneFitOptions{
		PixelStride:    4,
		MinSamples:     12,
		MinPoseSpread:  0.09, // ~5 degrees
		MaxFitResidual: 2.0,
		RayEpsilon:     1e-9,
	}
}

// FitProjectorPlanes solves, for every projector column code observed across
// the calibration poses, the 3D plane that column sweeps through space.
// Requires at least MinPoses usable poses with sufficiently different target
// orientations; codes without enough support are left unknown and later
// interpolated from fitted neighbours.
func FitProjectorPlanes(poses []PoseSample, cam *CameraModel, maxCode int, opts PlaneFitOptions) (*PlaneMap, error) {
	if len(poses) < MinPoses {
		return nil, fmt.Errorf("%w: got %d poses, need >= %d",
			ErrInsufficientCalibrationData, len(poses), MinPoses)
	}
	if maxCode <= 0 {
		return nil, fmt.Errorf("calib: invalid code range %d", maxCode)
	}
	if err := checkPoseSpread(poses, opts.MinPoseSpread); err != nil {
		return nil, err
	}

	stride := opts.PixelStride
	if stride < 1 {
		stride = 1
	}

	type bucket struct {
		points []geometry.Vec3
		poses  uint64 // bitmask of contributing poses
	}
	buckets := make([]bucket, maxCode)

	for pi, pose := range poses {
		cm := pose.Codes
		for y := 0; y < cm.Height; y += stride {
			for x := 0; x < cm.Width; x += stride {
				col, _, ok := cm.At(x, y)
				if !ok || int(col) >= maxCode {
					continue
				}
				ray := cam.PixelRay(float64(x), float64(y))
				pt, t, hit := pose.Board.IntersectRay(ray, opts.RayEpsilon)
				if !hit || t <= 0 {
					continue
				}
				b := &buckets[col]
				b.points = append(b.points, pt)
				b.poses |= 1 << uint(pi%64)
			}
		}
	}

	planes := NewPlaneMap(maxCode)
	fitted := 0
	for code := range buckets {
		b := &buckets[code]
		if len(b.points) < opts.MinSamples || bits.OnesCount64(b.poses) < 2 {
			continue
		}
		p, err := FitPlane(b.points)
		if err != nil {
			// A single ill-conditioned column is a gap, not a calibration
			// failure; interpolation fills it below.
			continue
		}
		if opts.MaxFitResidual > 0 && FitResidual(p, b.points) > opts.MaxFitResidual {
			continue
		}
		planes.set(code, p)
		fitted++
	}

	if fitted < 2 {
		return nil, fmt.Errorf("%w: only %d projector columns could be fitted",
			ErrInsufficientCalibrationData, fitted)
	}

	interpolateGaps(planes)
	return planes, nil
}

// checkPoseSpread rejects pose sets whose target planes are near-parallel:
// the per-column support points would then be near-collinear and every fit
// ill-conditioned.
func checkPoseSpread(poses []PoseSample, minSpread float64) error {
	var maxAngle float64
	for i := 0; i < len(poses); i++ {
		for j := i + 1; j < len(poses); j++ {
			a := angleBetween(poses[i].Board.Normal, poses[j].Board.Normal)
			if a > maxAngle {
				maxAngle = a
			}
		}
	}
	if maxAngle < minSpread {
		return fmt.Errorf("%w: target poses are near-parallel (max spread %.2f rad)",
			ErrDegenerateGeometry, maxAngle)
	}
	return nil
}

// interpolateGaps fills unknown codes between two fitted neighbours by
// linear interpolation of the plane coefficients. Codes outside the fitted
// range stay unknown.
func interpolateGaps(m *PlaneMap) {
	prev := -1
	for code := 0; code < m.Len(); code++ {
		if !m.Known[code] {
			continue
		}
		if prev >= 0 && code-prev > 1 {
			a, b := m.Planes[prev], m.Planes[code]
			for k := prev + 1; k < code; k++ {
				f := float64(k-prev) / float64(code-prev)
				n := a.Normal.Scale(1 - f).Add(b.Normal.Scale(f))
				if n.Norm() < 1e-12 {
					continue
				}
				n = n.Normalize()
				m.Planes[k] = geometry.Plane{Normal: n, D: a.D*(1-f) + b.D*f}
				m.Known[k] = true
			}
		}
		prev = code
	}
}
