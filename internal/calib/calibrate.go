package calib

import (
	"fmt"
	"log"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/decode"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/pkg/geometry"
)

// Options configures a full calibration run.
type Options struct {
	Target        Target
	ProjectorCols int // projector column count; the plane map code range
	Decode        decode.Options
	PlaneFit      PlaneFitOptions
}

// DefaultOptions returns calibration defaults for a 1920-column projector.
func DefaultOptions() Options {
	return Options{
		Target:        DefaultTarget(),
		ProjectorCols: 1920,
		Decode:        decode.DefaultOptions(),
		PlaneFit:      DefaultPlaneFitOptions(),
	}
}

// Calibrate runs the full geometric calibration from pattern capture stacks
// taken with the planar target at several distinct poses. Poses where the
// target cannot be detected are skipped; the run aborts with
// ErrInsufficientCalibrationData if fewer than MinPoses survive, and with
// ErrDegenerateGeometry when the surviving poses are too close to parallel.
//
// The turntable axis is not part of this solve; see CalibrateTurntable.
func Calibrate(stacks []*decode.CaptureStack, opts Options) (*Result, error) {
	if len(stacks) < MinPoses {
		return nil, fmt.Errorf("%w: got %d capture stacks, need >= %d",
			ErrInsufficientCalibrationData, len(stacks), MinPoses)
	}

	boardPts := opts.Target.BoardPoints()

	type detected struct {
		stack   *decode.CaptureStack
		corners []geometry.Point2D
	}
	var poses []detected
	for i, stack := range stacks {
		corners, found, err := DetectCorners(stack.White, opts.Target)
		if err != nil {
			return nil, fmt.Errorf("calib: pose %d: %w", i, err)
		}
		if !found {
			log.Printf("Calibration: target not found in pose %d, skipping", i)
			continue
		}
		poses = append(poses, detected{stack: stack, corners: corners})
	}
	if len(poses) < MinPoses {
		return nil, fmt.Errorf("%w: target detected in only %d of %d poses",
			ErrInsufficientCalibrationData, len(poses), len(stacks))
	}

	w := poses[0].stack.White.Bounds().Dx()
	h := poses[0].stack.White.Bounds().Dy()

	imgPts := make([][]geometry.Point2D, len(poses))
	for i, p := range poses {
		imgPts[i] = p.corners
	}
	cam, rms, err := CalibrateIntrinsics(opts.Target, imgPts, w, h)
	if err != nil {
		return nil, err
	}
	log.Printf("Calibration: intrinsics solved over %d poses, RMS %.3f px", len(poses), rms)

	result := &Result{Camera: cam}

	var samples []PoseSample
	for i, p := range poses {
		norm := make([]geometry.Point2D, len(p.corners))
		for j, c := range p.corners {
			xn, yn := cam.Normalize(c.X, c.Y)
			norm[j] = geometry.Point2D{X: xn, Y: yn}
		}
		pose, err := SolveBoardPose(boardPts, norm)
		if err != nil {
			return nil, fmt.Errorf("calib: pose %d: %w", i, err)
		}

		undist := make([]geometry.Point2D, len(p.corners))
		for j, c := range p.corners {
			xn, yn := cam.Normalize(c.X, c.Y)
			undist[j] = geometry.Point2D{X: cam.Fx*xn + cam.Cx, Y: cam.Fy*yn + cam.Cy}
		}
		result.PoseErrors = append(result.PoseErrors, PoseError{
			Pose:      i,
			MeanPixel: ReprojectionError(&cam, pose, boardPts, undist),
		})

		codes, err := decode.Decode(p.stack, opts.Decode)
		if err != nil {
			return nil, fmt.Errorf("calib: decode pose %d: %w", i, err)
		}
		samples = append(samples, PoseSample{Codes: codes, Board: pose.Plane})
	}

	planes, err := FitProjectorPlanes(samples, &cam, opts.ProjectorCols, opts.PlaneFit)
	if err != nil {
		return nil, err
	}
	result.Planes = planes
	return result, nil
}

// CalibrateTurntable recovers the turntable axis from white-frame captures of
// the target fixed on the table at several rotation angles. cam must come
// from a prior Calibrate run.
func CalibrateTurntable(cam *CameraModel, frames []*decode.CaptureStack, target Target) (geometry.Axis, error) {
	boardPts := target.BoardPoints()

	var origins []geometry.Vec3
	for i, f := range frames {
		corners, found, err := DetectCorners(f.White, target)
		if err != nil {
			return geometry.Axis{}, fmt.Errorf("calib: axis frame %d: %w", i, err)
		}
		if !found {
			log.Printf("Axis calibration: target not found at angle %.1f, skipping", f.Angle)
			continue
		}
		norm := make([]geometry.Point2D, len(corners))
		for j, c := range corners {
			xn, yn := cam.Normalize(c.X, c.Y)
			norm[j] = geometry.Point2D{X: xn, Y: yn}
		}
		pose, err := SolveBoardPose(boardPts, norm)
		if err != nil {
			return geometry.Axis{}, fmt.Errorf("calib: axis frame %d: %w", i, err)
		}
		origins = append(origins, pose.T)
	}

	return FitTurntableAxis(origins)
}
