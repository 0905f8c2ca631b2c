// Package scan orchestrates a reconstruction session: rotate, capture,
// decode, triangulate per angle, then assemble the merged model.
package scan

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/assemble"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/calib"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/cloud"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/decode"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/pattern"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/triangulate"
)

// Capturer is the camera-side collaborator. Capture projects the pattern
// sequence and returns the frames photographed for one turntable angle, as a
// blocking request/response call.
type Capturer interface {
	Capture(ctx context.Context, set *pattern.Set, angle float64) (*decode.CaptureStack, error)
}

// Turntable is the motor-side collaborator. Rotate blocks until the motion
// settles and returns the realized angle, which may differ from the request.
type Turntable interface {
	Rotate(ctx context.Context, degrees float64) (float64, error)
}

// CaptureFailure records a per-angle capture that did not complete. It is
// non-fatal to the scan: the angle is skipped and the assembler proceeds
// with reduced coverage.
type CaptureFailure struct {
	Angle float64
	Err   error
}

func (f *CaptureFailure) Error() string {
	return fmt.Sprintf("capture failed at %.1f degrees: %v", f.Angle, f.Err)
}

func (f *CaptureFailure) Unwrap() error {
	return f.Err
}

// Progress is an event emitted as the session advances.
type Progress struct {
	Stage      string  `json:"stage"` // "rotate", "capture", "decode", "triangulate", "assemble", "done"
	Angle      float64 `json:"angle,omitempty"`
	AngleIndex int     `json:"angle_index,omitempty"`
	NumAngles  int     `json:"num_angles,omitempty"`
	Points     int     `json:"points,omitempty"`
	Failure    string  `json:"failure,omitempty"`
}

// Options configures a session.
type Options struct {
	Patterns    pattern.Options
	Decode      decode.Options
	Triangulate triangulate.Options
	Assemble    assemble.Options

	ProjectorWidth  int
	ProjectorHeight int
}

// DefaultOptions returns session defaults for a 1920x1080 projector.
func DefaultOptions() Options {
	return Options{
		Patterns:        pattern.DefaultOptions(),
		Decode:          decode.DefaultOptions(),
		Triangulate:     triangulate.DefaultOptions(),
		Assemble:        assemble.DefaultOptions(),
		ProjectorWidth:  1920,
		ProjectorHeight: 1080,
	}
}

// Session runs scans against one immutable calibration.
type Session struct {
	calibration *calib.Result
	capturer    Capturer
	table       Turntable
	opts        Options
	onProgress  func(Progress)
}

// New creates a session. The calibration is read-only shared configuration
// for the session's lifetime. onProgress may be nil.
func New(calibration *calib.Result, capturer Capturer, table Turntable, opts Options, onProgress func(Progress)) (*Session, error) {
	if calibration == nil || calibration.Planes == nil {
		return nil, fmt.Errorf("scan: calibration is required")
	}
	if capturer == nil {
		return nil, fmt.Errorf("scan: capturer is required")
	}
	if table == nil {
		return nil, fmt.Errorf("scan: turntable is required")
	}
	return &Session{
		calibration: calibration,
		capturer:    capturer,
		table:       table,
		opts:        opts,
		onProgress:  onProgress,
	}, nil
}

// Result is the outcome of one scan.
type Result struct {
	Cloud    *cloud.Cloud
	Angles   []AngleResult
	Assembly assemble.Stats
}

// AngleResult records what happened at one turntable position.
type AngleResult struct {
	Requested float64
	Realized  float64
	Points    int
	Decode    decode.Stats
	Failure   *CaptureFailure
}

// Run scans the object over numAngles evenly spaced turntable positions and
// returns the merged model. Per-angle capture failures are absorbed: the
// angle is skipped, recorded, and reported as a coverage gap. Run fails only
// when no angle at all produced a cloud.
func (s *Session) Run(ctx context.Context, numAngles int) (*Result, error) {
	if numAngles < 1 {
		return nil, fmt.Errorf("scan: need at least one angle, got %d", numAngles)
	}

	set, err := pattern.Generate(s.opts.ProjectorWidth, s.opts.ProjectorHeight, 0, s.opts.Patterns)
	if err != nil {
		return nil, err
	}

	step := 360.0 / float64(numAngles)
	result := &Result{}

	// Decode and triangulation for one angle overlap the capture of the
	// next; the hardware is the serial bottleneck, the pixel work is not.
	type job struct {
		index int
		stack *decode.CaptureStack
	}
	jobs := make(chan job, 1)
	inputs := make([]assemble.Input, numAngles)
	angles := make([]AngleResult, numAngles)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := range jobs {
			s.processAngle(j.index, j.stack, &angles[j.index], &inputs[j.index])
		}
	}()

	current := 0.0
	for i := 0; i < numAngles; i++ {
		if err := ctx.Err(); err != nil {
			close(jobs)
			wg.Wait()
			return nil, err
		}

		requested := step * float64(i)
		angles[i].Requested = requested
		if i > 0 {
			s.emit(Progress{Stage: "rotate", Angle: requested, AngleIndex: i, NumAngles: numAngles})
			realized, err := s.table.Rotate(ctx, step)
			if err != nil {
				close(jobs)
				wg.Wait()
				return nil, fmt.Errorf("scan: rotate to %.1f: %w", requested, err)
			}
			current += realized
		}
		angles[i].Realized = current

		s.emit(Progress{Stage: "capture", Angle: current, AngleIndex: i, NumAngles: numAngles})
		stack, err := s.capturer.Capture(ctx, set, current)
		if err != nil {
			failure := &CaptureFailure{Angle: current, Err: err}
			angles[i].Failure = failure
			log.Printf("Scan: %v (continuing with remaining angles)", failure)
			s.emit(Progress{Stage: "capture", Angle: current, AngleIndex: i,
				NumAngles: numAngles, Failure: failure.Error()})
			continue
		}
		stack.Angle = current
		jobs <- job{index: i, stack: stack}
	}
	close(jobs)
	wg.Wait()

	var collected []assemble.Input
	for i := range inputs {
		if inputs[i].Cloud != nil {
			collected = append(collected, inputs[i])
			result.Angles = append(result.Angles, angles[i])
		} else if angles[i].Failure != nil {
			result.Angles = append(result.Angles, angles[i])
		}
	}
	if len(collected) == 0 {
		return nil, fmt.Errorf("scan: every angle failed to capture or decode")
	}

	s.emit(Progress{Stage: "assemble", NumAngles: numAngles})
	merged, stats, err := assemble.Assemble(collected, s.calibration.Axis, s.opts.Assemble)
	if err != nil {
		return nil, err
	}
	result.Cloud = merged
	result.Assembly = stats

	s.emit(Progress{Stage: "done", Points: merged.Size(), NumAngles: numAngles})
	return result, nil
}

// processAngle decodes and triangulates one captured stack. Decode or
// triangulation problems degrade that angle, not the scan.
func (s *Session) processAngle(i int, stack *decode.CaptureStack, ar *AngleResult, in *assemble.Input) {
	s.emit(Progress{Stage: "decode", Angle: stack.Angle, AngleIndex: i})
	codes, err := decode.Decode(stack, s.opts.Decode)
	if err != nil {
		ar.Failure = &CaptureFailure{Angle: stack.Angle, Err: err}
		log.Printf("Scan: decode at %.1f degrees: %v", stack.Angle, err)
		return
	}
	ar.Decode = codes.Stats

	s.emit(Progress{Stage: "triangulate", Angle: stack.Angle, AngleIndex: i})
	c, _, err := triangulate.Triangulate(codes, &s.calibration.Camera, s.calibration.Planes, stack.White, s.opts.Triangulate)
	if err != nil {
		ar.Failure = &CaptureFailure{Angle: stack.Angle, Err: err}
		log.Printf("Scan: triangulate at %.1f degrees: %v", stack.Angle, err)
		return
	}
	ar.Points = c.Size()
	in.Cloud = c
	in.Angle = stack.Angle
	s.emit(Progress{Stage: "triangulate", Angle: stack.Angle, AngleIndex: i, Points: c.Size()})
}

func (s *Session) emit(p Progress) {
	if s.onProgress != nil {
		s.onProgress(p)
	}
}
