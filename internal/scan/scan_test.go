package scan

import (
	"context"
	"fmt"
	"image"
	"testing"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/calib"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/decode"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/pattern"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/pkg/geometry"
)

const (
	testW = 16
	testH = 12
)

// fakeCapturer plays back perfect captures: every photographed frame equals
// the projected pattern. failAt makes one capture index fail.
type fakeCapturer struct {
	calls  int
	failAt int // 1-based call index to fail on; 0 disables
}

func (f *fakeCapturer) Capture(ctx context.Context, set *pattern.Set, angle float64) (*decode.CaptureStack, error) {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return nil, fmt.Errorf("shutter jammed")
	}
	frames := make([]*image.Gray, len(set.Images))
	for i := range set.Images {
		src := set.Images[i].Gray
		dup := image.NewGray(src.Bounds())
		copy(dup.Pix, src.Pix)
		frames[i] = dup
	}
	return decode.StackFromImages(set, frames, angle)
}

type fakeTable struct {
	rotations []float64
}

func (f *fakeTable) Rotate(ctx context.Context, degrees float64) (float64, error) {
	f.rotations = append(f.rotations, degrees)
	return degrees, nil
}

func testCalibration() *calib.Result {
	planes := calib.NewPlaneMap(testW)
	for c := 0; c < testW; c++ {
		planes.Planes[c] = geometry.NewPlane(
			geometry.Vec3{X: 1, Z: -0.5},
			geometry.Vec3{X: 0.05 * float64(c), Z: 5})
		planes.Known[c] = true
	}
	return &calib.Result{
		Camera: calib.CameraModel{Fx: 20, Fy: 20, Cx: 8, Cy: 6, Width: testW, Height: testH},
		Planes: planes,
		Axis:   geometry.NewAxis(geometry.Vec3{Y: 1}, geometry.Vec3{X: 0.4, Z: 5}),
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ProjectorWidth = testW
	opts.ProjectorHeight = testH
	return opts
}

func TestSession_Run(t *testing.T) {
	capturer := &fakeCapturer{}
	table := &fakeTable{}

	var stages []string
	s, err := New(testCalibration(), capturer, table, testOptions(), func(p Progress) {
		stages = append(stages, p.Stage)
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := s.Run(context.Background(), 3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Cloud == nil || result.Cloud.Size() == 0 {
		t.Fatal("scan produced an empty cloud")
	}
	if len(result.Angles) != 3 {
		t.Fatalf("got %d angle results, want 3", len(result.Angles))
	}
	for i, a := range result.Angles {
		if a.Failure != nil {
			t.Fatalf("angle %d unexpectedly failed: %v", i, a.Failure)
		}
		if a.Points == 0 {
			t.Fatalf("angle %d produced no points", i)
		}
		if a.Decode.Valid == 0 {
			t.Fatalf("angle %d decoded no pixels", i)
		}
	}

	// Two relative rotations of 120 degrees; the first angle needs none.
	if len(table.rotations) != 2 {
		t.Fatalf("got %d rotations, want 2", len(table.rotations))
	}
	for _, r := range table.rotations {
		if r != 120 {
			t.Errorf("rotation step = %g, want 120", r)
		}
	}
	if result.Angles[2].Realized != 240 {
		t.Errorf("third realized angle = %g, want 240", result.Angles[2].Realized)
	}

	seen := map[string]bool{}
	for _, st := range stages {
		seen[st] = true
	}
	for _, want := range []string{"capture", "decode", "triangulate", "assemble", "done"} {
		if !seen[want] {
			t.Errorf("no %q progress event emitted", want)
		}
	}
}

func TestSession_Run_SkipsFailedAngle(t *testing.T) {
	capturer := &fakeCapturer{failAt: 2}
	s, err := New(testCalibration(), capturer, &fakeTable{}, testOptions(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := s.Run(context.Background(), 3)
	if err != nil {
		t.Fatalf("Run should absorb a single capture failure, got: %v", err)
	}
	if result.Cloud.Size() == 0 {
		t.Fatal("surviving angles produced no points")
	}

	failures := 0
	for _, a := range result.Angles {
		if a.Failure != nil {
			failures++
			if a.Failure.Angle != 120 {
				t.Errorf("failure at %g degrees, want 120", a.Failure.Angle)
			}
		}
	}
	if failures != 1 {
		t.Fatalf("got %d failures, want 1", failures)
	}
}

func TestSession_Run_AllAnglesFailed(t *testing.T) {
	always := captureFunc(func(ctx context.Context, set *pattern.Set, angle float64) (*decode.CaptureStack, error) {
		return nil, fmt.Errorf("camera offline")
	})
	s, err := New(testCalibration(), always, &fakeTable{}, testOptions(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Run(context.Background(), 2); err == nil {
		t.Fatal("a scan where every angle fails must error")
	}
}

type captureFunc func(ctx context.Context, set *pattern.Set, angle float64) (*decode.CaptureStack, error)

func (f captureFunc) Capture(ctx context.Context, set *pattern.Set, angle float64) (*decode.CaptureStack, error) {
	return f(ctx, set, angle)
}

func TestSession_Run_CancelledContext(t *testing.T) {
	s, err := New(testCalibration(), &fakeCapturer{}, &fakeTable{}, testOptions(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Run(ctx, 3); err == nil {
		t.Fatal("cancelled context should abort the scan")
	}
}

func TestSession_Run_InvalidAngleCount(t *testing.T) {
	s, err := New(testCalibration(), &fakeCapturer{}, &fakeTable{}, testOptions(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Run(context.Background(), 0); err == nil {
		t.Fatal("zero angles should fail")
	}
}

func TestNew_Validation(t *testing.T) {
	cal := testCalibration()
	if _, err := New(nil, &fakeCapturer{}, &fakeTable{}, testOptions(), nil); err == nil {
		t.Error("nil calibration should fail")
	}
	if _, err := New(cal, nil, &fakeTable{}, testOptions(), nil); err == nil {
		t.Error("nil capturer should fail")
	}
	if _, err := New(cal, &fakeCapturer{}, nil, testOptions(), nil); err == nil {
		t.Error("nil turntable should fail")
	}
}
