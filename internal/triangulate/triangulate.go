// Package triangulate converts a decoded code map into a 3D point cloud by
// intersecting each valid pixel's camera ray with the projector light plane
// its code selects.
package triangulate

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/calib"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/cloud"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/decode"
)

// Options configures triangulation.
type Options struct {
	// MinIncidence is the minimum |cos| between ray and plane normal. Rays
	// closer to grazing are dropped and counted, not erred.
	MinIncidence float64
	// MaxDepth drops intersections beyond this camera-space distance
	// (mm; 0 disables).
	MaxDepth float64
	Workers  int // 0 means GOMAXPROCS
}

// DefaultOptions returns triangulation defaults.
func DefaultOptions() Options {
	return Options{
		MinIncidence: 1e-6,
		MaxDepth:     0,
	}
}

// Stats counts triangulation outcomes. Every input pixel lands in exactly one
// counter, so nothing is silently dropped.
type Stats struct {
	Input        int // valid decoded pixels considered
	Emitted      int
	Parallel     int // ray parallel to plane (incidence below cutoff)
	Behind       int // intersection behind the camera
	MissingPlane int // no calibrated plane for the decoded code
	TooDeep      int
}

// Triangulate produces one point per valid pixel of the code map. The white
// reference frame, when supplied, provides the texture sample carried on each
// point. Invalid pixels never reach the output.
func Triangulate(codes *decode.CodeMap, cam *calib.CameraModel, planes *calib.PlaneMap, tex *image.Gray, opts Options) (*cloud.Cloud, Stats, error) {
	if codes == nil {
		return nil, Stats{}, fmt.Errorf("triangulate: nil code map")
	}
	if cam == nil || planes == nil {
		return nil, Stats{}, fmt.Errorf("triangulate: calibration is required")
	}
	if opts.MinIncidence <= 0 {
		opts.MinIncidence = DefaultOptions().MinIncidence
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > codes.Height {
		workers = codes.Height
	}

	// Each worker owns a disjoint row band and appends to its own slice;
	// bands are concatenated in order, keeping the output deterministic.
	results := make([][]cloud.Point, workers)
	stats := make([]Stats, workers)
	var wg sync.WaitGroup
	for wk := 0; wk < workers; wk++ {
		wg.Add(1)
		go func(wk int) {
			defer wg.Done()
			y0 := wk * codes.Height / workers
			y1 := (wk + 1) * codes.Height / workers
			results[wk] = triangulateBand(codes, cam, planes, tex, opts, y0, y1, &stats[wk])
		}(wk)
	}
	wg.Wait()

	var total Stats
	n := 0
	for wk := 0; wk < workers; wk++ {
		s := stats[wk]
		total.Input += s.Input
		total.Emitted += s.Emitted
		total.Parallel += s.Parallel
		total.Behind += s.Behind
		total.MissingPlane += s.MissingPlane
		total.TooDeep += s.TooDeep
		n += len(results[wk])
	}

	out := cloud.NewWithCapacity(n)
	for _, band := range results {
		for _, p := range band {
			out.Add(p)
		}
	}
	return out, total, nil
}

func triangulateBand(codes *decode.CodeMap, cam *calib.CameraModel, planes *calib.PlaneMap, tex *image.Gray, opts Options, y0, y1 int, st *Stats) []cloud.Point {
	var pts []cloud.Point
	for y := y0; y < y1; y++ {
		for x := 0; x < codes.Width; x++ {
			col, _, ok := codes.At(x, y)
			if !ok {
				continue
			}
			st.Input++

			plane, known := planes.Plane(int(col))
			if !known {
				st.MissingPlane++
				continue
			}

			ray := cam.PixelRay(float64(x), float64(y))
			incidence := abs(plane.Normal.Dot(ray.Dir))
			if incidence < opts.MinIncidence {
				st.Parallel++
				continue
			}
			pos, t, hit := plane.IntersectRay(ray, opts.MinIncidence)
			if !hit {
				st.Parallel++
				continue
			}
			if t <= 0 {
				st.Behind++
				continue
			}
			if opts.MaxDepth > 0 && t > opts.MaxDepth {
				st.TooDeep++
				continue
			}

			p := cloud.Point{
				Pos:   pos,
				Pixel: image.Pt(x, y),
				// Near-grazing intersections are geometrically unstable, so
				// confidence falls with incidence.
				Confidence: incidence,
			}
			if tex != nil {
				b := tex.Bounds()
				p.Gray = tex.GrayAt(b.Min.X+x, b.Min.Y+y).Y
			}
			pts = append(pts, p)
			st.Emitted++
		}
	}
	return pts
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
