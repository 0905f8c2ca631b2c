// Package assemble registers per-angle point clouds into a common reference
// frame using the calibrated turntable axis, and merges them into the final
// model.
package assemble

import (
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/cloud"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/pkg/geometry"
)

// Input is one per-angle cloud tagged with the realized rotation angle the
// turntable reported (not the requested one).
type Input struct {
	Cloud *cloud.Cloud
	Angle float64 // degrees
}

// Options configures the merge. The thresholds are tunable policy.
type Options struct {
	// MinSeparation is the distance below which two points from different
	// angles are duplicates; the higher-confidence one survives.
	MinSeparation float64
	// NoiseRadius is the neighbourhood checked when deciding whether a
	// low-confidence point is isolated noise.
	NoiseRadius float64
	// ConfidenceFloor drops isolated points below this confidence.
	ConfidenceFloor float64
}

// DefaultOptions returns merge defaults in millimetres.
func DefaultOptions() Options {
	return Options{
		MinSeparation:   0.5,
		NoiseRadius:     2.0,
		ConfidenceFloor: 0.15,
	}
}

// Stats summarizes a merge.
type Stats struct {
	InputClouds  int
	InputPoints  int
	Duplicates   int
	NoiseDropped int
	Merged       int
	CoverageGaps []float64 // angles (degrees) at the start of unusually large gaps
}

// Assemble rotates every input cloud by the negative of its capture angle
// about the turntable axis and merges the results, deduplicating overlap
// regions and dropping isolated low-confidence noise. Inputs are sorted by
// angle first, so the merge is independent of arrival order. Missing angles
// reduce coverage but never fail the merge.
func Assemble(inputs []Input, axis geometry.Axis, opts Options) (*cloud.Cloud, Stats, error) {
	if len(inputs) == 0 {
		return nil, Stats{}, fmt.Errorf("assemble: no per-angle clouds supplied")
	}
	if axis.Dir.Norm() == 0 {
		return nil, Stats{}, fmt.Errorf("assemble: turntable axis is not calibrated")
	}
	if opts.MinSeparation <= 0 {
		opts.MinSeparation = DefaultOptions().MinSeparation
	}
	if opts.NoiseRadius < opts.MinSeparation {
		opts.NoiseRadius = opts.MinSeparation
	}

	sorted := make([]Input, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Angle < sorted[j].Angle })

	stats := Stats{InputClouds: len(sorted)}
	stats.CoverageGaps = coverageGaps(sorted)
	for _, gap := range stats.CoverageGaps {
		log.Printf("Assemble: coverage gap after %.1f degrees", gap)
	}

	grid := newGrid(opts.MinSeparation)
	for _, in := range sorted {
		rad := -in.Angle * math.Pi / 180
		for _, p := range in.Cloud.Points() {
			stats.InputPoints++
			p.Pos = axis.RotateAbout(p.Pos, rad)
			p.Angle = in.Angle
			if grid.insert(p, opts.MinSeparation) {
				stats.Duplicates++
			}
		}
	}

	out := cloud.NewWithCapacity(grid.size())
	grid.each(func(p cloud.Point) {
		if p.Confidence < opts.ConfidenceFloor &&
			!grid.hasNeighbourFromOtherAngle(p, opts.NoiseRadius) {
			stats.NoiseDropped++
			return
		}
		out.Add(p)
	})
	stats.Merged = out.Size()
	return out, stats, nil
}

// coverageGaps flags gaps between consecutive angles larger than 1.5x the
// median step. A single missing angle in an otherwise even sweep shows up as
// one gap.
func coverageGaps(sorted []Input) []float64 {
	if len(sorted) < 3 {
		return nil
	}
	steps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		steps = append(steps, sorted[i].Angle-sorted[i-1].Angle)
	}
	ordered := append([]float64(nil), steps...)
	sort.Float64s(ordered)
	median := ordered[len(ordered)/2]
	if median <= 0 {
		return nil
	}

	var gaps []float64
	for i, step := range steps {
		if step > 1.5*median {
			gaps = append(gaps, sorted[i].Angle)
		}
	}
	return gaps
}
