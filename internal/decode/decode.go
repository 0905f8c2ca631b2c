// Package decode recovers per-pixel projector coordinates from a captured
// structured-light image stack.
//
// Each bit is decided by comparing the frame captured under a pattern against
// the frame captured under its photometric inverse, which cancels ambient
// illumination and surface-reflectance bias. Pixels whose white/black contrast
// sits below the noise floor, or whose decoded code falls outside the
// projector range, are marked invalid and excluded from every downstream
// stage.
package decode

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/pattern"
)

// BitPair is a captured pattern frame and its captured inverse.
type BitPair struct {
	Pattern *image.Gray
	Inverse *image.Gray
}

// CaptureStack is the ordered set of camera frames for exactly one turntable
// angle: the white/black references plus one BitPair per bit plane, columns
// before rows (MSB first). Consumed read-only.
type CaptureStack struct {
	Angle float64 // realized turntable angle, degrees
	White *image.Gray
	Black *image.Gray
	Col   []BitPair
	Row   []BitPair
}

// StackFromImages assembles a CaptureStack from frames captured in projection
// order for the given pattern set: white, black, then pattern/inverse pairs.
func StackFromImages(set *pattern.Set, frames []*image.Gray, angle float64) (*CaptureStack, error) {
	want := 2 + 2*(set.ColBits+set.RowBits)
	if len(frames) != want {
		return nil, fmt.Errorf("decode: got %d frames, pattern set needs %d", len(frames), want)
	}
	s := &CaptureStack{Angle: angle, White: frames[0], Black: frames[1]}
	idx := 2
	for b := 0; b < set.ColBits; b++ {
		s.Col = append(s.Col, BitPair{Pattern: frames[idx], Inverse: frames[idx+1]})
		idx += 2
	}
	for b := 0; b < set.RowBits; b++ {
		s.Row = append(s.Row, BitPair{Pattern: frames[idx], Inverse: frames[idx+1]})
		idx += 2
	}
	return s, nil
}

// Options configures decoding. The thresholds are tunable policy, not
// algorithmic contract; the defaults match values proven on the bench.
type Options struct {
	ShadowFloor      float64 // minimum white-reference intensity
	MinContrast      float64 // minimum white-black difference
	ContrastFraction float64 // extra floor as a fraction of the scene's dynamic range
	MaxCols          int     // valid column code range; 0 means 2^colBits
	MaxRows          int     // valid row code range; 0 means 2^rowBits
	Workers          int     // 0 means GOMAXPROCS
}

// DefaultOptions returns decoding defaults.
func DefaultOptions() Options {
	return Options{
		ShadowFloor:      40,
		MinContrast:      10,
		ContrastFraction: 0.05,
	}
}

// Stats counts per-pixel decode outcomes. Invalid pixels are absorbed here,
// never surfaced as errors.
type Stats struct {
	Total       int
	Valid       int
	Shadowed    int
	LowContrast int
	OutOfRange  int
}

// CodeMap holds the decoded projector coordinate and validity bit for every
// camera pixel. Codes for invalid pixels are undefined.
type CodeMap struct {
	Width  int
	Height int
	Col    []int32
	Row    []int32
	Valid  []bool
	Stats  Stats
}

// At returns the decoded column and row codes for pixel (x, y), and whether
// the pixel is valid.
func (m *CodeMap) At(x, y int) (col, row int32, ok bool) {
	i := y*m.Width + x
	if !m.Valid[i] {
		return 0, 0, false
	}
	return m.Col[i], m.Row[i], true
}

// Decode recovers the per-pixel code map from a capture stack. Decoding is
// deterministic and idempotent: the same stack always yields the same map.
func Decode(stack *CaptureStack, opts Options) (*CodeMap, error) {
	if stack == nil || stack.White == nil || stack.Black == nil {
		return nil, fmt.Errorf("decode: capture stack is missing reference frames")
	}
	if len(stack.Col) == 0 {
		return nil, fmt.Errorf("decode: capture stack has no column bit planes")
	}
	bounds := stack.White.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if err := checkDims(stack, w, h); err != nil {
		return nil, err
	}

	maxCol := opts.MaxCols
	if maxCol <= 0 {
		maxCol = 1 << len(stack.Col)
	}
	maxRow := opts.MaxRows
	if maxRow <= 0 {
		maxRow = 1 << len(stack.Row)
	}

	m := &CodeMap{
		Width:  w,
		Height: h,
		Col:    make([]int32, w*h),
		Row:    make([]int32, w*h),
		Valid:  make([]bool, w*h),
	}
	m.Stats.Total = w * h

	// First pass: the contrast floor scales with the brightest contrast seen
	// anywhere in the frame, so a dim exposure does not pass everything.
	var maxContrast float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := intensity(stack.White, x, y) - intensity(stack.Black, x, y)
			if c > maxContrast {
				maxContrast = c
			}
		}
	}
	contrastFloor := opts.MinContrast
	if dyn := maxContrast * opts.ContrastFraction; dyn > contrastFloor {
		contrastFloor = dyn
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > h {
		workers = h
	}

	// Row bands own disjoint index ranges of the output buffers, so the
	// workers need no locking.
	stats := make([]Stats, workers)
	var wg sync.WaitGroup
	for wk := 0; wk < workers; wk++ {
		wg.Add(1)
		go func(wk int) {
			defer wg.Done()
			y0 := wk * h / workers
			y1 := (wk + 1) * h / workers
			decodeBand(stack, m, &stats[wk], y0, y1, contrastFloor, opts.ShadowFloor, maxCol, maxRow)
		}(wk)
	}
	wg.Wait()

	for _, s := range stats {
		m.Stats.Valid += s.Valid
		m.Stats.Shadowed += s.Shadowed
		m.Stats.LowContrast += s.LowContrast
		m.Stats.OutOfRange += s.OutOfRange
	}
	return m, nil
}

func decodeBand(stack *CaptureStack, m *CodeMap, st *Stats, y0, y1 int, contrastFloor, shadowFloor float64, maxCol, maxRow int) {
	for y := y0; y < y1; y++ {
		for x := 0; x < m.Width; x++ {
			i := y*m.Width + x

			white := intensity(stack.White, x, y)
			black := intensity(stack.Black, x, y)
			if white <= shadowFloor {
				st.Shadowed++
				continue
			}
			if white-black <= contrastFloor {
				st.LowContrast++
				continue
			}

			col := decodePixel(stack.Col, x, y)
			row := decodePixel(stack.Row, x, y)
			if int(col) >= maxCol || (len(stack.Row) > 0 && int(row) >= maxRow) {
				// Out-of-range codes are the per-pixel ambiguity case:
				// counted and excluded, never a hard failure.
				st.OutOfRange++
				continue
			}

			m.Col[i] = int32(col)
			m.Row[i] = int32(row)
			m.Valid[i] = true
			st.Valid++
		}
	}
}

// decodePixel reads one pixel across all bit pairs, MSB first, and converts
// the accumulated Gray code to binary.
func decodePixel(pairs []BitPair, x, y int) uint32 {
	var gray uint32
	bits := len(pairs)
	for b, p := range pairs {
		if intensity(p.Pattern, x, y) > intensity(p.Inverse, x, y) {
			gray |= 1 << uint(bits-1-b)
		}
	}
	return pattern.GrayToBinary(gray)
}

func intensity(img *image.Gray, x, y int) float64 {
	b := img.Bounds()
	return float64(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
}

func checkDims(stack *CaptureStack, w, h int) error {
	check := func(img *image.Gray, name string) error {
		if img == nil {
			return fmt.Errorf("decode: missing %s frame", name)
		}
		if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
			return fmt.Errorf("decode: %s frame is %dx%d, want %dx%d",
				name, img.Bounds().Dx(), img.Bounds().Dy(), w, h)
		}
		return nil
	}
	if err := check(stack.Black, "black reference"); err != nil {
		return err
	}
	for i, p := range stack.Col {
		if err := check(p.Pattern, fmt.Sprintf("column bit %d", i)); err != nil {
			return err
		}
		if err := check(p.Inverse, fmt.Sprintf("column bit %d inverse", i)); err != nil {
			return err
		}
	}
	for i, p := range stack.Row {
		if err := check(p.Pattern, fmt.Sprintf("row bit %d", i)); err != nil {
			return err
		}
		if err := check(p.Inverse, fmt.Sprintf("row bit %d inverse", i)); err != nil {
			return err
		}
	}
	return nil
}
