// Package pattern generates the Gray-code bit-plane images projected during a
// structured-light scan.
package pattern

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrInvalidResolution is returned when the requested projector resolution is
// non-positive or the bit depth cannot address every column.
var ErrInvalidResolution = errors.New("pattern: invalid projector resolution")

// Orientation selects which projector axis a bit plane encodes.
type Orientation int

const (
	// Vertical stripes encode the projector column.
	Vertical Orientation = iota
	// Horizontal stripes encode the projector row.
	Horizontal
)

func (o Orientation) String() string {
	if o == Horizontal {
		return "horizontal"
	}
	return "vertical"
}

// Image is one projected frame: a monochrome bit plane tagged with its bit
// index (MSB first, -1 for the white/black references) and orientation.
// Immutable once generated.
type Image struct {
	Gray        *image.Gray
	Bit         int
	Orientation Orientation
	Inverted    bool
	Reference   bool
}

// Set is the ordered projection sequence for one scan: the all-white and
// all-black references first, then each bit plane immediately followed by its
// photometric inverse, columns before rows.
type Set struct {
	Width   int
	Height  int
	ColBits int
	RowBits int
	Level   uint8
	Images  []Image
}

// Options configures pattern generation.
type Options struct {
	Level    uint8 // projected brightness for lit stripes
	BothAxes bool  // also emit horizontal (row) planes
}

// DefaultOptions returns the default generation options.
func DefaultOptions() Options {
	return Options{
		Level:    200,
		BothAxes: true,
	}
}

// GrayCode returns the reflected binary Gray code of n.
func GrayCode(n int) int {
	return n ^ (n >> 1)
}

// GrayToBinary converts a Gray code back to its binary value.
func GrayToBinary(g uint32) uint32 {
	b := g
	for g >>= 1; g != 0; g >>= 1 {
		b ^= g
	}
	return b
}

// BitsFor returns the number of bit planes needed to address n distinct
// columns or rows: ceil(log2(n)).
func BitsFor(n int) int {
	bits := 0
	for (1 << bits) < n {
		bits++
	}
	return bits
}

// Generate produces the ordered pattern sequence for a projector of the given
// resolution. bitDepth limits the number of planes per axis; zero means use
// exactly as many as the resolution needs. The sequence is deterministic.
func Generate(width, height, bitDepth int, opts Options) (*Set, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidResolution, width, height)
	}

	colBits := BitsFor(width)
	rowBits := BitsFor(height)
	if bitDepth > 0 {
		if (1 << bitDepth) < width {
			return nil, fmt.Errorf("%w: bit depth %d cannot address %d columns",
				ErrInvalidResolution, bitDepth, width)
		}
		colBits = bitDepth
		if opts.BothAxes && (1<<bitDepth) < height {
			return nil, fmt.Errorf("%w: bit depth %d cannot address %d rows",
				ErrInvalidResolution, bitDepth, height)
		}
		if opts.BothAxes {
			rowBits = bitDepth
		}
	}
	if !opts.BothAxes {
		rowBits = 0
	}

	s := &Set{
		Width:   width,
		Height:  height,
		ColBits: colBits,
		RowBits: rowBits,
		Level:   opts.Level,
	}

	s.Images = append(s.Images, fill(width, height, opts.Level, -1, Vertical, true))
	s.Images = append(s.Images, fill(width, height, 0, -1, Vertical, true))

	for b := 0; b < colBits; b++ {
		pat, inv := bitPlane(width, height, b, colBits, Vertical, opts.Level)
		s.Images = append(s.Images, pat, inv)
	}
	for b := 0; b < rowBits; b++ {
		pat, inv := bitPlane(width, height, b, rowBits, Horizontal, opts.Level)
		s.Images = append(s.Images, pat, inv)
	}
	return s, nil
}

// fill produces a uniform reference frame.
func fill(width, height int, level uint8, bit int, o Orientation, ref bool) Image {
	img := image.NewGray(image.Rect(0, 0, width, height))
	if level != 0 {
		for i := range img.Pix {
			img.Pix[i] = level
		}
	}
	return Image{Gray: img, Bit: bit, Orientation: o, Reference: ref}
}

// bitPlane renders bit b (MSB first) of the Gray code along one axis, plus its
// photometric inverse.
func bitPlane(width, height, b, bits int, o Orientation, level uint8) (Image, Image) {
	pat := image.NewGray(image.Rect(0, 0, width, height))
	inv := image.NewGray(image.Rect(0, 0, width, height))

	n := width
	if o == Horizontal {
		n = height
	}
	shift := uint(bits - 1 - b)

	lit := make([]bool, n)
	for i := 0; i < n; i++ {
		lit[i] = (GrayCode(i)>>shift)&1 == 1
	}

	white := color.Gray{Y: level}
	black := color.Gray{Y: 0}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := x
			if o == Horizontal {
				i = y
			}
			if lit[i] {
				pat.SetGray(x, y, white)
				inv.SetGray(x, y, black)
			} else {
				pat.SetGray(x, y, black)
				inv.SetGray(x, y, white)
			}
		}
	}

	return Image{Gray: pat, Bit: b, Orientation: o},
		Image{Gray: inv, Bit: b, Orientation: o, Inverted: true}
}
