package decode

import (
	"image"
	"image/color"
	"testing"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/pattern"
)

// captureOf simulates a perfect camera looking straight at the projection
// surface: every captured frame equals the projected one.
func captureOf(t *testing.T, set *pattern.Set) *CaptureStack {
	t.Helper()
	frames := make([]*image.Gray, len(set.Images))
	for i := range set.Images {
		src := set.Images[i].Gray
		dup := image.NewGray(src.Bounds())
		copy(dup.Pix, src.Pix)
		frames[i] = dup
	}
	stack, err := StackFromImages(set, frames, 0)
	if err != nil {
		t.Fatalf("StackFromImages: %v", err)
	}
	return stack
}

func generate(t *testing.T, w, h int) *pattern.Set {
	t.Helper()
	set, err := pattern.Generate(w, h, 0, pattern.DefaultOptions())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return set
}

func TestDecode_RecoversExactCodes(t *testing.T) {
	set := generate(t, 32, 16)
	stack := captureOf(t, set)

	m, err := Decode(stack, DefaultOptions())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Stats.Valid != 32*16 {
		t.Fatalf("valid = %d, want %d (stats %+v)", m.Stats.Valid, 32*16, m.Stats)
	}
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			col, row, ok := m.At(x, y)
			if !ok {
				t.Fatalf("pixel (%d,%d) invalid", x, y)
			}
			if int(col) != x || int(row) != y {
				t.Fatalf("pixel (%d,%d) decoded to (%d,%d)", x, y, col, row)
			}
		}
	}
}

func TestDecode_Idempotent(t *testing.T) {
	set := generate(t, 16, 8)
	stack := captureOf(t, set)

	a, err := Decode(stack, DefaultOptions())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	b, err := Decode(stack, DefaultOptions())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if a.Stats != b.Stats {
		t.Fatalf("stats differ between runs: %+v vs %+v", a.Stats, b.Stats)
	}
	for i := range a.Valid {
		if a.Valid[i] != b.Valid[i] || a.Col[i] != b.Col[i] || a.Row[i] != b.Row[i] {
			t.Fatalf("pixel %d differs between runs", i)
		}
	}
}

func TestDecode_ShadowedPixelsInvalid(t *testing.T) {
	set := generate(t, 16, 8)
	stack := captureOf(t, set)

	// A shadow: nothing reflected on the left quarter of the white frame.
	for y := 0; y < 8; y++ {
		for x := 0; x < 4; x++ {
			stack.White.SetGray(x, y, color.Gray{})
		}
	}

	m, err := Decode(stack, DefaultOptions())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Stats.Shadowed != 4*8 {
		t.Errorf("shadowed = %d, want %d", m.Stats.Shadowed, 4*8)
	}
	for y := 0; y < 8; y++ {
		for x := 0; x < 4; x++ {
			if _, _, ok := m.At(x, y); ok {
				t.Fatalf("shadowed pixel (%d,%d) reported valid", x, y)
			}
		}
	}
	if m.Stats.Valid != 12*8 {
		t.Errorf("valid = %d, want %d", m.Stats.Valid, 12*8)
	}
}

func TestDecode_LowContrastPixelsInvalid(t *testing.T) {
	set := generate(t, 16, 8)
	stack := captureOf(t, set)

	// Washed out: black reference almost as bright as white.
	for y := 0; y < 8; y++ {
		stack.Black.Pix[stack.Black.PixOffset(0, y)] = 195
	}

	m, err := Decode(stack, DefaultOptions())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Stats.LowContrast != 8 {
		t.Errorf("low contrast = %d, want 8", m.Stats.LowContrast)
	}
}

func TestDecode_OutOfRangeCodesInvalid(t *testing.T) {
	set := generate(t, 16, 8)
	stack := captureOf(t, set)

	opts := DefaultOptions()
	opts.MaxCols = 10 // codes 10..15 must be rejected

	m, err := Decode(stack, opts)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Stats.OutOfRange != 6*8 {
		t.Errorf("out of range = %d, want %d", m.Stats.OutOfRange, 6*8)
	}
	for y := 0; y < 8; y++ {
		for x := 10; x < 16; x++ {
			if _, _, ok := m.At(x, y); ok {
				t.Fatalf("out-of-range pixel (%d,%d) reported valid", x, y)
			}
		}
	}
}

func TestDecode_CountersPartitionPixels(t *testing.T) {
	set := generate(t, 16, 8)
	stack := captureOf(t, set)
	stack.White.Pix[0] = 0 // one shadowed pixel

	m, err := Decode(stack, DefaultOptions())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	sum := m.Stats.Valid + m.Stats.Shadowed + m.Stats.LowContrast + m.Stats.OutOfRange
	if sum != m.Stats.Total {
		t.Errorf("counters sum to %d, total is %d", sum, m.Stats.Total)
	}
}

func TestDecode_MissingFrames(t *testing.T) {
	if _, err := Decode(nil, DefaultOptions()); err == nil {
		t.Error("nil stack should fail")
	}
	if _, err := Decode(&CaptureStack{}, DefaultOptions()); err == nil {
		t.Error("stack without references should fail")
	}
}

func TestDecode_MismatchedFrameSize(t *testing.T) {
	set := generate(t, 16, 8)
	stack := captureOf(t, set)
	stack.Col[0].Pattern = image.NewGray(image.Rect(0, 0, 8, 8))

	if _, err := Decode(stack, DefaultOptions()); err == nil {
		t.Error("mismatched frame dimensions should fail")
	}
}

func TestStackFromImages_WrongCount(t *testing.T) {
	set := generate(t, 16, 8)
	if _, err := StackFromImages(set, make([]*image.Gray, 3), 0); err == nil {
		t.Error("wrong frame count should fail")
	}
}
