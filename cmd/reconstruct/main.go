// Command reconstruct rebuilds a point cloud from one angle's capture
// directory: the frames photographed in projection order, named so a
// lexicographic sort recovers that order.
package main

import (
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"

	_ "golang.org/x/image/tiff"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/calib"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/decode"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/pattern"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/triangulate"
)

func main() {
	calibPath := flag.String("calib", "calibration.json", "Calibration JSON file")
	dir := flag.String("dir", "", "Directory of captured frames")
	width := flag.Int("width", 1920, "Projector width the capture used")
	height := flag.Int("height", 1080, "Projector height the capture used")
	angle := flag.Float64("angle", 0, "Turntable angle of this capture, degrees")
	out := flag.String("out", "cloud.ply", "Output PLY path")
	flag.Parse()

	if *dir == "" {
		fmt.Println("Usage: reconstruct -dir <capture dir> [-calib calibration.json] [-angle 0] [-out cloud.ply]")
		os.Exit(1)
	}

	calibration, err := calib.Load(*calibPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load calibration: %v\n", err)
		os.Exit(1)
	}

	set, err := pattern.Generate(*width, *height, 0, pattern.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Generate patterns: %v\n", err)
		os.Exit(1)
	}

	frames, err := loadFrames(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d frames from %s\n", len(frames), *dir)

	stack, err := decode.StackFromImages(set, frames, *angle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	codes, err := decode.Decode(stack, decode.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Decode: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Decoded: %d/%d pixels valid (%d shadowed, %d low contrast, %d out of range)\n",
		codes.Stats.Valid, codes.Stats.Total, codes.Stats.Shadowed,
		codes.Stats.LowContrast, codes.Stats.OutOfRange)

	c, stats, err := triangulate.Triangulate(codes, &calibration.Camera, calibration.Planes,
		stack.White, triangulate.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Triangulate: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Triangulated %d points (%d parallel rays, %d behind camera, %d missing planes)\n",
		stats.Emitted, stats.Parallel, stats.Behind, stats.MissingPlane)

	if err := c.WritePLYFile(*out); err != nil {
		fmt.Fprintf(os.Stderr, "Write PLY: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", *out)
}

func loadFrames(dir string) ([]*image.Gray, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".png", ".jpg", ".jpeg", ".tif", ".tiff":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var frames []*image.Gray
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		frames = append(frames, toGray(img))
	}
	return frames, nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g.Set(x-b.Min.X, y-b.Min.Y, img.At(x, y))
		}
	}
	return g
}
