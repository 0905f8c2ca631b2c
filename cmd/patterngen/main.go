// Command patterngen writes the Gray-code pattern sequence as PNG files so
// the projector side can preload them.
package main

import (
	"flag"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/pattern"
)

func main() {
	width := flag.Int("width", 1920, "Projector width in pixels")
	height := flag.Int("height", 1080, "Projector height in pixels")
	level := flag.Uint("level", 200, "Gray level for lit pixels (1-255)")
	colsOnly := flag.Bool("cols-only", false, "Generate column patterns only")
	outDir := flag.String("out", "patterns", "Output directory")
	flag.Parse()

	opts := pattern.DefaultOptions()
	opts.Level = uint8(*level)
	opts.BothAxes = !*colsOnly

	set, err := pattern.Generate(*width, *height, 0, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Generate patterns: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d patterns for %dx%d (%d column bits, %d row bits)\n",
		len(set.Images), *width, *height, set.ColBits, set.RowBits)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Create %s: %v\n", *outDir, err)
		os.Exit(1)
	}

	for i, img := range set.Images {
		name := filepath.Join(*outDir, fmt.Sprintf("pattern_%03d.png", i))
		f, err := os.Create(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Create %s: %v\n", name, err)
			os.Exit(1)
		}
		if err := png.Encode(f, img.Gray); err != nil {
			f.Close()
			fmt.Fprintf(os.Stderr, "Encode %s: %v\n", name, err)
			os.Exit(1)
		}
		f.Close()
	}
	fmt.Printf("Wrote %d PNG files to %s\n", len(set.Images), *outDir)
}
