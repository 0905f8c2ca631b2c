package cloud

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/pkg/geometry"
)

// WritePLY writes the cloud as ASCII PLY: x y z confidence per vertex, plus
// grayscale texture channels when the cloud carries texture. The exact record
// layout is the only contract; viewers treat unknown properties as scalars.
func (c *Cloud) WritePLY(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "ply\nformat ascii 1.0\n")
	fmt.Fprintf(bw, "element vertex %d\n", len(c.points))
	fmt.Fprintf(bw, "property float x\nproperty float y\nproperty float z\n")
	fmt.Fprintf(bw, "property float confidence\n")
	if c.meta.HasTexture {
		fmt.Fprintf(bw, "property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	fmt.Fprintf(bw, "end_header\n")

	for _, p := range c.points {
		if c.meta.HasTexture {
			fmt.Fprintf(bw, "%.4f %.4f %.4f %.4f %d %d %d\n",
				p.Pos.X, p.Pos.Y, p.Pos.Z, p.Confidence, p.Gray, p.Gray, p.Gray)
		} else {
			fmt.Fprintf(bw, "%.4f %.4f %.4f %.4f\n",
				p.Pos.X, p.Pos.Y, p.Pos.Z, p.Confidence)
		}
	}
	return bw.Flush()
}

// WritePLYFile writes the cloud to a file.
func (c *Cloud) WritePLYFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cloud: create %s: %w", path, err)
	}
	defer f.Close()
	if err := c.WritePLY(f); err != nil {
		return fmt.Errorf("cloud: write %s: %w", path, err)
	}
	return nil
}

// ReadPLY reads an ASCII PLY produced by WritePLY (or any ASCII PLY whose
// first vertex properties are x, y, z and optionally confidence and RGB).
func ReadPLY(r io.Reader) (*Cloud, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)

	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "ply" {
		return nil, fmt.Errorf("cloud: not a PLY file")
	}

	vertices := -1
	props := []string{}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "format "):
			if !strings.Contains(line, "ascii") {
				return nil, fmt.Errorf("cloud: only ASCII PLY is supported")
			}
		case strings.HasPrefix(line, "element vertex "):
			if _, err := fmt.Sscanf(line, "element vertex %d", &vertices); err != nil {
				return nil, fmt.Errorf("cloud: bad vertex element: %q", line)
			}
		case strings.HasPrefix(line, "property "):
			fields := strings.Fields(line)
			props = append(props, fields[len(fields)-1])
		case line == "end_header":
			goto body
		}
	}
	return nil, fmt.Errorf("cloud: missing end_header")

body:
	if vertices < 0 {
		return nil, fmt.Errorf("cloud: missing vertex element")
	}
	confIdx, redIdx := -1, -1
	for i, name := range props {
		switch name {
		case "confidence":
			confIdx = i
		case "red":
			redIdx = i
		}
	}

	c := NewWithCapacity(vertices)
	for i := 0; i < vertices; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("cloud: expected %d vertices, got %d", vertices, i)
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			return nil, fmt.Errorf("cloud: vertex %d has %d fields", i, len(fields))
		}
		var vals []float64
		for _, f := range fields {
			var v float64
			if _, err := fmt.Sscanf(f, "%g", &v); err != nil {
				return nil, fmt.Errorf("cloud: vertex %d: %w", i, err)
			}
			vals = append(vals, v)
		}
		p := Point{Pos: geometry.Vec3{X: vals[0], Y: vals[1], Z: vals[2]}}
		if confIdx >= 0 && confIdx < len(vals) {
			p.Confidence = vals[confIdx]
		}
		if redIdx >= 0 && redIdx < len(vals) {
			p.Gray = uint8(vals[redIdx])
		}
		c.Add(p)
	}
	return c, nil
}

// ReadPLYFile reads a PLY file from disk.
func ReadPLYFile(path string) (*Cloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cloud: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadPLY(f)
}
