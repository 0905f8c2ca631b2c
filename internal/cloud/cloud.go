// Package cloud provides the point-cloud container produced by triangulation
// and assembly, and its PLY serialization.
package cloud

import (
	"image"
	"math"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/pkg/geometry"
)

// Point is one reconstructed surface sample.
type Point struct {
	Pos        geometry.Vec3
	Pixel      image.Point // source camera pixel
	Angle      float64     // source turntable angle, degrees
	Confidence float64     // 0..1, from the ray-plane incidence angle
	Gray       uint8       // texture sample from the white reference
}

// Meta summarizes what a cloud contains.
type Meta struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
	HasTexture bool
}

// Cloud is an ordered collection of points. It is mutable while a stage owns
// it and treated as immutable once handed to the next stage.
type Cloud struct {
	points []Point
	meta   Meta
	inited bool
}

// New creates an empty cloud.
func New() *Cloud {
	return &Cloud{}
}

// NewWithCapacity creates an empty cloud with preallocated storage.
func NewWithCapacity(n int) *Cloud {
	return &Cloud{points: make([]Point, 0, n)}
}

// Add appends a point and folds it into the metadata.
func (c *Cloud) Add(p Point) {
	if !c.inited {
		c.meta = Meta{
			MinX: math.MaxFloat64, MaxX: -math.MaxFloat64,
			MinY: math.MaxFloat64, MaxY: -math.MaxFloat64,
			MinZ: math.MaxFloat64, MaxZ: -math.MaxFloat64,
		}
		c.inited = true
	}
	m := &c.meta
	m.MinX = math.Min(m.MinX, p.Pos.X)
	m.MaxX = math.Max(m.MaxX, p.Pos.X)
	m.MinY = math.Min(m.MinY, p.Pos.Y)
	m.MaxY = math.Max(m.MaxY, p.Pos.Y)
	m.MinZ = math.Min(m.MinZ, p.Pos.Z)
	m.MaxZ = math.Max(m.MaxZ, p.Pos.Z)
	if p.Gray != 0 {
		m.HasTexture = true
	}
	c.points = append(c.points, p)
}

// Size returns the number of points in the cloud.
func (c *Cloud) Size() int {
	return len(c.points)
}

// At returns the i-th point.
func (c *Cloud) At(i int) Point {
	return c.points[i]
}

// Points returns the backing slice. Callers must treat it as read-only.
func (c *Cloud) Points() []Point {
	return c.points
}

// Meta returns the cloud metadata.
func (c *Cloud) Meta() Meta {
	return c.meta
}
