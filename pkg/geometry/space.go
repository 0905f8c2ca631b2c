package geometry

import "math"

// Ray is a half-line from an origin along a unit direction.
type Ray struct {
	Origin Vec3 `json:"origin"`
	Dir    Vec3 `json:"dir"`
}

// NewRay creates a ray, normalizing the direction.
func NewRay(origin, dir Vec3) Ray {
	return Ray{Origin: origin, Dir: dir.Normalize()}
}

// At returns the point at parameter t along the ray.
func (r Ray) At(t float64) Vec3 {
	return r.Origin.Add(r.Dir.Scale(t))
}

// Plane is the set of points p with Normal·p + D = 0. Normal is unit length.
type Plane struct {
	Normal Vec3    `json:"normal"`
	D      float64 `json:"d"`
}

// NewPlane creates a plane from a unit-length normal and a point on the plane.
func NewPlane(normal, point Vec3) Plane {
	n := normal.Normalize()
	return Plane{Normal: n, D: -n.Dot(point)}
}

// PlaneFromPoints creates the plane through three points. Returns false if the
// points are collinear.
func PlaneFromPoints(a, b, c Vec3) (Plane, bool) {
	n := b.Sub(a).Cross(c.Sub(a))
	if n.Norm() < 1e-12 {
		return Plane{}, false
	}
	return NewPlane(n, a), true
}

// SignedDistance returns the signed distance from a point to the plane.
func (p Plane) SignedDistance(pt Vec3) float64 {
	return p.Normal.Dot(pt) + p.D
}

// IntersectRay intersects a ray with the plane. The second return is the ray
// parameter t, and ok is false when the ray is parallel to the plane (the
// caller drops such pixels rather than treating them as errors).
func (p Plane) IntersectRay(r Ray, eps float64) (Vec3, float64, bool) {
	denom := p.Normal.Dot(r.Dir)
	if math.Abs(denom) < eps {
		return Vec3{}, 0, false
	}
	t := -(p.Normal.Dot(r.Origin) + p.D) / denom
	return r.At(t), t, true
}

// Axis is an oriented line in space: the turntable rotation axis. Dir is unit
// length; Point is any point on the line.
type Axis struct {
	Dir   Vec3 `json:"dir"`
	Point Vec3 `json:"point"`
}

// NewAxis creates an axis, normalizing the direction.
func NewAxis(dir, point Vec3) Axis {
	return Axis{Dir: dir.Normalize(), Point: point}
}

// RotateAbout rotates point p about the axis by the given angle in radians,
// using Rodrigues' rotation formula.
func (a Axis) RotateAbout(p Vec3, radians float64) Vec3 {
	v := p.Sub(a.Point)
	k := a.Dir
	cos := math.Cos(radians)
	sin := math.Sin(radians)

	// v' = v cosθ + (k × v) sinθ + k (k·v)(1 − cosθ)
	rot := v.Scale(cos).
		Add(k.Cross(v).Scale(sin)).
		Add(k.Scale(k.Dot(v) * (1 - cos)))
	return rot.Add(a.Point)
}
