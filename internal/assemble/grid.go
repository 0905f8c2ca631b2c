package assemble

import (
	"math"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/cloud"
)

// grid is a spatial hash over merged points. Cell size equals the duplicate
// separation so a duplicate query only touches the 27 surrounding cells.
type grid struct {
	cell   float64
	points []cloud.Point
	cells  map[cellKey][]int
}

type cellKey struct {
	x, y, z int32
}

func newGrid(cell float64) *grid {
	return &grid{
		cell:  cell,
		cells: make(map[cellKey][]int),
	}
}

func (g *grid) key(p cloud.Point) cellKey {
	return cellKey{
		x: int32(math.Floor(p.Pos.X / g.cell)),
		y: int32(math.Floor(p.Pos.Y / g.cell)),
		z: int32(math.Floor(p.Pos.Z / g.cell)),
	}
}

func (g *grid) size() int {
	return len(g.points)
}

// insert adds a point, or merges it into an existing point within minSep
// keeping the higher confidence. Returns true when the point was a duplicate.
func (g *grid) insert(p cloud.Point, minSep float64) bool {
	k := g.key(p)
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dz := int32(-1); dz <= 1; dz++ {
				nk := cellKey{k.x + dx, k.y + dy, k.z + dz}
				for _, idx := range g.cells[nk] {
					q := &g.points[idx]
					if q.Angle != p.Angle && q.Pos.Distance(p.Pos) < minSep {
						if p.Confidence > q.Confidence {
							*q = p
							// The survivor may land in a different cell
							// than the point it replaced; re-file it so
							// later duplicate queries still find it.
							if newKey := g.key(p); newKey != nk {
								g.cells[nk] = removeIndex(g.cells[nk], idx)
								g.cells[newKey] = append(g.cells[newKey], idx)
							}
						}
						return true
					}
				}
			}
		}
	}
	idx := len(g.points)
	g.points = append(g.points, p)
	g.cells[k] = append(g.cells[k], idx)
	return false
}

func removeIndex(indices []int, idx int) []int {
	for i, v := range indices {
		if v == idx {
			return append(indices[:i], indices[i+1:]...)
		}
	}
	return indices
}

// hasNeighbourFromOtherAngle reports whether any merged point from a
// different capture angle lies within radius of p.
func (g *grid) hasNeighbourFromOtherAngle(p cloud.Point, radius float64) bool {
	reach := int32(math.Ceil(radius / g.cell))
	k := g.key(p)
	for dx := -reach; dx <= reach; dx++ {
		for dy := -reach; dy <= reach; dy++ {
			for dz := -reach; dz <= reach; dz++ {
				nk := cellKey{k.x + dx, k.y + dy, k.z + dz}
				for _, idx := range g.cells[nk] {
					q := g.points[idx]
					if q.Angle != p.Angle && q.Pos.Distance(p.Pos) <= radius {
						return true
					}
				}
			}
		}
	}
	return false
}

func (g *grid) each(fn func(p cloud.Point)) {
	for _, p := range g.points {
		fn(p)
	}
}
