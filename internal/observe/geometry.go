package observe

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// CellSize is the edge length, in blocks, of a discovery cell on the horizontal plane.
const CellSize = 8

type Cell struct{ X, Z int }

// Flat projects a position onto the horizontal (x,z) plane.
func (v Vec3) Flat() orb.Point { return orb.Point{float64(v.X), float64(v.Z)} }

func (v Vec3) Cell() Cell {
	return Cell{X: floorDiv(v.X, CellSize), Z: floorDiv(v.Z, CellSize)}
}

// HorizontalDistance ignores altitude.
func HorizontalDistance(a, b Vec3) float64 { return planar.Distance(a.Flat(), b.Flat()) }

func Distance(a, b Vec3) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	dz := float64(a.Z - b.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Centroid returns the horizontal centroid of the given positions.
func Centroid(ps []Vec3) (orb.Point, bool) {
	if len(ps) == 0 {
		return orb.Point{}, false
	}
	mp := make(orb.MultiPoint, 0, len(ps))
	for _, p := range ps {
		mp = append(mp, p.Flat())
	}
	c, _ := planar.CentroidArea(mp)
	return c, true
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
