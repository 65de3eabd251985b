// Package features turns an observation snapshot into the fixed-length state vector
// consumed by the brains.
package features

import (
	"math"
)

// Vector is always Width long.
type Vector []float64

type Segment struct {
	Name   string
	Offset int
	Width  int
}

const (
	VitalsWidth       = 16
	InventoryWidth    = 64
	NeighborhoodWidth = gridDX * gridDZ * gridDY * gridChannels
	EntitiesWidth     = maxEntities * entityFeatures
	EnvironmentWidth  = 16
	GoalWidth         = 16
	SocialWidth       = maxRelationships * relationshipFeatures
	PsycheWidth       = 24
	SkillsWidth       = 12
	SensorsWidth      = 48
)

const (
	gridRadiusXZ = 3
	gridDX       = 2*gridRadiusXZ + 1
	gridDZ       = 2*gridRadiusXZ + 1
	gridDY       = 3
	gridChannels = 3

	maxEntities    = 8
	entityFeatures = 10

	maxRelationships     = 5
	relationshipFeatures = 6
)

// Segments in vector order.
var Segments = buildSegments([]Segment{
	{Name: "vitals", Width: VitalsWidth},
	{Name: "inventory", Width: InventoryWidth},
	{Name: "neighborhood", Width: NeighborhoodWidth},
	{Name: "entities", Width: EntitiesWidth},
	{Name: "environment", Width: EnvironmentWidth},
	{Name: "goal", Width: GoalWidth},
	{Name: "social", Width: SocialWidth},
	{Name: "psyche", Width: PsycheWidth},
	{Name: "skills", Width: SkillsWidth},
	{Name: "sensors", Width: SensorsWidth},
})

// Width is the total feature vector length.
var Width = func() int {
	last := Segments[len(Segments)-1]
	return last.Offset + last.Width
}()

func buildSegments(in []Segment) []Segment {
	off := 0
	for i := range in {
		in[i].Offset = off
		off += in[i].Width
	}
	return in
}

// SegmentOf returns the named segment's slice of v.
func SegmentOf(v Vector, name string) []float64 {
	for _, s := range Segments {
		if s.Name == name {
			return v[s.Offset : s.Offset+s.Width]
		}
	}
	return nil
}

// slot writes sequentially into a fixed-width slice; writes past the end are dropped
// and unwritten entries stay zero.
type slot struct {
	buf []float64
	i   int
}

func (s *slot) put(v float64) {
	if s.i < len(s.buf) {
		s.buf[s.i] = v
	}
	s.i++
}

func (s *slot) flag(b bool) {
	if b {
		s.put(1)
	} else {
		s.put(0)
	}
}

// skip leaves n entries at zero.
func (s *slot) skip(n int) { s.i += n }

// sat divides a count by its saturation constant and clamps to [0,1].
func sat(x, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return clamp(x/limit, 0, 1)
}

func squash(x, scale float64) float64 { return math.Tanh(x / scale) }

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// sanitize zeroes non-finite values and bounds everything to [-1,1].
func sanitize(v Vector) {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			v[i] = 0
			continue
		}
		v[i] = clamp(x, -1, 1)
	}
}
