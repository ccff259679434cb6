package bounds

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/MeKo-Tech/tilescene/internal/crs"
	"github.com/MeKo-Tech/tilescene/internal/geomath"
)

// Extent is a rectangle in a projected CRS.
type Extent struct {
	CRS   string
	Bound orb.Bound
}

// NewExtent builds an extent from its corner coordinates.
func NewExtent(code string, minX, minY, maxX, maxY float64) Extent {
	if maxX < minX {
		minX, maxX = maxX, minX
	}
	if maxY < minY {
		minY, maxY = maxY, minY
	}
	return Extent{CRS: code, Bound: orb.Bound{
		Min: orb.Point{minX, minY},
		Max: orb.Point{maxX, maxY},
	}}
}

// Center returns the extent's center point.
func (e Extent) Center() orb.Point {
	return orb.Point{
		(e.Bound.Min[0] + e.Bound.Max[0]) / 2,
		(e.Bound.Min[1] + e.Bound.Max[1]) / 2,
	}
}

// Width returns the extent's x dimension.
func (e Extent) Width() float64 { return e.Bound.Max[0] - e.Bound.Min[0] }

// Height returns the extent's y dimension.
func (e Extent) Height() float64 { return e.Bound.Max[1] - e.Bound.Min[1] }

// Diagonal returns the extent's diagonal length.
func (e Extent) Diagonal() float64 {
	w, h := e.Width(), e.Height()
	return geomath.Vec3{X: w, Y: h}.Length()
}

// To reprojects the extent into the target CRS through the registry.
func (e Extent) To(code string, reg *crs.Registry) Extent {
	if code == e.CRS {
		return e
	}
	return Extent{CRS: code, Bound: reg.ProjectBound(e.CRS, code, e.Bound)}
}

// ContainsPoint reports whether p lies inside the extent (borders
// included).
func (e Extent) ContainsPoint(p orb.Point) bool {
	return p[0] >= e.Bound.Min[0] && p[0] <= e.Bound.Max[0] &&
		p[1] >= e.Bound.Min[1] && p[1] <= e.Bound.Max[1]
}

// Contains reports whether o lies fully inside the extent, within eps to
// absorb floating point drift from repeated subdivision.
func (e Extent) Contains(o Extent, eps float64) bool {
	if o.CRS != e.CRS {
		panic(fmt.Sprintf("bounds: comparing extents across CRS (%s vs %s)", e.CRS, o.CRS))
	}
	return o.Bound.Min[0] >= e.Bound.Min[0]-eps &&
		o.Bound.Min[1] >= e.Bound.Min[1]-eps &&
		o.Bound.Max[0] <= e.Bound.Max[0]+eps &&
		o.Bound.Max[1] <= e.Bound.Max[1]+eps
}

// Intersects reports whether the two extents overlap.
func (e Extent) Intersects(o Extent) bool {
	if o.CRS != e.CRS {
		panic(fmt.Sprintf("bounds: comparing extents across CRS (%s vs %s)", e.CRS, o.CRS))
	}
	return e.Bound.Min[0] <= o.Bound.Max[0] && e.Bound.Max[0] >= o.Bound.Min[0] &&
		e.Bound.Min[1] <= o.Bound.Max[1] && e.Bound.Max[1] >= o.Bound.Min[1]
}

// SplitQuad returns the four child extents in deterministic order:
// south-west, south-east, north-west, north-east.
func (e Extent) SplitQuad() [4]Extent {
	c := e.Center()
	min, max := e.Bound.Min, e.Bound.Max
	return [4]Extent{
		NewExtent(e.CRS, min[0], min[1], c[0], c[1]),
		NewExtent(e.CRS, c[0], min[1], max[0], c[1]),
		NewExtent(e.CRS, min[0], c[1], c[0], max[1]),
		NewExtent(e.CRS, c[0], c[1], max[0], max[1]),
	}
}

// OBB returns the extent as an oriented box spanning minHeight..maxHeight,
// for frustum culling of map tiles.
func (e Extent) OBB(minHeight, maxHeight float64) (center geomath.Vec3, halfAxes [3]geomath.Vec3) {
	c := e.Center()
	center = geomath.Vec3{X: c[0], Y: c[1], Z: (minHeight + maxHeight) / 2}
	halfAxes = [3]geomath.Vec3{
		{X: e.Width() / 2},
		{Y: e.Height() / 2},
		{Z: (maxHeight - minHeight) / 2},
	}
	if halfAxes[2].Z == 0 {
		// Flat terrain still needs a sliver of thickness for the culling
		// planes to bite on.
		halfAxes[2].Z = 0.5
	}
	return center, halfAxes
}
