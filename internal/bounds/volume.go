// Package bounds implements the tagged bounding volume used for culling
// and screen-space-error decisions: an oriented box, a sphere, or a
// geographic region. A single dispatcher answers visibility, distance and
// extent conversion for all three variants.
package bounds

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/MeKo-Tech/tilescene/internal/crs"
	"github.com/MeKo-Tech/tilescene/internal/geomath"
)

// Kind discriminates the volume variants.
type Kind int

const (
	// KindBox is an oriented box in the node's local frame.
	KindBox Kind = iota
	// KindSphere is a sphere in the node's local frame.
	KindSphere
	// KindRegion is a geographic lat/long/height region.
	KindRegion
)

func (k Kind) String() string {
	switch k {
	case KindBox:
		return "box"
	case KindSphere:
		return "sphere"
	case KindRegion:
		return "region"
	}
	return "unknown"
}

// Region is a WGS84 region: angles in radians, heights in meters.
type Region struct {
	West, South, East, North float64
	MinHeight, MaxHeight     float64
}

// Volume is a tagged bounding volume.
type Volume struct {
	kind     Kind
	center   geomath.Vec3
	halfAxes [3]geomath.Vec3
	radius   float64
	region   Region
}

// NewBox returns a box volume from its center and three half-axis vectors.
// A box with no extent along any axis panics: it can only come from a
// malformed tileset or a caller bug.
func NewBox(center geomath.Vec3, halfAxes [3]geomath.Vec3) Volume {
	size := halfAxes[0].Length() + halfAxes[1].Length() + halfAxes[2].Length()
	if size == 0 {
		panic("bounds: box volume has zero size")
	}
	return Volume{kind: KindBox, center: center, halfAxes: halfAxes}
}

// NewSphere returns a sphere volume.
func NewSphere(center geomath.Vec3, radius float64) Volume {
	if radius <= 0 {
		panic(fmt.Sprintf("bounds: sphere volume with radius %v", radius))
	}
	return Volume{kind: KindSphere, center: center, radius: radius}
}

// NewRegion returns a region volume.
func NewRegion(r Region) Volume {
	if r.East <= r.West || r.North <= r.South {
		panic(fmt.Sprintf("bounds: empty region %+v", r))
	}
	return Volume{kind: KindRegion, region: r}
}

// Kind returns the variant tag.
func (v Volume) Kind() Kind { return v.kind }

// RegionData returns the region payload; only meaningful for KindRegion.
func (v Volume) RegionData() Region { return v.region }

// planarBox returns the region as an axis-aligned box in web-mercator
// world coordinates, heights on z.
func (v Volume) planarBox(reg *crs.Registry) geomath.AABB {
	r := v.region
	toDeg := 180 / math.Pi
	min := reg.Project(crs.Geographic, crs.WebMercator, orb.Point{r.West * toDeg, r.South * toDeg})
	max := reg.Project(crs.Geographic, crs.WebMercator, orb.Point{r.East * toDeg, r.North * toDeg})
	return geomath.NewAABB(
		geomath.Vec3{X: min[0], Y: min[1], Z: r.MinHeight},
		geomath.Vec3{X: max[0], Y: max[1], Z: r.MaxHeight},
	)
}

// Visible reports whether the volume, placed by world, intersects the
// frustum.
func (v Volume) Visible(world geomath.Mat4, fr *geomath.Frustum, reg *crs.Registry) bool {
	switch v.kind {
	case KindSphere:
		center := world.MulPoint(v.center)
		// A non-uniform world scale is not supported for spheres; take the
		// largest axis scale.
		scale := math.Max(world.MulDir(geomath.Vec3{X: 1}).Length(),
			math.Max(world.MulDir(geomath.Vec3{Y: 1}).Length(), world.MulDir(geomath.Vec3{Z: 1}).Length()))
		return fr.IntersectsSphere(center, v.radius*scale)
	case KindBox:
		center := world.MulPoint(v.center)
		axes := [3]geomath.Vec3{
			world.MulDir(v.halfAxes[0]),
			world.MulDir(v.halfAxes[1]),
			world.MulDir(v.halfAxes[2]),
		}
		return fr.IntersectsOBB(center, axes)
	case KindRegion:
		box := v.planarBox(reg).Transform(world)
		return fr.IntersectsAABB(box)
	}
	return false
}

// Distance returns the distance from point to the volume placed by world,
// zero when the point is inside.
func (v Volume) Distance(world geomath.Mat4, point geomath.Vec3, reg *crs.Registry) float64 {
	switch v.kind {
	case KindSphere:
		d := world.MulPoint(v.center).DistanceTo(point) - v.radius
		return math.Max(0, d)
	case KindBox:
		return v.worldAABB(world, reg).DistanceToPoint(point)
	case KindRegion:
		return v.planarBox(reg).Transform(world).DistanceToPoint(point)
	}
	return 0
}

// worldAABB returns the axis-aligned bounds of the volume in world space.
func (v Volume) worldAABB(world geomath.Mat4, reg *crs.Registry) geomath.AABB {
	switch v.kind {
	case KindSphere:
		c := world.MulPoint(v.center)
		r := geomath.Vec3{X: v.radius, Y: v.radius, Z: v.radius}
		return geomath.AABB{Min: c.Sub(r), Max: c.Add(r)}
	case KindBox:
		ext := geomath.Vec3{
			X: math.Abs(v.halfAxes[0].X) + math.Abs(v.halfAxes[1].X) + math.Abs(v.halfAxes[2].X),
			Y: math.Abs(v.halfAxes[0].Y) + math.Abs(v.halfAxes[1].Y) + math.Abs(v.halfAxes[2].Y),
			Z: math.Abs(v.halfAxes[0].Z) + math.Abs(v.halfAxes[1].Z) + math.Abs(v.halfAxes[2].Z),
		}
		local := geomath.AABB{Min: v.center.Sub(ext), Max: v.center.Add(ext)}
		return local.Transform(world)
	case KindRegion:
		return v.planarBox(reg).Transform(world)
	}
	return geomath.AABB{}
}

// Extent projects the volume's footprint to a rectangular extent in the
// target CRS.
func (v Volume) Extent(world geomath.Mat4, targetCRS string, reg *crs.Registry) Extent {
	box := v.worldAABB(world, reg)
	b := orb.Bound{
		Min: orb.Point{box.Min.X, box.Min.Y},
		Max: orb.Point{box.Max.X, box.Max.Y},
	}
	return Extent{CRS: crs.WebMercator, Bound: b}.To(targetCRS, reg)
}

// Contains reports whether point lies inside the volume placed by world.
// Used for viewer-request volumes.
func (v Volume) Contains(world geomath.Mat4, point geomath.Vec3, reg *crs.Registry) bool {
	switch v.kind {
	case KindSphere:
		return world.MulPoint(v.center).DistanceTo(point) <= v.radius
	default:
		return v.worldAABB(world, reg).Contains(point)
	}
}
