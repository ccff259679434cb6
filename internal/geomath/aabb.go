package geomath

import "math"

// AABB is an axis-aligned box.
type AABB struct {
	Min, Max Vec3
}

// NewAABB returns the box spanning min..max with the components ordered.
func NewAABB(min, max Vec3) AABB {
	if min.X > max.X {
		min.X, max.X = max.X, min.X
	}
	if min.Y > max.Y {
		min.Y, max.Y = max.Y, min.Y
	}
	if min.Z > max.Z {
		min.Z, max.Z = max.Z, min.Z
	}
	return AABB{Min: min, Max: max}
}

// Center returns the box center.
func (b AABB) Center() Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// Size returns the box extents along each axis.
func (b AABB) Size() Vec3 {
	return b.Max.Sub(b.Min)
}

// IsEmpty reports whether the box has zero or negative volume on any axis.
func (b AABB) IsEmpty() bool {
	s := b.Size()
	return s.X <= 0 || s.Y <= 0 || s.Z <= 0
}

// Contains reports whether p lies inside the box (boundaries included).
func (b AABB) Contains(p Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// DistanceToPoint returns the distance from p to the box, 0 when inside.
func (b AABB) DistanceToPoint(p Vec3) float64 {
	dx := math.Max(0, math.Max(b.Min.X-p.X, p.X-b.Max.X))
	dy := math.Max(0, math.Max(b.Min.Y-p.Y, p.Y-b.Max.Y))
	dz := math.Max(0, math.Max(b.Min.Z-p.Z, p.Z-b.Max.Z))
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Transform returns the axis-aligned bounds of the box after applying m to
// its eight corners.
func (b AABB) Transform(m Mat4) AABB {
	if m.IsIdentity() {
		return b
	}
	first := true
	var out AABB
	for _, x := range [2]float64{b.Min.X, b.Max.X} {
		for _, y := range [2]float64{b.Min.Y, b.Max.Y} {
			for _, z := range [2]float64{b.Min.Z, b.Max.Z} {
				p := m.MulPoint(Vec3{x, y, z})
				if first {
					out = AABB{Min: p, Max: p}
					first = false
					continue
				}
				out.Min.X = math.Min(out.Min.X, p.X)
				out.Min.Y = math.Min(out.Min.Y, p.Y)
				out.Min.Z = math.Min(out.Min.Z, p.Z)
				out.Max.X = math.Max(out.Max.X, p.X)
				out.Max.Y = math.Max(out.Max.Y, p.Y)
				out.Max.Z = math.Max(out.Max.Z, p.Z)
			}
		}
	}
	return out
}
