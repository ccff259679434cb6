package geomath

import "math"

// Plane is the set of points p where Normal·p + D = 0. Frustum planes are
// oriented so the inside halfspace has positive signed distance.
type Plane struct {
	Normal Vec3
	D      float64
}

// DistanceTo returns the signed distance from p to the plane.
func (pl Plane) DistanceTo(p Vec3) float64 {
	return pl.Normal.Dot(p) + pl.D
}

func (pl Plane) normalized() Plane {
	l := pl.Normal.Length()
	if l == 0 {
		return pl
	}
	inv := 1 / l
	return Plane{Normal: pl.Normal.Scale(inv), D: pl.D * inv}
}

// Frustum is a camera view volume as six inward-facing planes, extracted
// from a view-projection matrix (Gribb/Hartmann).
type Frustum struct {
	Planes [6]Plane
}

// FrustumFromMatrix extracts the six clip planes from viewProj.
func FrustumFromMatrix(vp Mat4) Frustum {
	row := func(i int) [4]float64 {
		return [4]float64{vp[i], vp[4+i], vp[8+i], vp[12+i]}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	mk := func(a, b [4]float64, sub bool) Plane {
		var v [4]float64
		for i := range v {
			if sub {
				v[i] = a[i] - b[i]
			} else {
				v[i] = a[i] + b[i]
			}
		}
		return Plane{Normal: Vec3{v[0], v[1], v[2]}, D: v[3]}.normalized()
	}

	var f Frustum
	f.Planes[0] = mk(r3, r0, false) // left
	f.Planes[1] = mk(r3, r0, true)  // right
	f.Planes[2] = mk(r3, r1, false) // bottom
	f.Planes[3] = mk(r3, r1, true)  // top
	f.Planes[4] = mk(r3, r2, false) // near
	f.Planes[5] = mk(r3, r2, true)  // far
	return f
}

// IntersectsSphere reports whether a sphere is at least partially inside
// the frustum.
func (f *Frustum) IntersectsSphere(center Vec3, radius float64) bool {
	for i := range f.Planes {
		if f.Planes[i].DistanceTo(center) < -radius {
			return false
		}
	}
	return true
}

// IntersectsAABB reports whether an axis-aligned box is at least partially
// inside the frustum.
func (f *Frustum) IntersectsAABB(box AABB) bool {
	for i := range f.Planes {
		n := f.Planes[i].Normal
		// Positive vertex: the box corner furthest along the plane normal.
		p := Vec3{box.Min.X, box.Min.Y, box.Min.Z}
		if n.X >= 0 {
			p.X = box.Max.X
		}
		if n.Y >= 0 {
			p.Y = box.Max.Y
		}
		if n.Z >= 0 {
			p.Z = box.Max.Z
		}
		if f.Planes[i].DistanceTo(p) < 0 {
			return false
		}
	}
	return true
}

// IntersectsOBB reports whether an oriented box given by its center and
// three half-axis vectors is at least partially inside the frustum. The
// test projects the box onto each plane normal; it can report rare false
// positives near corners, never false negatives.
func (f *Frustum) IntersectsOBB(center Vec3, halfAxes [3]Vec3) bool {
	for i := range f.Planes {
		n := f.Planes[i].Normal
		r := math.Abs(n.Dot(halfAxes[0])) +
			math.Abs(n.Dot(halfAxes[1])) +
			math.Abs(n.Dot(halfAxes[2]))
		if f.Planes[i].DistanceTo(center) < -r {
			return false
		}
	}
	return true
}
