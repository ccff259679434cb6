package bounds

import (
	"github.com/rotisserie/eris"

	"github.com/MeKo-Tech/tilescene/internal/geomath"
)

// Descriptor is the raw bounding volume of a 3D Tiles tileset: exactly one
// of the arrays is set.
type Descriptor struct {
	Box    []float64 `json:"box,omitempty"`
	Region []float64 `json:"region,omitempty"`
	Sphere []float64 `json:"sphere,omitempty"`
}

// Decode converts the wire arrays into a runtime Volume.
// Box: 0..2 center, 3..5 half-x axis, 6..8 half-y, 9..11 half-z.
// Sphere: center + radius in meters.
// Region: west, south, east, north (radians), min and max height (meters).
func (d Descriptor) Decode() (Volume, error) {
	switch {
	case d.Box != nil:
		if len(d.Box) != 12 {
			return Volume{}, eris.Errorf("bounding box has %d elements, want 12", len(d.Box))
		}
		b := d.Box
		return NewBox(
			geomath.Vec3{X: b[0], Y: b[1], Z: b[2]},
			[3]geomath.Vec3{
				{X: b[3], Y: b[4], Z: b[5]},
				{X: b[6], Y: b[7], Z: b[8]},
				{X: b[9], Y: b[10], Z: b[11]},
			},
		), nil
	case d.Sphere != nil:
		if len(d.Sphere) != 4 {
			return Volume{}, eris.Errorf("bounding sphere has %d elements, want 4", len(d.Sphere))
		}
		s := d.Sphere
		return NewSphere(geomath.Vec3{X: s[0], Y: s[1], Z: s[2]}, s[3]), nil
	case d.Region != nil:
		if len(d.Region) != 6 {
			return Volume{}, eris.Errorf("bounding region has %d elements, want 6", len(d.Region))
		}
		r := d.Region
		return NewRegion(Region{
			West: r[0], South: r[1], East: r[2], North: r[3],
			MinHeight: r[4], MaxHeight: r[5],
		}), nil
	}
	return Volume{}, eris.New("bounding volume descriptor is empty")
}

// IsZero reports whether no variant is present.
func (d Descriptor) IsZero() bool {
	return d.Box == nil && d.Region == nil && d.Sphere == nil
}
