// Package scene holds the per-frame orchestration core: the entity
// contract, the update context handed to traversals, the event hooks, and
// the main loop that drives one frame at a time. Traversal code here is
// strictly synchronous; every suspension lives behind the request queue.
package scene

import (
	"math"

	"github.com/MeKo-Tech/tilescene/internal/geomath"
)

// Camera is the view the traversal culls and measures against. Mutate the
// public fields, then call UpdateMatrix before the next frame.
type Camera struct {
	Position geomath.Vec3
	Target   geomath.Vec3
	Up       geomath.Vec3
	// FovY is the vertical field of view in radians.
	FovY          float64
	Width, Height int
	Near, Far     float64

	viewProj geomath.Mat4
	frustum  geomath.Frustum
	preSSE   float64
}

// NewCamera returns a camera with a 60 degree field of view looking at
// the origin from +z.
func NewCamera(width, height int) *Camera {
	c := &Camera{
		Position: geomath.Vec3{Z: 1000},
		Up:       geomath.Vec3{Y: 1},
		FovY:     math.Pi / 3,
		Width:    width,
		Height:   height,
		Near:     0.1,
		Far:      2_000_000,
	}
	c.UpdateMatrix()
	return c
}

// UpdateMatrix recomputes the view-projection matrix, the frustum and the
// perspective factor from the public fields.
func (c *Camera) UpdateMatrix() {
	aspect := float64(c.Width) / math.Max(1, float64(c.Height))
	view := geomath.LookAt(c.Position, c.Target, c.Up)
	proj := geomath.Perspective(c.FovY, aspect, c.Near, c.Far)
	c.viewProj = proj.Mul(view)
	c.frustum = geomath.FrustumFromMatrix(c.viewProj)
	c.preSSE = float64(c.Height) / (2 * math.Tan(c.FovY/2))
}

// Frustum returns the current view frustum.
func (c *Camera) Frustum() *geomath.Frustum { return &c.frustum }

// ViewProjection returns the combined view-projection matrix.
func (c *Camera) ViewProjection() geomath.Mat4 { return c.viewProj }

// PreSSE returns viewportHeight / (2 tan(fov/2)), the factor that scales
// a geometric error at a distance into pixels.
func (c *Camera) PreSSE() float64 { return c.preSSE }
