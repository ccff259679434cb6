package bounds

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/tilescene/internal/crs"
	"github.com/MeKo-Tech/tilescene/internal/geomath"
)

func lookDownFrustum(eye geomath.Vec3) *geomath.Frustum {
	view := geomath.LookAt(eye, geomath.Vec3{X: eye.X, Y: eye.Y, Z: 0}, geomath.Vec3{Y: 1})
	proj := geomath.Perspective(math.Pi/3, 1, 1, 100000)
	fr := geomath.FrustumFromMatrix(proj.Mul(view))
	return &fr
}

func TestCullingRoundTrip(t *testing.T) {
	reg := crs.NewRegistry()
	fr := lookDownFrustum(geomath.Vec3{X: 0, Y: 0, Z: 1000})
	id := geomath.Identity()

	inside := NewSphere(geomath.Vec3{}, 10)
	assert.True(t, inside.Visible(id, fr, reg), "sphere under the camera")

	outside := NewSphere(geomath.Vec3{X: 1e6}, 10)
	assert.False(t, outside.Visible(id, fr, reg), "sphere far to the side")

	// A sphere large enough to straddle the side planes intersects.
	straddling := NewSphere(geomath.Vec3{X: 1000}, 800)
	assert.True(t, straddling.Visible(id, fr, reg), "sphere crossing the frustum boundary")
}

func TestBoxCullingWithWorldMatrix(t *testing.T) {
	reg := crs.NewRegistry()
	fr := lookDownFrustum(geomath.Vec3{X: 0, Y: 0, Z: 1000})

	box := NewBox(geomath.Vec3{}, [3]geomath.Vec3{{X: 5}, {Y: 5}, {Z: 5}})
	assert.True(t, box.Visible(geomath.Identity(), fr, reg))

	away := geomath.Translation(geomath.Vec3{X: 1e6})
	assert.False(t, box.Visible(away, fr, reg), "box translated out of view")
}

func TestSSEMonotonicity(t *testing.T) {
	const preSSE = 500.0
	const geomErr = 10.0
	prev := math.Inf(1)
	for _, d := range []float64{10, 100, 1000, 10000} {
		sse := ScreenSpaceError(geomErr, d, preSSE)
		require.Less(t, sse, prev, "SSE must shrink as the camera recedes (d=%v)", d)
		prev = sse
	}
}

func TestSSEZeroGeometricError(t *testing.T) {
	assert.Zero(t, ScreenSpaceError(0, 100, 500))
}

func TestSphereDistance(t *testing.T) {
	reg := crs.NewRegistry()
	s := NewSphere(geomath.Vec3{}, 5)
	assert.InDelta(t, 5, s.Distance(geomath.Identity(), geomath.Vec3{X: 10}, reg), 1e-9)
	assert.Zero(t, s.Distance(geomath.Identity(), geomath.Vec3{X: 2}, reg), "inside the sphere")
}

func TestDecodeBox(t *testing.T) {
	d := Descriptor{Box: []float64{1, 2, 3, 10, 0, 0, 0, 20, 0, 0, 0, 30}}
	v, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindBox, v.Kind())

	reg := crs.NewRegistry()
	// Center (1,2,3), half extents (10,20,30).
	assert.Zero(t, v.Distance(geomath.Identity(), geomath.Vec3{X: 1, Y: 2, Z: 3}, reg))
	assert.InDelta(t, 9, v.Distance(geomath.Identity(), geomath.Vec3{X: 20, Y: 2, Z: 3}, reg), 1e-9)
}

func TestDecodeSphereAndRegion(t *testing.T) {
	v, err := Descriptor{Sphere: []float64{0, 0, 0, 7}}.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindSphere, v.Kind())

	v, err = Descriptor{Region: []float64{0.1, 0.8, 0.2, 0.9, 0, 500}}.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindRegion, v.Kind())
	assert.Equal(t, 500.0, v.RegionData().MaxHeight)
}

func TestDecodeRejectsMalformedArrays(t *testing.T) {
	_, err := Descriptor{Box: []float64{1, 2, 3}}.Decode()
	assert.Error(t, err)
	_, err = Descriptor{Sphere: []float64{1}}.Decode()
	assert.Error(t, err)
	_, err = Descriptor{}.Decode()
	assert.Error(t, err)
}

func TestZeroSizeVolumePanics(t *testing.T) {
	assert.Panics(t, func() {
		NewBox(geomath.Vec3{}, [3]geomath.Vec3{})
	})
	assert.Panics(t, func() {
		NewSphere(geomath.Vec3{}, 0)
	})
	assert.Panics(t, func() {
		NewRegion(Region{West: 1, East: 1, South: 0, North: 1})
	})
}

func TestVolumeExtentProjection(t *testing.T) {
	reg := crs.NewRegistry()

	box := NewBox(geomath.Vec3{X: 100, Y: 200}, [3]geomath.Vec3{{X: 10}, {Y: 20}, {Z: 5}})
	e := box.Extent(geomath.Identity(), crs.WebMercator, reg)
	assert.Equal(t, crs.WebMercator, e.CRS)
	assert.InDelta(t, 20, e.Width(), 1e-9)
	assert.InDelta(t, 40, e.Height(), 1e-9)
	assert.InDelta(t, 100, e.Center()[0], 1e-9)

	// A region's footprint converts through the registry.
	region := NewRegion(Region{West: 0, South: 0, East: 0.01, North: 0.01, MinHeight: 0, MaxHeight: 100})
	re := region.Extent(geomath.Identity(), crs.WebMercator, reg)
	assert.Greater(t, re.Width(), 0.0)
	assert.Greater(t, re.Height(), 0.0)
}

func TestExtentSplitQuad(t *testing.T) {
	e := NewExtent(crs.WebMercator, 0, 0, 1024, 1024)
	quads := e.SplitQuad()
	// Deterministic order: SW, SE, NW, NE.
	assert.Equal(t, NewExtent(crs.WebMercator, 0, 0, 512, 512), quads[0])
	assert.Equal(t, NewExtent(crs.WebMercator, 512, 0, 1024, 512), quads[1])
	assert.Equal(t, NewExtent(crs.WebMercator, 0, 512, 512, 1024), quads[2])
	assert.Equal(t, NewExtent(crs.WebMercator, 512, 512, 1024, 1024), quads[3])
	for _, q := range quads {
		assert.True(t, e.Contains(q, 1e-9), "child extent escapes parent")
	}
}

func TestExtentContainsWithEpsilon(t *testing.T) {
	e := NewExtent(crs.WebMercator, 0, 0, 100, 100)
	slightly := NewExtent(crs.WebMercator, -1e-12, 0, 100, 100)
	assert.True(t, e.Contains(slightly, 1e-9))
	assert.False(t, e.Contains(NewExtent(crs.WebMercator, -10, 0, 100, 100), 1e-9))
}

func TestExtentOBBFlatTerrainHasThickness(t *testing.T) {
	e := NewExtent(crs.WebMercator, 0, 0, 100, 100)
	_, halfAxes := e.OBB(0, 0)
	assert.Greater(t, halfAxes[2].Z, 0.0)
}
