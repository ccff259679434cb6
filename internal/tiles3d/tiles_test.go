package tiles3d

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/tilescene/internal/bounds"
	"github.com/MeKo-Tech/tilescene/internal/geomath"
	"github.com/MeKo-Tech/tilescene/internal/scene"
	"github.com/MeKo-Tech/tilescene/internal/source"
	"github.com/MeKo-Tech/tilescene/internal/tileindex"
)

const replaceTileset = `{
  "asset": {"version": "1.0"},
  "geometricError": 128,
  "root": {
    "boundingVolume": {"sphere": [0,0,0, 100]},
    "geometricError": 64,
    "refine": "REPLACE",
    "content": {"uri": "root.b3dm"},
    "children": [
      {"boundingVolume": {"sphere": [-50,-50,0, 50]}, "geometricError": 32, "content": {"uri": "c0.b3dm"}},
      {"boundingVolume": {"sphere": [50,-50,0, 50]}, "geometricError": 32, "content": {"uri": "c1.b3dm"}},
      {"boundingVolume": {"sphere": [-50,50,0, 50]}, "geometricError": 32, "content": {"uri": "c2.b3dm"}},
      {"boundingVolume": {"sphere": [50,50,0, 50]}, "geometricError": 32, "content": {"uri": "c3.b3dm"}}
    ]
  }
}`

func contentSource(uris ...string) *source.Static {
	s := source.NewStatic(nil)
	for _, uri := range uris {
		s.AddPayload(uri, &source.MeshSurface{GridSize: 2, Heights: make([]float64, 4)})
	}
	return s
}

func newTilesEntity(t *testing.T, tilesetJSON string, src source.Source) *Tiles {
	t.Helper()
	ts, err := tileindex.ParseTileset([]byte(tilesetJSON))
	require.NoError(t, err)
	entity, err := New(Config{ID: "tiles", Tileset: ts, Source: src})
	require.NoError(t, err)
	return entity
}

func tilesLoop(entity *Tiles) *scene.MainLoop {
	cam := scene.NewCamera(1280, 720)
	cam.Position = geomath.Vec3{Z: 500}
	cam.Target = geomath.Vec3{}
	cam.Up = geomath.Vec3{Y: 1}
	cam.UpdateMatrix()

	loop := scene.NewMainLoop(scene.Config{Camera: cam})
	if err := loop.AddEntity(entity); err != nil {
		panic(err)
	}
	return loop
}

func settle(t *testing.T, loop *scene.MainLoop, entity *Tiles) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if loop.Queue().PendingRequests() == 0 &&
			loop.Queue().ConcurrentRequests() == 0 &&
			!entity.Loading() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("scene never settled")
}

func displayedIDs(entity *Tiles) []int64 {
	var out []int64
	for _, n := range entity.Displayed() {
		out = append(out, n.NodeID())
	}
	return out
}

func TestReplaceSwapAndReverseSwap(t *testing.T) {
	src := contentSource("root.b3dm", "c0.b3dm", "c1.b3dm", "c2.b3dm", "c3.b3dm")
	entity := newTilesEntity(t, replaceTileset, src)
	loop := tilesLoop(entity)

	for i := 0; i < 3; i++ {
		loop.Step(context.Background())
		settle(t, loop, entity)
	}

	ids := displayedIDs(entity)
	assert.Len(t, ids, 4, "four children should replace the root")
	assert.NotContains(t, ids, entity.Root().ID, "root must be hidden after the swap")

	// Simulate culling three children: move their volumes out of view.
	entity.mu.Lock()
	far := geomath.Vec3{X: 1e9}
	for _, c := range entity.Root().Children[:3] {
		c.Volume = bounds.NewSphere(far, 1)
	}
	entity.mu.Unlock()

	for i := 0; i < 2; i++ {
		loop.Step(context.Background())
		settle(t, loop, entity)
	}

	ids = displayedIDs(entity)
	assert.Contains(t, ids, entity.Root().ID, "root must reclaim the display when children drop out")
	for _, c := range entity.Root().Children {
		assert.NotContains(t, ids, c.ID, "children must yield while the root is displayed")
	}
}

const additiveTileset = `{
  "asset": {"version": "1.0"},
  "geometricError": 128,
  "root": {
    "boundingVolume": {"sphere": [0,0,0, 100]},
    "geometricError": 64,
    "refine": "ADD",
    "content": {"uri": "root.b3dm"},
    "children": [
      {"boundingVolume": {"sphere": [0,0,0, 50]}, "geometricError": 4, "content": {"uri": "detail.b3dm"}}
    ]
  }
}`

func TestAdditiveRefinementDisplaysParentAndChild(t *testing.T) {
	src := contentSource("root.b3dm", "detail.b3dm")
	entity := newTilesEntity(t, additiveTileset, src)
	loop := tilesLoop(entity)

	for i := 0; i < 3; i++ {
		loop.Step(context.Background())
		settle(t, loop, entity)
	}

	ids := displayedIDs(entity)
	assert.Contains(t, ids, entity.Root().ID, "additive root stays displayed")
	assert.Contains(t, ids, entity.Root().Children[0].ID, "additive child adds detail")
}

const leafTileset = `{
  "asset": {"version": "1.0"},
  "geometricError": 128,
  "root": {
    "boundingVolume": {"sphere": [0,0,0, 100]},
    "geometricError": 64,
    "refine": "REPLACE",
    "content": {"uri": "sub/tileset.json"}
  }
}`

const grafted = `{
  "asset": {"version": "1.0"},
  "geometricError": 64,
  "root": {
    "boundingVolume": {"sphere": [0,0,0, 80]},
    "geometricError": 8,
    "content": {"uri": "inner.b3dm"}
  }
}`

func TestSubTilesetExtension(t *testing.T) {
	src := source.NewStatic(nil)
	src.AddRaw("sub/tileset.json", []byte(grafted))
	src.AddPayload("sub/inner.b3dm", &source.MeshSurface{GridSize: 2, Heights: make([]float64, 4)})

	entity := newTilesEntity(t, leafTileset, src)
	loop := tilesLoop(entity)
	before := entity.Index().Len()

	for i := 0; i < 4; i++ {
		loop.Step(context.Background())
		settle(t, loop, entity)
	}

	root := entity.Root()
	assert.True(t, root.IsTileset, "leaf must be marked as tileset host")
	assert.Equal(t, before+1, entity.Index().Len(), "graft must register its nodes")
	require.Len(t, root.Children, 1)
	graftRoot := root.Children[0]
	assert.Equal(t, root.World, graftRoot.World, "graft inherits accumulated transform")

	// The grafted content ends up displayed.
	assert.Contains(t, displayedIDs(entity), graftRoot.ID)

	// Only one fetch of the tileset JSON despite repeated frames.
	assert.Equal(t, 1, src.Calls("sub/tileset.json"))
}

func TestBrokenSubTilesetMakesLeafPermanent(t *testing.T) {
	src := source.NewStatic(nil)
	src.AddRaw("sub/tileset.json", []byte(`{"asset": {"version": "1.0"}}`))

	entity := newTilesEntity(t, leafTileset, src)
	loop := tilesLoop(entity)

	for i := 0; i < 3; i++ {
		loop.Step(context.Background())
		settle(t, loop, entity)
	}

	root := entity.Root()
	assert.False(t, root.IsTileset)
	assert.Empty(t, root.Children, "broken graft must leave the node a leaf")
	assert.True(t, root.Permanent, "broken graft must not be refetched")
	assert.Equal(t, 1, src.Calls("sub/tileset.json"))
}

const vrvTileset = `{
  "asset": {"version": "1.0"},
  "geometricError": 128,
  "root": {
    "boundingVolume": {"sphere": [0,0,0, 100]},
    "viewerRequestVolume": {"sphere": [5000,0,0, 10]},
    "geometricError": 64,
    "content": {"uri": "root.b3dm"}
  }
}`

func TestViewerRequestVolumeGatesVisibility(t *testing.T) {
	src := contentSource("root.b3dm")
	entity := newTilesEntity(t, vrvTileset, src)
	loop := tilesLoop(entity)

	loop.Step(context.Background())
	settle(t, loop, entity)
	assert.Empty(t, entity.Displayed(), "camera outside the viewer-request volume")
	assert.Equal(t, 0, src.Calls("root.b3dm"), "gated node must not fetch")
}

func TestFailureClassification(t *testing.T) {
	src := source.NewStatic(nil)
	src.Fail("root.b3dm", context.DeadlineExceeded)
	for _, uri := range []string{"c0.b3dm", "c1.b3dm", "c2.b3dm", "c3.b3dm"} {
		src.Fail(uri, source.PermanentErrorf("gone"))
	}

	entity := newTilesEntity(t, replaceTileset, src)
	loop := tilesLoop(entity)

	loop.Step(context.Background())
	settle(t, loop, entity)

	root := entity.Root()
	assert.Equal(t, tileindex.ContentFailed, root.State)
	assert.False(t, root.Permanent, "deadline errors are transient")
	child := root.Children[0]
	assert.Equal(t, tileindex.ContentFailed, child.State)
	assert.True(t, child.Permanent)

	// Transient content is re-requested on the next frame, permanent is
	// not.
	loop.Step(context.Background())
	settle(t, loop, entity)
	assert.Equal(t, 2, src.Calls("root.b3dm"))
	assert.Equal(t, 1, src.Calls("c0.b3dm"))
}

func TestCleanupReleasesContent(t *testing.T) {
	src := contentSource("root.b3dm", "c0.b3dm", "c1.b3dm", "c2.b3dm", "c3.b3dm")
	ts, err := tileindex.ParseTileset([]byte(replaceTileset))
	require.NoError(t, err)
	entity, err := New(Config{ID: "tiles", Tileset: ts, Source: src, CleanupDelay: 2})
	require.NoError(t, err)
	loop := tilesLoop(entity)

	for i := 0; i < 3; i++ {
		loop.Step(context.Background())
		settle(t, loop, entity)
	}
	require.Len(t, displayedIDs(entity), 4)

	// Aim elsewhere: the whole tree leaves the display set.
	cam := loop.Camera()
	cam.Position = geomath.Vec3{X: 1e8, Z: 500}
	cam.Target = geomath.Vec3{X: 1e8}
	cam.UpdateMatrix()

	for i := 0; i < 6; i++ {
		loop.Step(context.Background())
		settle(t, loop, entity)
	}

	for _, c := range entity.Root().Children {
		assert.Equal(t, tileindex.ContentMissing, c.State, "child %d content not released", c.ID)
		assert.Nil(t, c.Payload)
	}
}
