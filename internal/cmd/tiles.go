package cmd

import (
	"path/filepath"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/MeKo-Tech/tilescene/internal/source"
	"github.com/MeKo-Tech/tilescene/internal/tileindex"
	"github.com/MeKo-Tech/tilescene/internal/tiles3d"
)

// tiles3dEntity builds a 3D Tiles entity over a tileset file, serving
// content from the tileset's directory. Binary payloads are stood in by
// placeholder geometry: the simulation observes the update lifecycle, not
// parsed meshes.
func tiles3dEntity(ts *tileindex.Tileset, path string) (*tiles3d.Tiles, error) {
	dir := filepath.Dir(path)
	src := source.NewFS(dir, placeholderDecoder)
	return tiles3d.New(tiles3d.Config{
		ID:      "tiles",
		Tileset: ts,
		Source:  src,
		Logger:  logger,
	})
}

// placeholderDecoder stands in for the renderer-side content parsers.
func placeholderDecoder(uri string, data []byte) (source.Payload, error) {
	if strings.HasSuffix(strings.ToLower(uri), ".pnts") {
		return &source.PointBatch{Points: geom.NewMultiPoint(geom.XYZ)}, nil
	}
	return &source.MeshSurface{GridSize: 2, Heights: make([]float64, 4)}, nil
}
