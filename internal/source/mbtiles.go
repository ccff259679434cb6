package source

import (
	"bytes"
	"context"
	"errors"
	"image"
	"log/slog"
	"math"

	_ "image/jpeg" // tile decoders
	_ "image/png"

	"github.com/paulmach/orb/maptile"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/tilescene/internal/crs"
	"github.com/MeKo-Tech/tilescene/internal/mbtiles"
)

// MBTilesConfig configures an MBTiles-backed source.
type MBTilesConfig struct {
	// Path of the .mbtiles archive.
	Path string
	// Registry projects request extents into tile space; defaults to the
	// process registry.
	Registry *crs.Registry
	// Logger for read diagnostics.
	Logger *slog.Logger
}

// MBTiles serves imagery textures from a sqlite tile archive. A request's
// extent is mapped to the slippy tile containing its center at the zoom
// matching the request level.
type MBTiles struct {
	reader *mbtiles.Reader
	meta   mbtiles.Metadata
	reg    *crs.Registry
	logger *slog.Logger
}

// NewMBTiles opens the archive and reads its metadata.
func NewMBTiles(cfg MBTilesConfig) (*MBTiles, error) {
	if cfg.Registry == nil {
		cfg.Registry = crs.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r, err := mbtiles.OpenReader(cfg.Path)
	if err != nil {
		return nil, err
	}
	meta, err := r.Metadata()
	if err != nil {
		r.Close()
		return nil, err
	}
	return &MBTiles{reader: r, meta: meta, reg: cfg.Registry, logger: cfg.Logger}, nil
}

// Metadata returns the archive metadata.
func (m *MBTiles) Metadata() mbtiles.Metadata { return m.meta }

// Close releases the archive.
func (m *MBTiles) Close() error { return m.reader.Close() }

// tileFor maps a request to the archive tile covering its extent center.
func (m *MBTiles) tileFor(req Request) maptile.Tile {
	zoom := m.meta.MinZoom + req.Level
	if zoom > m.meta.MaxZoom {
		zoom = m.meta.MaxZoom
	}
	geo := m.reg.Project(req.Extent.CRS, crs.Geographic, req.Extent.Center())
	return maptile.At(geo, maptile.Zoom(zoom))
}

// GetData serves color texture requests from the archive. Elevation and
// tile-content requests are permanent failures: the archive only holds
// imagery.
func (m *MBTiles) GetData(ctx context.Context, req Request) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Kind != KindColor {
		return nil, PermanentErrorf("mbtiles archive holds imagery only (kind %d)", req.Kind)
	}
	t := m.tileFor(req)
	data, err := m.reader.ReadTile(int(t.Z), int(t.X), int(t.Y))
	if errors.Is(err, mbtiles.ErrTileNotFound) {
		// A hole in the archive will not fill itself on retry.
		return nil, Permanent(err)
	}
	if err != nil {
		return nil, eris.Wrap(err, "read tile")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Permanent(eris.Wrap(err, "decode tile image"))
	}
	return &TextureTile{Extent: req.Extent, Image: img}, nil
}

// Preload warms the requests in parallel, bounded at workers, and returns
// the number of tiles that loaded. Holes are skipped, real errors abort.
func (m *MBTiles) Preload(ctx context.Context, reqs []Request, workers int) (int, error) {
	if workers <= 0 {
		workers = 4
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	loaded := make([]bool, len(reqs))
	for i, req := range reqs {
		g.Go(func() error {
			_, err := m.GetData(ctx, req)
			if err != nil {
				if IsPermanent(err) {
					return nil
				}
				return err
			}
			loaded[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	n := 0
	for _, ok := range loaded {
		if ok {
			n++
		}
	}
	return n, nil
}

// LevelForResolution suggests the request level whose archive zoom best
// matches metersPerPixel at the archive's latitude band.
func (m *MBTiles) LevelForResolution(metersPerPixel float64) int {
	if metersPerPixel <= 0 {
		return m.meta.MaxZoom - m.meta.MinZoom
	}
	// Web mercator: ~156543 m/px at zoom 0 for 256px tiles.
	zoom := int(math.Round(math.Log2(156543.03 / metersPerPixel)))
	if zoom < m.meta.MinZoom {
		zoom = m.meta.MinZoom
	}
	if zoom > m.meta.MaxZoom {
		zoom = m.meta.MaxZoom
	}
	return zoom - m.meta.MinZoom
}
