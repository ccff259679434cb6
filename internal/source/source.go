// Package source defines the contract between the update core and content
// providers: a Source answers one request per tile with a tagged payload
// (mesh surface, texture tile, point batch or sub-tileset). Sources reject
// with transient errors by default; a permanent rejection tells the
// traversal to stop asking.
package source

import (
	"context"
	"errors"
	"image"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/MeKo-Tech/tilescene/internal/bounds"
	"github.com/MeKo-Tech/tilescene/internal/tileindex"
)

// ContentKind selects what a request asks for.
type ContentKind int

const (
	// KindElevation requests a heightfield surface.
	KindElevation ContentKind = iota
	// KindColor requests an imagery texture.
	KindColor
	// KindTileContent requests a 3D Tiles content payload by URI.
	KindTileContent
)

// Request identifies the content wanted for one node.
type Request struct {
	// Key is the deduplication key the owner enqueued under.
	Key string
	// Extent is the node's footprint, for map-shaped sources.
	Extent bounds.Extent
	// Level, X, Y address the node inside its tree.
	Level, X, Y int
	// URI addresses 3D Tiles content.
	URI string
	// Kind selects the payload type.
	Kind ContentKind
	// Layer names the requesting layer, empty outside map entities.
	Layer string
}

// Payload is the tagged content variant.
type Payload interface{ isPayload() }

// MeshSurface is a regular heightfield grid over an extent. Heights are
// row-major, GridSize x GridSize, south-west origin.
type MeshSurface struct {
	Extent   bounds.Extent
	GridSize int
	Heights  []float64
}

func (*MeshSurface) isPayload() {}

// MinMax returns the height range of the surface.
func (m *MeshSurface) MinMax() (min, max float64) {
	if len(m.Heights) == 0 {
		return 0, 0
	}
	min, max = m.Heights[0], m.Heights[0]
	for _, h := range m.Heights[1:] {
		if h < min {
			min = h
		}
		if h > max {
			max = h
		}
	}
	return min, max
}

// TextureTile is an imagery tile over an extent.
type TextureTile struct {
	Extent bounds.Extent
	Image  image.Image
}

func (*TextureTile) isPayload() {}

// PointBatch is a point-cloud payload with XYZ coordinates.
type PointBatch struct {
	Points *geom.MultiPoint
}

func (*PointBatch) isPayload() {}

// SubTileset is a tileset JSON fetched as a leaf's content.
type SubTileset struct {
	Tileset *tileindex.Tileset
	BaseURL string
}

func (*SubTileset) isPayload() {}

// Source yields content for nodes.
type Source interface {
	GetData(ctx context.Context, req Request) (Payload, error)
}

// errPermanent marks rejections that must not be retried.
var errPermanent = eris.New("permanent source failure")

// Permanent wraps err so IsPermanent reports true.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return eris.Wrap(errors.Join(errPermanent, err), "content unavailable")
}

// PermanentErrorf builds a permanent failure from a format string.
func PermanentErrorf(format string, args ...any) error {
	return Permanent(eris.Errorf(format, args...))
}

// IsPermanent reports whether err marks content as gone for good. Anything
// else is treated as transient and may be retried on a later frame.
func IsPermanent(err error) bool {
	return errors.Is(err, errPermanent)
}
