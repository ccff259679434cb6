// Package tileindex builds and maintains the flat id -> node index over a
// 3D Tiles tree. The index walks the tileset JSON once at load, assigns
// monotonically increasing ids, accumulates world-from-local transforms
// and decodes bounding volume descriptors into their runtime form. Leaves
// whose content resolves to another tileset are grafted in place through
// Extend.
package tileindex

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/MeKo-Tech/tilescene/internal/bounds"
)

// RefineMode tells whether children supersede or complement their parent.
type RefineMode int

const (
	// RefineReplace hides the parent once the children are displayed.
	RefineReplace RefineMode = iota
	// RefineAdd renders children on top of the parent.
	RefineAdd
)

func (m RefineMode) String() string {
	if m == RefineAdd {
		return "ADD"
	}
	return "REPLACE"
}

// Tileset is the root object of a 3D Tiles 1.0 tileset JSON.
type Tileset struct {
	Asset          Asset   `json:"asset"`
	GeometricError float64 `json:"geometricError"`
	Root           *Tile   `json:"root"`
}

// Asset identifies the tileset version.
type Asset struct {
	Version string `json:"version"`
}

// Tile is one tile declaration in a tileset JSON.
type Tile struct {
	BoundingVolume      bounds.Descriptor  `json:"boundingVolume"`
	ViewerRequestVolume *bounds.Descriptor `json:"viewerRequestVolume,omitempty"`
	GeometricError      float64            `json:"geometricError"`
	Refine              string             `json:"refine,omitempty"`
	Transform           []float64          `json:"transform,omitempty"`
	Content             *Content           `json:"content,omitempty"`
	Children            []*Tile            `json:"children,omitempty"`
}

// Content points at a tile's renderable payload.
type Content struct {
	URI string `json:"uri"`
	// URL is the pre-1.0 spelling still found in the wild.
	URL string `json:"url,omitempty"`
}

func (c *Content) uri() string {
	if c == nil {
		return ""
	}
	if c.URI != "" {
		return c.URI
	}
	return c.URL
}

// ParseTileset decodes a tileset JSON document.
func ParseTileset(data []byte) (*Tileset, error) {
	var ts Tileset
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, eris.Wrap(err, "parse tileset json")
	}
	if ts.Root == nil {
		return nil, eris.New("tileset has no root tile")
	}
	return &ts, nil
}

// IsTilesetURI reports whether a content URI names a sub-tileset rather
// than a binary payload.
func IsTilesetURI(uri string) bool {
	base := uri
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	return strings.HasSuffix(strings.ToLower(base), ".json")
}

// resolveURI joins a possibly relative content URI with the tileset base.
func resolveURI(base, ref string) string {
	if base == "" || ref == "" {
		return ref
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ref
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	out := bu.ResolveReference(ru).String()
	if !bu.IsAbs() && bu.Host == "" && !strings.HasPrefix(base, "/") && !strings.HasPrefix(ref, "/") {
		// Reference resolution roots its result at "/"; a relative base
		// keeps the resolved URI relative.
		out = strings.TrimPrefix(out, "/")
	}
	return out
}

func parseRefine(s string, parent RefineMode) (RefineMode, error) {
	switch strings.ToUpper(s) {
	case "":
		return parent, nil
	case "ADD":
		return RefineAdd, nil
	case "REPLACE":
		return RefineReplace, nil
	}
	return RefineReplace, eris.Errorf("unknown refine mode %q", s)
}
