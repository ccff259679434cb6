// Package picking turns a cursor position into a tile node. The displayed
// set is rendered with an id+depth+uv encoding into a small buffer around
// the cursor through the renderer's RenderToBuffer, read back, and decoded
// nearest-first; the hit id resolves through the owning entity's index.
package picking

import (
	"image"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/MeKo-Tech/tilescene/internal/scene"
)

// BytesPerPixel is the read-back footprint of one picked texel pair:
// RGBA id texel followed by RGBA depth+uv texel.
const BytesPerPixel = 8

// Resolver maps a decoded node id back to a tile node. Map entities
// resolve through their id table, 3D Tiles entities through their index.
type Resolver func(id int64) any

// Result is a successful pick.
type Result struct {
	NodeID int64
	// Node is the resolved tile, nil when the id is stale.
	Node any
	// Depth is the normalized scene depth at the picked texel.
	Depth float64
	// U, V are the sub-texel coordinates inside the picked tile.
	U, V float64
	// At is the screen position of the winning texel.
	At image.Point
}

// EncodeTexel writes one picked texel pair: 24-bit id with a hit flag,
// 16-bit depth and 8-bit uv. Renderers implementing the picking material
// share this layout with the decoder.
func EncodeTexel(buf []byte, id int64, depth, u, v float64) {
	buf[0] = byte(id >> 16)
	buf[1] = byte(id >> 8)
	buf[2] = byte(id)
	buf[3] = 0xff // hit flag
	d := clamp01(depth)
	d16 := uint16(d * 65535)
	buf[4] = byte(d16 >> 8)
	buf[5] = byte(d16)
	buf[6] = byte(clamp01(u) * 255)
	buf[7] = byte(clamp01(v) * 255)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func decodeTexel(buf []byte) (id int64, depth, u, v float64, hit bool) {
	if buf[3] != 0xff {
		return 0, 0, 0, 0, false
	}
	id = int64(buf[0])<<16 | int64(buf[1])<<8 | int64(buf[2])
	depth = float64(uint16(buf[4])<<8|uint16(buf[5])) / 65535
	u = float64(buf[6]) / 255
	v = float64(buf[7]) / 255
	return id, depth, u, v, true
}

// Pick reads back a (2r+1)^2 zone around the cursor and returns the hit
// closest to it, nil when nothing was rendered there. A completed
// read-back emits picking-end whether or not it hit.
func Pick(loop *scene.MainLoop, renderer scene.Renderer, resolve Resolver, x, y, radius int) (*Result, error) {
	if radius < 0 {
		radius = 0
	}
	side := radius*2 + 1
	zone := image.Rect(x-radius, y-radius, x+radius+1, y+radius+1)

	buf, err := renderer.RenderToBuffer(zone)
	if err != nil {
		return nil, eris.Wrap(err, "picking read-back")
	}
	if len(buf) < side*side*BytesPerPixel {
		return nil, eris.Errorf("picking buffer holds %d bytes, want %d", len(buf), side*side*BytesPerPixel)
	}

	result := decodeNearest(buf, side, radius, resolve)
	if result != nil {
		result.At = result.At.Add(zone.Min)
	}
	loop.Hooks().Emit(scene.EventPickingEnd, result)
	return result, nil
}

// decodeNearest scans texels in order of distance from the zone center.
func decodeNearest(buf []byte, side, radius int, resolve Resolver) *Result {
	type cell struct {
		px, py, d2 int
	}
	cells := make([]cell, 0, side*side)
	for py := 0; py < side; py++ {
		for px := 0; px < side; px++ {
			dx, dy := px-radius, py-radius
			cells = append(cells, cell{px: px, py: py, d2: dx*dx + dy*dy})
		}
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].d2 != cells[j].d2 {
			return cells[i].d2 < cells[j].d2
		}
		if cells[i].py != cells[j].py {
			return cells[i].py < cells[j].py
		}
		return cells[i].px < cells[j].px
	})

	for _, c := range cells {
		off := (c.py*side + c.px) * BytesPerPixel
		id, depth, u, v, hit := decodeTexel(buf[off : off+BytesPerPixel])
		if !hit {
			continue
		}
		var node any
		if resolve != nil {
			node = resolve(id)
		}
		return &Result{
			NodeID: id,
			Node:   node,
			Depth:  depth,
			U:      u,
			V:      v,
			At:     image.Pt(c.px, c.py),
		}
	}
	return nil
}
