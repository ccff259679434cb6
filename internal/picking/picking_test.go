package picking

import (
	"image"
	"math"
	"testing"

	"github.com/MeKo-Tech/tilescene/internal/scene"
)

// bufferRenderer serves a canned picking buffer for a fixed zone size.
type bufferRenderer struct {
	buf  []byte
	side int
}

func (r *bufferRenderer) Render(scene.View) {}
func (r *bufferRenderer) RenderToBuffer(zone image.Rectangle) ([]byte, error) {
	return r.buf, nil
}
func (r *bufferRenderer) Info() scene.RenderInfo { return scene.RenderInfo{} }

func newBuffer(side int) []byte {
	return make([]byte, side*side*BytesPerPixel)
}

func writeTexel(buf []byte, side, px, py int, id int64, depth, u, v float64) {
	off := (py*side + px) * BytesPerPixel
	EncodeTexel(buf[off:off+BytesPerPixel], id, depth, u, v)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	buf := make([]byte, BytesPerPixel)
	EncodeTexel(buf, 0x0A0B0C, 0.5, 0.25, 0.75)
	id, depth, u, v, hit := decodeTexel(buf)
	if !hit {
		t.Fatal("encoded texel not detected as hit")
	}
	if id != 0x0A0B0C {
		t.Errorf("id = %#x, want 0x0A0B0C", id)
	}
	if math.Abs(depth-0.5) > 1e-4 {
		t.Errorf("depth = %v", depth)
	}
	if math.Abs(u-0.25) > 0.01 || math.Abs(v-0.75) > 0.01 {
		t.Errorf("uv = %v, %v", u, v)
	}
}

func TestPickReturnsNearestHit(t *testing.T) {
	const radius = 3
	side := radius*2 + 1
	buf := newBuffer(side)
	// A far hit in the corner and a near hit one texel from the center.
	writeTexel(buf, side, 0, 0, 111, 0.2, 0, 0)
	writeTexel(buf, side, radius+1, radius, 42, 0.4, 0.5, 0.5)

	loop := scene.NewMainLoop(scene.Config{})
	resolved := map[int64]string{42: "node-42", 111: "node-111"}
	res, err := Pick(loop, &bufferRenderer{buf: buf, side: side}, func(id int64) any {
		return resolved[id]
	}, 100, 100, radius)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatal("expected a hit")
	}
	if res.NodeID != 42 {
		t.Errorf("picked id %d, want the nearer 42", res.NodeID)
	}
	if res.Node != "node-42" {
		t.Errorf("resolved node = %v", res.Node)
	}
	// Zone minimum is (100-3, 100-3); the hit sits one texel east of the
	// cursor.
	if res.At != image.Pt(101, 100) {
		t.Errorf("hit position = %v", res.At)
	}
}

func TestPickMissEmitsPickingEnd(t *testing.T) {
	const radius = 1
	side := radius*2 + 1
	loop := scene.NewMainLoop(scene.Config{})

	events := 0
	loop.Hooks().On(scene.EventPickingEnd, func(any) { events++ })

	res, err := Pick(loop, &bufferRenderer{buf: newBuffer(side), side: side}, nil, 10, 10, radius)
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Errorf("empty buffer produced a hit: %+v", res)
	}
	if events != 1 {
		t.Errorf("picking-end fired %d times, want 1", events)
	}
}

func TestPickRejectsShortBuffer(t *testing.T) {
	loop := scene.NewMainLoop(scene.Config{})
	_, err := Pick(loop, &bufferRenderer{buf: make([]byte, 4)}, nil, 0, 0, 2)
	if err == nil {
		t.Error("expected an error for a truncated buffer")
	}
}
