package maptree

import (
	"image"

	"github.com/disintegration/gift"
	xdraw "golang.org/x/image/draw"

	"github.com/MeKo-Tech/tilescene/internal/source"
)

// LayerKind tells what a layer contributes to a tile.
type LayerKind int

const (
	// LayerColor contributes an imagery texture.
	LayerColor LayerKind = iota
	// LayerElevation contributes the heightfield surface. A map carries at
	// most one elevation layer.
	LayerElevation
)

// Style is a per-layer adjustment applied to textures as they load.
type Style struct {
	// Brightness in percent, -100..100, 0 is neutral.
	Brightness float32
	// Saturation in percent, -100..500, 0 is neutral.
	Saturation float32
}

func (s Style) isNeutral() bool {
	return s.Brightness == 0 && s.Saturation == 0
}

// apply runs the style's filter chain over img.
func (s Style) apply(img image.Image) image.Image {
	if s.isNeutral() {
		return img
	}
	var filters []gift.Filter
	if s.Brightness != 0 {
		filters = append(filters, gift.Brightness(s.Brightness))
	}
	if s.Saturation != 0 {
		filters = append(filters, gift.Saturation(s.Saturation))
	}
	g := gift.New(filters...)
	out := image.NewRGBA(g.Bounds(img.Bounds()))
	g.Draw(out, img)
	return out
}

// Layer is one contribution to a map's tiles.
type Layer struct {
	Name    string
	Kind    LayerKind
	Opacity float64
	Style   Style
	// Source overrides the map's source for this layer when set.
	Source source.Source
}

// quadrant crops the quarter of the parent texture covering child quad q
// (SW, SE, NW, NE) and scales it back to full size. Children inherit
// imagery this way until their own request lands.
func quadrant(img image.Image, q int) image.Image {
	b := img.Bounds()
	hw, hh := b.Dx()/2, b.Dy()/2
	// Image rows run north to south: NW is the top-left quadrant.
	var origin image.Point
	switch q {
	case 0: // SW
		origin = image.Pt(b.Min.X, b.Min.Y+hh)
	case 1: // SE
		origin = image.Pt(b.Min.X+hw, b.Min.Y+hh)
	case 2: // NW
		origin = image.Pt(b.Min.X, b.Min.Y)
	case 3: // NE
		origin = image.Pt(b.Min.X+hw, b.Min.Y)
	}
	crop := image.Rect(origin.X, origin.Y, origin.X+hw, origin.Y+hh)

	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.CatmullRom.Scale(out, out.Bounds(), img, crop, xdraw.Src, nil)
	return out
}

// sampleSurface bilinearly samples a heightfield at normalized (u, v),
// u east, v north, both in [0, 1].
func sampleSurface(s *source.MeshSurface, u, v float64) float64 {
	n := s.GridSize
	fx := u * float64(n-1)
	fy := v * float64(n-1)
	x0, y0 := int(fx), int(fy)
	if x0 >= n-1 {
		x0 = n - 2
	}
	if y0 >= n-1 {
		y0 = n - 2
	}
	tx, ty := fx-float64(x0), fy-float64(y0)

	h00 := s.Heights[y0*n+x0]
	h10 := s.Heights[y0*n+x0+1]
	h01 := s.Heights[(y0+1)*n+x0]
	h11 := s.Heights[(y0+1)*n+x0+1]
	return (h00*(1-tx)+h10*tx)*(1-ty) + (h01*(1-tx)+h11*tx)*ty
}

// deriveChildSurface resamples the quarter of the parent heightfield
// covering child quad q into a full-resolution child surface. The caller
// fills in the child extent.
func deriveChildSurface(parent *source.MeshSurface, q int) *source.MeshSurface {
	n := parent.GridSize
	heights := make([]float64, n*n)
	// Quad offsets in normalized parent space, SW origin.
	var u0, v0 float64
	switch q {
	case 1:
		u0 = 0.5
	case 2:
		v0 = 0.5
	case 3:
		u0, v0 = 0.5, 0.5
	}
	for row := 0; row < n; row++ {
		v := v0 + 0.5*float64(row)/float64(n-1)
		for col := 0; col < n; col++ {
			u := u0 + 0.5*float64(col)/float64(n-1)
			heights[row*n+col] = sampleSurface(parent, u, v)
		}
	}
	return &source.MeshSurface{GridSize: n, Heights: heights}
}
