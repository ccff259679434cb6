package source

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/aquilax/go-perlin"
)

// ProceduralConfig shapes the generated terrain.
type ProceduralConfig struct {
	// Seed makes the terrain deterministic.
	Seed int64
	// Amplitude is the height range in meters (default 500).
	Amplitude float64
	// Frequency scales the noise field against the extent (default 1/5000).
	Frequency float64
	// GridSize is the heightfield resolution per tile (default 33).
	GridSize int
	// TextureSize is the shaded texture resolution per tile (default 256).
	TextureSize int
}

// Procedural synthesizes elevation surfaces and shaded color textures from
// a perlin fractal field. It backs the simulate CLI and tests, where a
// network source would only add noise of the wrong kind.
type Procedural struct {
	cfg   ProceduralConfig
	noise *perlin.Perlin
}

// NewProcedural creates a deterministic procedural source.
func NewProcedural(cfg ProceduralConfig) *Procedural {
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 500
	}
	if cfg.Frequency == 0 {
		cfg.Frequency = 1.0 / 5000
	}
	if cfg.GridSize <= 1 {
		cfg.GridSize = 33
	}
	if cfg.TextureSize <= 0 {
		cfg.TextureSize = 256
	}
	return &Procedural{
		cfg:   cfg,
		noise: perlin.NewPerlin(2, 2, 3, cfg.Seed),
	}
}

// heightAt samples the fractal field at a world position. Three octaves of
// noise, halving amplitude each octave.
func (p *Procedural) heightAt(x, y float64) float64 {
	fx, fy := x*p.cfg.Frequency, y*p.cfg.Frequency
	var h, amp, freq float64 = 0, 1, 1
	for o := 0; o < 3; o++ {
		h += amp * p.noise.Noise2D(fx*freq, fy*freq)
		amp /= 2
		freq *= 2
	}
	// Noise sums to roughly [-1.75, 1.75]; normalize into the amplitude.
	return h / 1.75 * p.cfg.Amplitude
}

// GetData answers elevation requests with a heightfield and color requests
// with a hillshaded texture. Other kinds are permanent failures.
func (p *Procedural) GetData(ctx context.Context, req Request) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch req.Kind {
	case KindElevation:
		return p.surface(req), nil
	case KindColor:
		return p.texture(req), nil
	}
	return nil, PermanentErrorf("procedural source cannot serve kind %d", req.Kind)
}

func (p *Procedural) surface(req Request) *MeshSurface {
	n := p.cfg.GridSize
	heights := make([]float64, n*n)
	min, w, h := req.Extent.Bound.Min, req.Extent.Width(), req.Extent.Height()
	for row := 0; row < n; row++ {
		y := min[1] + h*float64(row)/float64(n-1)
		for col := 0; col < n; col++ {
			x := min[0] + w*float64(col)/float64(n-1)
			heights[row*n+col] = p.heightAt(x, y)
		}
	}
	return &MeshSurface{Extent: req.Extent, GridSize: n, Heights: heights}
}

func (p *Procedural) texture(req Request) *TextureTile {
	size := p.cfg.TextureSize
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	min, w, h := req.Extent.Bound.Min, req.Extent.Width(), req.Extent.Height()
	step := w / float64(size)

	for py := 0; py < size; py++ {
		// Image rows run north to south.
		y := min[1] + h*(1-float64(py)/float64(size-1))
		for px := 0; px < size; px++ {
			x := min[0] + w*float64(px)/float64(size-1)
			elev := p.heightAt(x, y)

			// Slope-based hillshade from a forward difference.
			dz := p.heightAt(x+step, y) - elev
			shade := 0.7 - math.Atan(dz/math.Max(step, 1))*0.4

			t := (elev/p.cfg.Amplitude + 1) / 2
			img.SetRGBA(px, py, rampColor(t, shade))
		}
	}
	return &TextureTile{Extent: req.Extent, Image: img}
}

// rampColor maps normalized elevation through a water-lowland-rock ramp
// and applies the hillshade factor.
func rampColor(t, shade float64) color.RGBA {
	var r, g, b float64
	switch {
	case t < 0.35: // water
		r, g, b = 90, 140, 200
	case t < 0.6: // lowland
		r, g, b = 120, 160, 90
	case t < 0.8: // upland
		r, g, b = 160, 140, 100
	default: // rock
		r, g, b = 200, 200, 200
	}
	clamp := func(v float64) uint8 {
		return uint8(math.Max(0, math.Min(255, v)))
	}
	return color.RGBA{R: clamp(r * shade), G: clamp(g * shade), B: clamp(b * shade), A: 255}
}
