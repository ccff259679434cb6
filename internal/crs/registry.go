// Package crs keeps the registry of coordinate reference systems known to
// a scene. Every CRS is registered as a pair of projections to and from
// geographic WGS84 coordinates; arbitrary conversions compose through that
// hub. Codes must be registered before any entity using them is added --
// projecting through an unknown code is a programming error and panics.
package crs

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Geographic is the hub CRS every projection pair goes through.
const Geographic = "EPSG:4326"

// WebMercator is the common web map CRS, pre-registered in every registry.
const WebMercator = "EPSG:3857"

// Projection converts coordinates between a CRS and geographic WGS84.
type Projection struct {
	ToGeographic   func(orb.Point) orb.Point
	FromGeographic func(orb.Point) orb.Point
}

// Registry maps CRS codes to projections.
type Registry struct {
	mu    sync.RWMutex
	projs map[string]Projection
}

// NewRegistry returns a registry with EPSG:4326 and EPSG:3857 registered.
func NewRegistry() *Registry {
	r := &Registry{projs: make(map[string]Projection)}
	identity := func(p orb.Point) orb.Point { return p }
	r.Register(Geographic, Projection{ToGeographic: identity, FromGeographic: identity})
	r.Register(WebMercator, Projection{
		ToGeographic:   func(p orb.Point) orb.Point { return project.Mercator.ToWGS84(p) },
		FromGeographic: func(p orb.Point) orb.Point { return project.WGS84.ToMercator(p) },
	})
	return r
}

// Register adds or replaces the projection pair for code.
func (r *Registry) Register(code string, proj Projection) {
	if proj.ToGeographic == nil || proj.FromGeographic == nil {
		panic(fmt.Sprintf("crs: incomplete projection pair for %q", code))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projs[code] = proj
}

// Registered reports whether code is known.
func (r *Registry) Registered(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.projs[code]
	return ok
}

// Project converts p from one CRS to another. Both codes must be
// registered; an unknown code panics.
func (r *Registry) Project(from, to string, p orb.Point) orb.Point {
	if from == to {
		return p
	}
	r.mu.RLock()
	src, okFrom := r.projs[from]
	dst, okTo := r.projs[to]
	r.mu.RUnlock()
	if !okFrom {
		panic(fmt.Sprintf("crs: %q is not registered", from))
	}
	if !okTo {
		panic(fmt.Sprintf("crs: %q is not registered", to))
	}
	return dst.FromGeographic(src.ToGeographic(p))
}

// ProjectBound converts the corners of b and returns their bounding
// rectangle in the target CRS.
func (r *Registry) ProjectBound(from, to string, b orb.Bound) orb.Bound {
	if from == to {
		return b
	}
	min := r.Project(from, to, b.Min)
	max := r.Project(from, to, b.Max)
	out := orb.Bound{Min: min, Max: max}
	if out.Min[0] > out.Max[0] {
		out.Min[0], out.Max[0] = out.Max[0], out.Min[0]
	}
	if out.Min[1] > out.Max[1] {
		out.Min[1], out.Max[1] = out.Max[1], out.Min[1]
	}
	return out
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Register adds a projection pair to the default registry.
func Register(code string, proj Projection) { defaultRegistry.Register(code, proj) }

// Project converts through the default registry.
func Project(from, to string, p orb.Point) orb.Point {
	return defaultRegistry.Project(from, to, p)
}
