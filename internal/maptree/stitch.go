package maptree

import (
	"github.com/paulmach/orb"

	"github.com/MeKo-Tech/tilescene/internal/source"
)

// edge identifies one side of a tile.
type edge int

const (
	edgeWest edge = iota
	edgeEast
	edgeSouth
	edgeNorth
)

// stitchDisplayed removes cracks along shared edges: every displayed tile
// whose neighbour across an edge is coarser snaps that edge's heights onto
// the neighbour's sampling, so both meshes describe the same polyline.
func (m *Map) stitchDisplayed() {
	var displayed []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		if n.displayed && n.Surface() != nil {
			displayed = append(displayed, n)
		}
		n.eachChild(walk)
	}
	walk(m.root)

	for _, n := range displayed {
		for _, e := range []edge{edgeWest, edgeEast, edgeSouth, edgeNorth} {
			nb := m.displayedNeighbour(n, e)
			if nb == nil || nb.level >= n.level || nb.Surface() == nil {
				// Finer or same-level neighbours stitch themselves.
				continue
			}
			snapEdge(n, nb, e)
		}
	}
}

// displayedNeighbour finds the displayed node covering the area just
// across an edge, walking the tree from the root by containment.
func (m *Map) displayedNeighbour(n *Node, e edge) *Node {
	// Probe barely outside the edge midpoint.
	eps := n.extent.Width() * 1e-3
	c := n.extent.Center()
	min, max := n.extent.Bound.Min, n.extent.Bound.Max
	var probe orb.Point
	switch e {
	case edgeWest:
		probe = orb.Point{min[0] - eps, c[1]}
	case edgeEast:
		probe = orb.Point{max[0] + eps, c[1]}
	case edgeSouth:
		probe = orb.Point{c[0], min[1] - eps}
	case edgeNorth:
		probe = orb.Point{c[0], max[1] + eps}
	}
	return m.displayedAt(probe)
}

// displayedAt descends by extent containment and returns the deepest
// displayed node over the point.
func (m *Map) displayedAt(p orb.Point) *Node {
	if !m.root.extent.ContainsPoint(p) {
		return nil
	}
	var found *Node
	n := m.root
	for n != nil {
		if n.displayed {
			found = n
		}
		var next *Node
		n.eachChild(func(c *Node) {
			if next == nil && c.extent.ContainsPoint(p) {
				next = c
			}
		})
		n = next
	}
	return found
}

// snapEdge rewrites the heights along n's edge e so they lie on the
// coarser neighbour's edge polyline.
func snapEdge(n, nb *Node, e edge) {
	s := n.Surface()
	ns := s.GridSize
	nbs := nb.Surface()

	for i := 0; i < ns; i++ {
		t := float64(i) / float64(ns-1)
		var world float64 // coordinate along the shared edge
		var u float64     // parameter on the neighbour's matching edge
		switch e {
		case edgeWest, edgeEast:
			world = n.extent.Bound.Min[1] + t*n.extent.Height()
			u = (world - nb.extent.Bound.Min[1]) / nb.extent.Height()
		case edgeSouth, edgeNorth:
			world = n.extent.Bound.Min[0] + t*n.extent.Width()
			u = (world - nb.extent.Bound.Min[0]) / nb.extent.Width()
		}
		h := sampleEdgeHeight(nbs, opposite(e), u)
		setEdgeHeight(s, e, i, h)
	}
}

func opposite(e edge) edge {
	switch e {
	case edgeWest:
		return edgeEast
	case edgeEast:
		return edgeWest
	case edgeSouth:
		return edgeNorth
	}
	return edgeSouth
}

// sampleEdgeHeight linearly interpolates a surface's edge at parameter u
// in [0, 1], measured from the edge's minimum coordinate.
func sampleEdgeHeight(s *source.MeshSurface, e edge, u float64) float64 {
	n := s.GridSize
	if u < 0 {
		u = 0
	}
	if u > 1 {
		u = 1
	}
	f := u * float64(n-1)
	i := int(f)
	if i >= n-1 {
		i = n - 2
	}
	t := f - float64(i)
	a := edgeHeight(s, e, i)
	b := edgeHeight(s, e, i+1)
	return a*(1-t) + b*t
}

// edgeHeight reads the i-th height along an edge. Rows are south to
// north, columns west to east.
func edgeHeight(s *source.MeshSurface, e edge, i int) float64 {
	n := s.GridSize
	switch e {
	case edgeWest:
		return s.Heights[i*n]
	case edgeEast:
		return s.Heights[i*n+n-1]
	case edgeSouth:
		return s.Heights[i]
	}
	return s.Heights[(n-1)*n+i]
}

// setEdgeHeight writes the i-th height along an edge.
func setEdgeHeight(s *source.MeshSurface, e edge, i int, h float64) {
	n := s.GridSize
	switch e {
	case edgeWest:
		s.Heights[i*n] = h
	case edgeEast:
		s.Heights[i*n+n-1] = h
	case edgeSouth:
		s.Heights[i] = h
	default:
		s.Heights[(n-1)*n+i] = h
	}
}
