// Package maptree implements the 2.5D map quadtree entity: a rectangular
// tile tree over a projected extent, updated once per frame with frustum
// culling, screen-space-error subdivision, REPLACE refinement and edge
// stitching against coarser neighbours.
package maptree

import (
	"fmt"
	"sync/atomic"

	"github.com/MeKo-Tech/tilescene/internal/bounds"
	"github.com/MeKo-Tech/tilescene/internal/source"
)

type contentState int

const (
	contentMissing contentState = iota
	contentPending
	contentLoaded
	contentFailed
)

// nodeContent is what a completed tile request resolves to: one surface
// plus one texture per color layer.
type nodeContent struct {
	surface  *source.MeshSurface
	textures map[string]*source.TextureTile
	// owned is false while the content is downsampled from the parent and
	// the node's own request is still outstanding.
	owned bool
}

// Node is one tile of the quadtree. Children are exclusively owned; the
// parent pointer is only used for ancestor walks.
type Node struct {
	id      int64
	level   int
	x, y    int
	extent  bounds.Extent
	parent  *Node
	// children in deterministic order: SW, SE, NW, NE. All four are
	// created together.
	children [4]*Node

	// content may be inherited from the parent; state tracks the node's
	// OWN request lifecycle.
	content   *nodeContent
	state     contentState
	permanent bool

	visible   bool
	displayed bool
	lastSeen  uint64

	// wanted is the admission gate read by the request queue without the
	// map lock; it mirrors visibility.
	wanted atomic.Bool

	// Elevation range for the culling box, inherited from the parent
	// until the node's own surface arrives.
	minH, maxH float64
}

// NodeID implements scene.TreeNode.
func (n *Node) NodeID() int64 { return n.id }

// Level returns the subdivision level, 0 at the root.
func (n *Node) Level() int { return n.level }

// Extent returns the node's footprint.
func (n *Node) Extent() bounds.Extent { return n.extent }

// Displayed reports whether the node is in the current display set.
func (n *Node) Displayed() bool { return n.displayed }

// Loaded reports whether content, own or inherited, is available.
func (n *Node) Loaded() bool { return n.content != nil }

// Surface returns the node's heightfield, nil while missing.
func (n *Node) Surface() *source.MeshSurface {
	if n.content == nil {
		return nil
	}
	return n.content.surface
}

// Texture returns the node's texture for a layer, nil while missing.
func (n *Node) Texture(layer string) *source.TextureTile {
	if n.content == nil {
		return nil
	}
	return n.content.textures[layer]
}

// Coords returns the node's level and grid position.
func (n *Node) Coords() (level, x, y int) {
	return n.level, n.x, n.y
}

func (n *Node) key() string {
	return fmt.Sprintf("map-%d-%d-%d", n.level, n.x, n.y)
}

func (n *Node) hasChildren() bool { return n.children[0] != nil }

// eachChild visits the non-nil children in deterministic order.
func (n *Node) eachChild(fn func(*Node)) {
	for _, c := range n.children {
		if c != nil {
			fn(c)
		}
	}
}

// hideSubtree removes the node and its descendants from the display set
// without destroying anything.
func (n *Node) hideSubtree() {
	n.visible = false
	n.displayed = false
	n.wanted.Store(false)
	n.eachChild(func(c *Node) { c.hideSubtree() })
}

// allChildrenReady reports whether every child could take over the
// display: content available and frustum-visible on its last visit. This
// is the REPLACE swap condition.
func (n *Node) allChildrenReady() bool {
	if !n.hasChildren() {
		return false
	}
	for _, c := range n.children {
		if c == nil || !c.Loaded() || !c.visible {
			return false
		}
	}
	return true
}
