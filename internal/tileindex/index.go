package tileindex

import (
	"fmt"
	"sync/atomic"

	"github.com/rotisserie/eris"

	"github.com/MeKo-Tech/tilescene/internal/bounds"
	"github.com/MeKo-Tech/tilescene/internal/geomath"
)

// ContentState tracks a node's content through its lifecycle.
type ContentState int

const (
	// ContentMissing means no request has produced anything yet.
	ContentMissing ContentState = iota
	// ContentPending means a request is in flight.
	ContentPending
	// ContentLoaded means the payload is available.
	ContentLoaded
	// ContentFailed means the last request failed; Permanent tells whether
	// a retry is allowed.
	ContentFailed
)

// Node is one tile of the runtime tree. The tree owns children; Parent is
// a non-owning back reference used for ancestor walks only.
type Node struct {
	ID       int64
	Parent   *Node
	Children []*Node
	Depth    int

	Volume              bounds.Volume
	ViewerRequestVolume *bounds.Volume
	GeometricError      float64
	Refine              RefineMode
	Transform           geomath.Mat4 // local
	World               geomath.Mat4 // accumulated parent transforms

	ContentURI string
	// IsTileset is set once the node's content grafted a sub-tileset.
	IsTileset bool

	// Per-frame traversal state, driven by the owning entity.
	State     ContentState
	Permanent bool
	Payload   any
	Visible   bool
	Displayed bool
	LastSeen  uint64
	// CleanableSince is the frame the node left the displayed set, zero
	// while it is still needed.
	CleanableSince uint64
	// Wanted is the request queue's admission gate, readable without the
	// owning entity's lock.
	Wanted atomic.Bool
}

// HasContent reports whether the node declares a content URI.
func (n *Node) HasContent() bool { return n.ContentURI != "" }

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// NodeID implements the scene tree node contract.
func (n *Node) NodeID() int64 { return n.ID }

// Key returns the request deduplication key for the node's content.
func (n *Node) Key() string { return fmt.Sprintf("3dtile-%d", n.ID) }

// Index maps node ids to nodes for a single tileset tree.
type Index struct {
	nodes  map[int64]*Node
	nextID int64
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{nodes: make(map[int64]*Node)}
}

// Build walks a parsed tileset and produces the runtime tree rooted at the
// returned node. baseURL resolves relative content URIs.
func Build(ts *Tileset, baseURL string) (*Index, *Node, error) {
	ix := NewIndex()
	root, err := ix.build(ts.Root, nil, baseURL, RefineReplace, geomath.Identity())
	if err != nil {
		return nil, nil, err
	}
	return ix, root, nil
}

func (ix *Index) build(t *Tile, parent *Node, baseURL string, parentRefine RefineMode, parentWorld geomath.Mat4) (*Node, error) {
	refine, err := parseRefine(t.Refine, parentRefine)
	if err != nil {
		return nil, err
	}
	vol, err := t.BoundingVolume.Decode()
	if err != nil {
		return nil, eris.Wrap(err, "decode bounding volume")
	}

	local := geomath.Identity()
	if len(t.Transform) == 16 {
		copy(local[:], t.Transform)
	} else if t.Transform != nil {
		return nil, eris.Errorf("tile transform has %d elements, want 16", len(t.Transform))
	}

	n := &Node{
		Parent:         parent,
		GeometricError: t.GeometricError,
		Refine:         refine,
		Volume:         vol,
		Transform:      local,
		World:          parentWorld.Mul(local),
		ContentURI:     resolveURI(baseURL, t.Content.uri()),
	}
	if parent != nil {
		n.Depth = parent.Depth + 1
	}
	if t.ViewerRequestVolume != nil {
		vrv, err := t.ViewerRequestVolume.Decode()
		if err != nil {
			return nil, eris.Wrap(err, "decode viewer request volume")
		}
		n.ViewerRequestVolume = &vrv
	}
	ix.register(n)

	for _, child := range t.Children {
		c, err := ix.build(child, n, baseURL, refine, n.World)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, c)
	}
	return n, nil
}

// register assigns the next id. A collision can only come from index
// corruption and panics.
func (ix *Index) register(n *Node) {
	id := ix.nextID
	if _, exists := ix.nodes[id]; exists {
		panic(fmt.Sprintf("tileindex: id collision on %d", id))
	}
	n.ID = id
	ix.nodes[id] = n
	ix.nextID++
}

// Get returns the node with the given id, nil when absent.
func (ix *Index) Get(id int64) *Node { return ix.nodes[id] }

// Len returns the number of indexed nodes.
func (ix *Index) Len() int { return len(ix.nodes) }

// IDs returns the ids currently in the index, in no particular order.
func (ix *Index) IDs() []int64 {
	out := make([]int64, 0, len(ix.nodes))
	for id := range ix.nodes {
		out = append(out, id)
	}
	return out
}

// Extend grafts a sub-tileset at a leaf: the tileset's root becomes the
// leaf's single child, parent-linked with the leaf's accumulated world
// transform. Extending an already extended leaf is a no-op, which keeps
// the id set stable when the same content is fetched twice.
func (ix *Index) Extend(leaf *Node, ts *Tileset, baseURL string) error {
	if leaf.IsTileset {
		return nil
	}
	if !leaf.IsLeaf() {
		return eris.Errorf("node %d is not a leaf", leaf.ID)
	}
	root, err := ix.build(ts.Root, leaf, baseURL, leaf.Refine, leaf.World)
	if err != nil {
		return err
	}
	leaf.Children = append(leaf.Children, root)
	leaf.IsTileset = true
	return nil
}

// RemoveSubtree drops n's descendants from the index and detaches them
// from the tree. The node itself stays.
func (ix *Index) RemoveSubtree(n *Node) {
	for _, c := range n.Children {
		ix.removeRecursive(c)
	}
	n.Children = nil
}

func (ix *Index) removeRecursive(n *Node) {
	for _, c := range n.Children {
		ix.removeRecursive(c)
	}
	n.Children = nil
	n.Parent = nil
	delete(ix.nodes, n.ID)
}
