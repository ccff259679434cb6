package maptree

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/tilescene/internal/bounds"
	"github.com/MeKo-Tech/tilescene/internal/cache"
	"github.com/MeKo-Tech/tilescene/internal/crs"
	"github.com/MeKo-Tech/tilescene/internal/geomath"
	"github.com/MeKo-Tech/tilescene/internal/request"
	"github.com/MeKo-Tech/tilescene/internal/scene"
	"github.com/MeKo-Tech/tilescene/internal/source"
)

// Config configures a Map entity.
type Config struct {
	ID     string
	Extent bounds.Extent
	// MaxSubdivisionLevel stops subdivision; the root is level 0.
	MaxSubdivisionLevel int
	// SubdivisionThreshold is the projected tile diagonal in pixels above
	// which a tile subdivides (default 384).
	SubdivisionThreshold float64
	// Source provides surfaces and textures; layers may override it.
	Source source.Source
	Layers []Layer
	// CleanupDelay is how many frames an unseen node survives before its
	// subtree is disposed (default 30).
	CleanupDelay uint64
	// ContentTTL is the cache lifetime of loaded tile content.
	ContentTTL time.Duration
	// Registry resolves the extent's CRS; defaults to the process one.
	Registry *crs.Registry
	Logger   *slog.Logger
}

// Map is the quadtree entity over a rectangular extent. All refinement is
// REPLACE: children take over from their parent once all four are
// displayed.
type Map struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	root   *Node
	byID   map[int64]*Node
	nextID int64

	visible bool
	opacity float64
	tracker scene.Tracker

	hookOnce sync.Once
}

// New validates the config and creates the entity with its root tile.
// Using an unregistered CRS panics: entities must be configured after
// their CRS.
func New(cfg Config) *Map {
	if cfg.Registry == nil {
		cfg.Registry = crs.Default()
	}
	if !cfg.Registry.Registered(cfg.Extent.CRS) {
		panic(fmt.Sprintf("maptree: CRS %q is not registered", cfg.Extent.CRS))
	}
	if cfg.SubdivisionThreshold <= 0 {
		cfg.SubdivisionThreshold = 384
	}
	if cfg.CleanupDelay == 0 {
		cfg.CleanupDelay = 30
	}
	if cfg.ContentTTL == 0 {
		cfg.ContentTTL = cache.DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Map{
		cfg:     cfg,
		logger:  cfg.Logger.With("entity", cfg.ID),
		byID:    make(map[int64]*Node),
		visible: true,
		opacity: 1,
	}
	m.root = m.newNode(nil, cfg.Extent, 0, 0, 0)
	return m
}

func (m *Map) newNode(parent *Node, extent bounds.Extent, level, x, y int) *Node {
	if level < 0 {
		panic(fmt.Sprintf("maptree: negative level %d", level))
	}
	n := &Node{
		id:     m.nextID,
		level:  level,
		x:      x,
		y:      y,
		extent: extent,
		parent: parent,
	}
	if parent != nil {
		n.minH, n.maxH = parent.minH, parent.maxH
	}
	m.nextID++
	if _, exists := m.byID[n.id]; exists {
		panic(fmt.Sprintf("maptree: id collision on %d", n.id))
	}
	m.byID[n.id] = n
	return n
}

// ID implements scene.Entity.
func (m *Map) ID() string { return m.cfg.ID }

// Visible implements scene.Entity.
func (m *Map) Visible() bool { return m.visible }

// SetVisible implements scene.Entity.
func (m *Map) SetVisible(v bool) { m.visible = v }

// Opacity implements scene.Entity.
func (m *Map) Opacity() float64 { return m.opacity }

// SetOpacity adjusts the entity opacity.
func (m *Map) SetOpacity(o float64) { m.opacity = o }

// Loading implements scene.Entity.
func (m *Map) Loading() bool { return m.tracker.Loading() }

// Progress implements scene.Entity.
func (m *Map) Progress() float64 { return m.tracker.Progress() }

// Root returns the root tile.
func (m *Map) Root() *Node { return m.root }

// NodeByID resolves a node id, nil when unknown. Picking uses this.
func (m *Map) NodeByID(id int64) *Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

// PreUpdate hooks progress accounting to the queue, narrows traversal to
// the smallest common ancestor of the changed sources, and returns the
// traversal roots.
func (m *Map) PreUpdate(ctx *scene.Context, changeSources []any) []scene.TreeNode {
	m.hookOnce.Do(func() {
		ctx.Queue.OnEmpty(m.tracker.Reset)
	})

	var ours []*Node
	for _, src := range changeSources {
		if n, ok := src.(*Node); ok {
			if m.NodeByID(n.id) == n {
				ours = append(ours, n)
			}
		}
	}
	if len(ours) > 0 {
		hint := ours[0]
		for _, n := range ours[1:] {
			hint = commonAncestor(hint, n)
		}
		ctx.FastUpdateHint = hint
	}
	return []scene.TreeNode{m.root}
}

func commonAncestor(a, b *Node) *Node {
	for a.level > b.level {
		a = a.parent
	}
	for b.level > a.level {
		b = b.parent
	}
	for a != b {
		a, b = a.parent, b.parent
	}
	return a
}

// Update runs the per-frame decision for one tile and returns the
// children to visit next.
func (m *Map) Update(ctx *scene.Context, tn scene.TreeNode) []scene.TreeNode {
	n := tn.(*Node)
	m.mu.Lock()
	defer m.mu.Unlock()

	// 1. Frustum culling against the tile's elevation-aware box.
	center, halfAxes := n.extent.OBB(n.minH, n.maxH)
	if !ctx.Camera.Frustum().IntersectsOBB(center, halfAxes) {
		n.hideSubtree()
		return nil
	}
	n.visible = true
	n.wanted.Store(true)
	n.lastSeen = ctx.Frame

	// 2. Content request. Inherited content does not count: the node keeps
	// asking for its own until it lands or fails permanently.
	if n.state == contentMissing || (n.state == contentFailed && !n.permanent) {
		m.requestContent(ctx, n)
	}

	// 3. Subdivision decision.
	camPos := ctx.Camera.Position
	distance := distanceToExtent(n.extent, n.minH, n.maxH, camPos)
	screenSize := bounds.MapTileScreenSize(n.extent.Diagonal(), distance, ctx.Camera.PreSSE())

	wantsChildren := n.level < m.cfg.MaxSubdivisionLevel &&
		screenSize > m.cfg.SubdivisionThreshold &&
		m.canSubdivide(n)
	if wantsChildren && !n.hasChildren() {
		m.subdivide(n)
	}

	// 4. REPLACE refinement. The parent keeps the display until every
	// child could take over (content present and seen last frame), then
	// releases it; a child only displays once its parent has released.
	takeover := wantsChildren && n.allChildrenReady()
	parentReleased := n.parent == nil || !n.parent.displayed
	n.displayed = n.Loaded() && !takeover && parentReleased

	if n.hasChildren() && wantsChildren {
		out := make([]scene.TreeNode, 0, 4)
		n.eachChild(func(c *Node) { out = append(out, c) })
		return out
	}
	if n.hasChildren() {
		// The camera backed off: reclaim display from the children but
		// keep them alive for the cleanup delay.
		n.eachChild(func(c *Node) { c.hideSubtree() })
		n.displayed = n.Loaded() && parentReleased
	}
	return nil
}

// canSubdivide is the quorum rule: the four children's initial content
// can be produced from this node's loaded layer data.
func (m *Map) canSubdivide(n *Node) bool {
	return n.Loaded() && n.content.owned
}

func (m *Map) subdivide(n *Node) {
	quads := n.extent.SplitQuad()
	for q, ext := range quads {
		child := m.newNode(n, ext, n.level+1, n.x*2+q%2, n.y*2+q/2)
		m.inheritContent(n, child, q)
		n.children[q] = child
	}
}

// inheritContent seeds a child with content downsampled from its parent,
// so REPLACE swaps do not wait a full network round trip.
func (m *Map) inheritContent(parent, child *Node, q int) {
	if parent.content == nil {
		return
	}
	c := &nodeContent{textures: make(map[string]*source.TextureTile)}
	if parent.content.surface != nil {
		s := deriveChildSurface(parent.content.surface, q)
		s.Extent = child.extent
		c.surface = s
		child.minH, child.maxH = s.MinMax()
	}
	for name, tex := range parent.content.textures {
		inherited := &source.TextureTile{Extent: child.extent}
		if tex.Image != nil {
			inherited.Image = quadrant(tex.Image, q)
		}
		c.textures[name] = inherited
	}
	// Inherited content leaves state untouched: the child still owes
	// itself a request for its own data.
	child.content = c
}

// requestContent enqueues the node's fetch: one task resolving the
// surface and every color texture. Priority favours deep tiles, then
// close ones.
func (m *Map) requestContent(ctx *scene.Context, n *Node) {
	if m.cfg.Source == nil && len(m.cfg.Layers) == 0 {
		return
	}
	distance := distanceToExtent(n.extent, n.minH, n.maxH, ctx.Camera.Position)
	priority := float64(n.level) + 1/(1+distance)

	n.state = contentPending
	m.tracker.Begin()

	pending := ctx.Queue.Enqueue(n.key(), priority, func(tctx context.Context) (any, error) {
		return m.fetch(tctx, n)
	}, func() bool {
		// Nodes culled or disposed since enqueue are not worth fetching.
		return n.wanted.Load()
	})

	cacheHandle := ctx.Cache
	go func() {
		<-pending.Done()
		result, err := pending.Result()
		// Publish the outcome before the tracker ticks over, so an idle
		// tracker implies settled node states.
		m.completeRequest(cacheHandle, n, result, err)
		m.tracker.End()
	}()
}

// fetch assembles a node's content from the configured layers.
func (m *Map) fetch(ctx context.Context, n *Node) (any, error) {
	content := &nodeContent{textures: make(map[string]*source.TextureTile), owned: true}

	layers := m.cfg.Layers
	if len(layers) == 0 {
		layers = []Layer{
			{Name: "elevation", Kind: LayerElevation},
			{Name: "color", Kind: LayerColor},
		}
	}
	for _, layer := range layers {
		src := layer.Source
		if src == nil {
			src = m.cfg.Source
		}
		if src == nil {
			continue
		}
		kind := source.KindColor
		if layer.Kind == LayerElevation {
			kind = source.KindElevation
		}
		payload, err := src.GetData(ctx, source.Request{
			Key:    n.key(),
			Extent: n.extent,
			Level:  n.level,
			X:      n.x,
			Y:      n.y,
			Kind:   kind,
			Layer:  layer.Name,
		})
		if err != nil {
			if source.IsPermanent(err) && layer.Kind == LayerColor {
				// One imagery hole does not fail the tile.
				m.logger.Warn("layer unavailable", "layer", layer.Name, "tile", n.key())
				continue
			}
			return nil, err
		}
		switch p := payload.(type) {
		case *source.MeshSurface:
			content.surface = p
		case *source.TextureTile:
			styled := layer.Style.apply(p.Image)
			content.textures[layer.Name] = &source.TextureTile{Extent: p.Extent, Image: styled}
		default:
			m.logger.Warn("unexpected payload", "layer", layer.Name, "type", fmt.Sprintf("%T", p))
		}
	}
	return content, nil
}

// completeRequest publishes a settled request's outcome onto the node.
func (m *Map) completeRequest(store *cache.Cache, n *Node, result any, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byID[n.id] != n {
		// Disposed while the request was in flight.
		return
	}
	if err != nil {
		if request.IsAborted(err) {
			n.state = contentMissing
			return
		}
		n.state = contentFailed
		n.permanent = source.IsPermanent(err)
		m.logger.Warn("tile content failed",
			"tile", n.key(), "permanent", n.permanent, "error", err)
		return
	}

	content := result.(*nodeContent)
	n.content = content
	n.state = contentLoaded
	if content.surface != nil {
		n.minH, n.maxH = content.surface.MinMax()
	}
	store.Set(n.key(), content, cache.EntryOptions{
		TTL: m.cfg.ContentTTL,
		OnDelete: func(string, any) {
			// Handles released with the entry; images are plain memory.
		},
	})
}

// PostUpdate disposes subtrees that have not been seen for the cleanup
// delay, then stitches edges of the displayed set.
func (m *Map) PostUpdate(ctx *scene.Context) {
	m.mu.Lock()
	m.cleanup(ctx, m.root)
	m.stitchDisplayed()
	m.mu.Unlock()
}

func (m *Map) cleanup(ctx *scene.Context, n *Node) {
	for i, c := range n.children {
		if c == nil {
			continue
		}
		if !c.displayed && c.lastSeen+m.cfg.CleanupDelay < ctx.Frame {
			m.dispose(ctx, c)
			n.children[i] = nil
			continue
		}
		m.cleanup(ctx, c)
	}
}

// dispose releases a subtree: content freed, cache entries dropped, ids
// unregistered.
func (m *Map) dispose(ctx *scene.Context, n *Node) {
	n.eachChild(func(c *Node) { m.dispose(ctx, c) })
	n.children = [4]*Node{}
	n.content = nil
	n.state = contentMissing
	n.wanted.Store(false)
	n.parent = nil
	delete(m.byID, n.id)
	ctx.Cache.Delete(n.key())
}

// Displayed returns the display set in deterministic (extent-sorted,
// parent-first creation) order.
func (m *Map) Displayed() []scene.TreeNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scene.TreeNode
	var walk func(*Node)
	walk = func(n *Node) {
		if n.displayed {
			out = append(out, n)
		}
		n.eachChild(walk)
	}
	walk(m.root)
	return out
}

// distanceToExtent measures from the camera to the tile's bounding box.
func distanceToExtent(e bounds.Extent, minH, maxH float64, p geomath.Vec3) float64 {
	box := geomath.NewAABB(
		geomath.Vec3{X: e.Bound.Min[0], Y: e.Bound.Min[1], Z: minH},
		geomath.Vec3{X: e.Bound.Max[0], Y: e.Bound.Max[1], Z: maxH},
	)
	return box.DistanceToPoint(p)
}
