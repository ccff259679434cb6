// Package tiles3d implements the 3D Tiles entity: a tree with per-node
// ADD or REPLACE refinement, explicit geometric error, viewer-request
// volumes and embeddable sub-tilesets grafted into the index at leaves.
package tiles3d

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/tilescene/internal/bounds"
	"github.com/MeKo-Tech/tilescene/internal/cache"
	"github.com/MeKo-Tech/tilescene/internal/crs"
	"github.com/MeKo-Tech/tilescene/internal/request"
	"github.com/MeKo-Tech/tilescene/internal/scene"
	"github.com/MeKo-Tech/tilescene/internal/source"
	"github.com/MeKo-Tech/tilescene/internal/tileindex"
)

// Config configures a Tiles entity.
type Config struct {
	ID string
	// Tileset is the parsed root tileset.
	Tileset *tileindex.Tileset
	// BaseURL resolves relative content URIs.
	BaseURL string
	// Source fetches content by URI.
	Source source.Source
	// SSEThreshold is the screen-space error in pixels below which a tile
	// is good enough (default 16).
	SSEThreshold float64
	// CleanupDelay is how many frames a node may sit outside the display
	// set before its content is released (default 100).
	CleanupDelay uint64
	// ContentTTL is the cache lifetime of loaded payloads.
	ContentTTL time.Duration
	Registry   *crs.Registry
	Logger     *slog.Logger
}

// Tiles is the 3D Tiles entity.
type Tiles struct {
	cfg    Config
	logger *slog.Logger
	reg    *crs.Registry

	mu    sync.Mutex
	index *tileindex.Index
	root  *tileindex.Node

	visible bool
	opacity float64
	tracker scene.Tracker

	hookOnce sync.Once
}

// New builds the runtime index from the tileset and returns the entity.
func New(cfg Config) (*Tiles, error) {
	if cfg.SSEThreshold <= 0 {
		cfg.SSEThreshold = 16
	}
	if cfg.CleanupDelay == 0 {
		cfg.CleanupDelay = 100
	}
	if cfg.ContentTTL == 0 {
		cfg.ContentTTL = cache.DefaultTTL
	}
	if cfg.Registry == nil {
		cfg.Registry = crs.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	index, root, err := tileindex.Build(cfg.Tileset, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Tiles{
		cfg:     cfg,
		logger:  cfg.Logger.With("entity", cfg.ID),
		reg:     cfg.Registry,
		index:   index,
		root:    root,
		visible: true,
		opacity: 1,
	}, nil
}

// ID implements scene.Entity.
func (t *Tiles) ID() string { return t.cfg.ID }

// Visible implements scene.Entity.
func (t *Tiles) Visible() bool { return t.visible }

// SetVisible implements scene.Entity.
func (t *Tiles) SetVisible(v bool) { t.visible = v }

// Opacity implements scene.Entity.
func (t *Tiles) Opacity() float64 { return t.opacity }

// Loading implements scene.Entity.
func (t *Tiles) Loading() bool { return t.tracker.Loading() }

// Progress implements scene.Entity.
func (t *Tiles) Progress() float64 { return t.tracker.Progress() }

// Root returns the root node.
func (t *Tiles) Root() *tileindex.Node { return t.root }

// Index returns the id lookup; picking resolves through it.
func (t *Tiles) Index() *tileindex.Index { return t.index }

// PreUpdate hooks progress accounting and returns the traversal root.
func (t *Tiles) PreUpdate(ctx *scene.Context, _ []any) []scene.TreeNode {
	t.hookOnce.Do(func() {
		ctx.Queue.OnEmpty(t.tracker.Reset)
	})
	return []scene.TreeNode{t.root}
}

// Update visits one node: viewer-request volume and frustum culling, SSE
// against the threshold, ADD/REPLACE refinement, content requests.
func (t *Tiles) Update(ctx *scene.Context, tn scene.TreeNode) []scene.TreeNode {
	n := tn.(*tileindex.Node)
	t.mu.Lock()
	defer t.mu.Unlock()

	cam := ctx.Camera

	// 1. Viewer-request volume gate, then the bounding volume.
	if n.ViewerRequestVolume != nil &&
		!n.ViewerRequestVolume.Contains(n.World, cam.Position, t.reg) {
		t.hideSubtree(n, ctx.Frame)
		return nil
	}
	if !n.Volume.Visible(n.World, cam.Frustum(), t.reg) {
		if n.Parent != nil && n.Parent.Displayed && n.Refine == tileindex.RefineAdd {
			// An additive child outside its own volume can still have
			// visible descendants.
			n.Visible = false
			n.Displayed = false
			return t.childNodes(n)
		}
		t.hideSubtree(n, ctx.Frame)
		return nil
	}

	n.Visible = true
	n.Wanted.Store(true)
	n.LastSeen = ctx.Frame
	n.CleanableSince = 0

	// 2. Content.
	if n.HasContent() && !n.IsTileset &&
		(n.State == tileindex.ContentMissing || (n.State == tileindex.ContentFailed && !n.Permanent)) {
		t.requestContent(ctx, n)
	}

	// 3. Screen-space error against the threshold.
	distance := n.Volume.Distance(n.World, cam.Position, t.reg)
	sse := bounds.ScreenSpaceError(n.GeometricError, distance, cam.PreSSE())
	needsRefine := sse > t.cfg.SSEThreshold && len(n.Children) > 0

	if !needsRefine {
		// Good enough: display this node, retire the children.
		n.Displayed = t.renderable(n) && t.parentReleased(n)
		for _, c := range n.Children {
			t.hideSubtree(c, ctx.Frame)
		}
		return nil
	}

	// 4. Refinement.
	switch n.Refine {
	case tileindex.RefineAdd:
		// Children add detail on top of this node.
		n.Displayed = t.renderable(n)
	default: // REPLACE
		if t.allChildrenReady(n) {
			n.Displayed = false
		} else {
			n.Displayed = t.renderable(n) && t.parentReleased(n)
		}
	}
	return t.childNodes(n)
}

// renderable reports whether the node has something to draw.
func (t *Tiles) renderable(n *tileindex.Node) bool {
	if n.IsTileset || !n.HasContent() {
		return false
	}
	return n.State == tileindex.ContentLoaded
}

// parentReleased reports whether no REPLACE ancestor still holds the
// display. Additive ancestors display alongside their descendants and do
// not block.
func (t *Tiles) parentReleased(n *tileindex.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Displayed && p.Refine == tileindex.RefineReplace {
			return false
		}
	}
	return true
}

// allChildrenReady is the REPLACE swap condition: every child has been
// visited, is visible, and either carries loaded content, is structural,
// or passes through to a grafted sub-tileset.
func (t *Tiles) allChildrenReady(n *tileindex.Node) bool {
	if len(n.Children) == 0 {
		return false
	}
	for _, c := range n.Children {
		if c.LastSeen == 0 || !c.Visible {
			return false
		}
		if c.IsTileset || !c.HasContent() {
			continue
		}
		if c.State != tileindex.ContentLoaded {
			return false
		}
	}
	return true
}

func (t *Tiles) childNodes(n *tileindex.Node) []scene.TreeNode {
	out := make([]scene.TreeNode, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, c)
	}
	return out
}

// hideSubtree removes a subtree from the display set and stamps when it
// became cleanable.
func (t *Tiles) hideSubtree(n *tileindex.Node, frame uint64) {
	n.Visible = false
	n.Displayed = false
	n.Wanted.Store(false)
	if n.CleanableSince == 0 {
		n.CleanableSince = frame
	}
	for _, c := range n.Children {
		t.hideSubtree(c, frame)
	}
}

// requestContent enqueues the node's fetch; priority favours near tiles
// and deep levels, the dedup key is the tile id.
func (t *Tiles) requestContent(ctx *scene.Context, n *tileindex.Node) {
	distance := n.Volume.Distance(n.World, ctx.Camera.Position, t.reg)
	priority := float64(n.Depth) + 1/(1+distance)

	n.State = tileindex.ContentPending
	t.tracker.Begin()

	pending := ctx.Queue.Enqueue(n.Key(), priority, func(tctx context.Context) (any, error) {
		return t.cfg.Source.GetData(tctx, source.Request{
			Key:   n.Key(),
			URI:   n.ContentURI,
			Level: n.Depth,
			Kind:  source.KindTileContent,
		})
	}, func() bool {
		return n.Wanted.Load()
	})

	store := ctx.Cache
	go func() {
		<-pending.Done()
		result, err := pending.Result()
		t.completeRequest(store, n, result, err)
		t.tracker.End()
	}()
}

// completeRequest publishes a settled fetch: payloads load, sub-tilesets
// extend the index, failures classify.
func (t *Tiles) completeRequest(store *cache.Cache, n *tileindex.Node, result any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.index.Get(n.ID) != n {
		// Collapsed out of the index while the request was in flight.
		return
	}
	if err != nil {
		if request.IsAborted(err) {
			n.State = tileindex.ContentMissing
			return
		}
		n.State = tileindex.ContentFailed
		n.Permanent = source.IsPermanent(err)
		t.logger.Warn("tile content failed",
			"tile", n.ID, "uri", n.ContentURI, "permanent", n.Permanent, "error", err)
		return
	}

	if sub, ok := result.(*source.SubTileset); ok {
		if err := t.index.Extend(n, sub.Tileset, sub.BaseURL); err != nil {
			// A bad sub-tileset drops silently: the node stays a leaf.
			t.logger.Warn("sub-tileset extension failed", "tile", n.ID, "error", err)
			n.State = tileindex.ContentFailed
			n.Permanent = true
			return
		}
		n.State = tileindex.ContentLoaded
		return
	}

	payload, ok := result.(source.Payload)
	if !ok {
		n.State = tileindex.ContentFailed
		n.Permanent = true
		t.logger.Warn("unexpected content payload", "tile", n.ID, "type", fmt.Sprintf("%T", result))
		return
	}
	n.Payload = payload
	n.State = tileindex.ContentLoaded
	store.Set(n.Key(), payload, cache.EntryOptions{
		TTL: t.cfg.ContentTTL,
		OnDelete: func(string, any) {
			// Renderer-side handles go with the entry.
		},
	})
}

// PostUpdate releases content of nodes that have been cleanable longer
// than the delay and collapses their grafted subtrees.
func (t *Tiles) PostUpdate(ctx *scene.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanup(ctx, t.root)
}

func (t *Tiles) cleanup(ctx *scene.Context, n *tileindex.Node) {
	for _, c := range n.Children {
		t.cleanup(ctx, c)
	}
	if n == t.root || n.Displayed || n.CleanableSince == 0 {
		return
	}
	if ctx.Frame < n.CleanableSince+t.cfg.CleanupDelay {
		return
	}
	if n.State == tileindex.ContentLoaded || n.State == tileindex.ContentFailed {
		n.Payload = nil
		n.State = tileindex.ContentMissing
		n.Permanent = false
		ctx.Cache.Delete(n.Key())
	}
	if n.IsTileset {
		t.index.RemoveSubtree(n)
		n.IsTileset = false
	}
	n.CleanableSince = 0
}

// Displayed returns the display set in tree order.
func (t *Tiles) Displayed() []scene.TreeNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []scene.TreeNode
	var walk func(*tileindex.Node)
	walk = func(n *tileindex.Node) {
		if n.Displayed {
			out = append(out, n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.root)
	return out
}
