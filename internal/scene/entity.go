package scene

import (
	"github.com/MeKo-Tech/tilescene/internal/cache"
	"github.com/MeKo-Tech/tilescene/internal/crs"
	"github.com/MeKo-Tech/tilescene/internal/request"
)

// TreeNode is the minimal contract traversal needs from a tile node.
type TreeNode interface {
	NodeID() int64
}

// Context is the per-frame state handed to every entity hook.
type Context struct {
	Camera *Camera
	Queue  *request.Queue
	Cache  *cache.Cache
	CRS    *crs.Registry
	// Frame is the monotonically increasing frame counter.
	Frame uint64
	// FastUpdateHint, when set by PreUpdate, restarts traversal at the
	// smallest common ancestor of the changed sources instead of the root.
	FastUpdateHint TreeNode
	// Budget caps node visits per entity per frame; zero is unlimited.
	Budget int

	visited int
}

// Visit consumes one unit of budget and reports whether traversal may
// continue.
func (c *Context) Visit() bool {
	c.visited++
	return c.Budget == 0 || c.visited <= c.Budget
}

// Visited returns the number of nodes visited so far this frame.
func (c *Context) Visited() int { return c.visited }

// Entity is a scene object with a tile tree lifecycle. The main loop
// calls PreUpdate once per frame, Update once per visited node in
// parent-before-child order, and PostUpdate during the cleanup pass.
type Entity interface {
	ID() string
	Visible() bool
	SetVisible(bool)
	Opacity() float64

	// Loading reports whether any non-failed request is in flight.
	Loading() bool
	// Progress is done/(done+pending) in [0,1], 1 when idle.
	Progress() float64

	// PreUpdate returns the traversal roots for this frame.
	PreUpdate(ctx *Context, changeSources []any) []TreeNode
	// Update visits one node and returns the children to visit next;
	// returning nothing prunes the subtree.
	Update(ctx *Context, node TreeNode) []TreeNode
	// PostUpdate runs after rendering, for cleanup and bookkeeping.
	PostUpdate(ctx *Context)

	// Displayed returns the current display set handed to the renderer.
	Displayed() []TreeNode
}
