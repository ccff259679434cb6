package scene

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/MeKo-Tech/tilescene/internal/cache"
	"github.com/MeKo-Tech/tilescene/internal/crs"
	"github.com/MeKo-Tech/tilescene/internal/request"
)

// View is what the renderer receives each frame.
type View struct {
	Displayed []TreeNode
	Camera    *Camera
}

// RenderInfo is the renderer's self-reported statistics.
type RenderInfo struct {
	DrawCalls int
	Triangles int
}

// Renderer is the external rendering collaborator. The core never touches
// pixels except through RenderToBuffer, which serves picking.
type Renderer interface {
	Render(view View)
	// RenderToBuffer renders the current view with the picking material
	// into zone and returns the RGBA bytes, 8 bytes per texel pair.
	RenderToBuffer(zone image.Rectangle) ([]byte, error)
	Info() RenderInfo
}

// FrameInfo summarizes one executed frame.
type FrameInfo struct {
	Frame     uint64
	Displayed int
	Visited   int
	Flushed   int
	Duration  time.Duration
}

// Config configures a MainLoop.
type Config struct {
	Camera   *Camera
	Renderer Renderer
	Queue    *request.Queue
	Cache    *cache.Cache
	Registry *crs.Registry
	// Budget caps node visits per entity per frame; zero is unlimited.
	Budget int
	Logger *slog.Logger
}

// MainLoop owns the frame pipeline: update entities, render, clean up.
// It is single-threaded and cooperative; a frame always runs to
// completion and is never re-entered.
type MainLoop struct {
	mu            sync.Mutex
	entities      []Entity
	camera        *Camera
	renderer      Renderer
	queue         *request.Queue
	cache         *cache.Cache
	reg           *crs.Registry
	hooks         *Hooks
	budget        int
	logger        *slog.Logger
	frame         uint64
	needsRedraw   bool
	changeSources []any
	trigger       chan struct{}
}

// NewMainLoop wires the loop to its collaborators. Camera, Queue and
// Cache default to fresh instances; Renderer may be nil for headless use.
func NewMainLoop(cfg Config) *MainLoop {
	if cfg.Camera == nil {
		cfg.Camera = NewCamera(1280, 720)
	}
	if cfg.Queue == nil {
		cfg.Queue = request.NewQueue(request.Config{})
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.New(cache.Config{})
	}
	if cfg.Registry == nil {
		cfg.Registry = crs.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MainLoop{
		camera:   cfg.Camera,
		renderer: cfg.Renderer,
		queue:    cfg.Queue,
		cache:    cfg.Cache,
		reg:      cfg.Registry,
		hooks:    NewHooks(),
		budget:   cfg.Budget,
		logger:   cfg.Logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Hooks returns the loop's event table.
func (l *MainLoop) Hooks() *Hooks { return l.hooks }

// Camera returns the loop's camera.
func (l *MainLoop) Camera() *Camera { return l.camera }

// Queue returns the request queue shared by all entities.
func (l *MainLoop) Queue() *request.Queue { return l.queue }

// Cache returns the content cache shared by all entities.
func (l *MainLoop) Cache() *cache.Cache { return l.cache }

// AddEntity registers an entity; ids must be unique.
func (l *MainLoop) AddEntity(e Entity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.entities {
		if existing.ID() == e.ID() {
			return eris.Errorf("entity %q already added", e.ID())
		}
	}
	l.entities = append(l.entities, e)
	l.needsRedraw = true
	return nil
}

// RemoveEntity unregisters an entity by id.
func (l *MainLoop) RemoveEntity(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entities {
		if e.ID() == id {
			l.entities = append(l.entities[:i], l.entities[i+1:]...)
			return
		}
	}
}

// Entities returns the registered entities.
func (l *MainLoop) Entities() []Entity {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entity, len(l.entities))
	copy(out, l.entities)
	return out
}

// NotifyChange requests a new frame. The source, when non-nil, is handed
// to PreUpdate so entities can narrow their traversal.
func (l *MainLoop) NotifyChange(source any, needsRedraw bool) {
	l.mu.Lock()
	if source != nil {
		l.changeSources = append(l.changeSources, source)
	}
	l.needsRedraw = l.needsRedraw || needsRedraw
	l.mu.Unlock()

	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// NeedsFrame reports whether a change or pending scheduler work warrants
// another frame.
func (l *MainLoop) NeedsFrame() bool {
	l.mu.Lock()
	dirty := l.needsRedraw || len(l.changeSources) > 0
	l.mu.Unlock()
	return dirty || l.queue.PendingRequests() > 0 || l.queue.ConcurrentRequests() > 0
}

// Step executes exactly one frame: update-start, entity traversals,
// render bracketed by its events, then the cleanup pass.
func (l *MainLoop) Step(ctx context.Context) FrameInfo {
	start := time.Now()

	l.mu.Lock()
	l.frame++
	frame := l.frame
	changes := l.changeSources
	l.changeSources = nil
	l.needsRedraw = false
	entities := make([]Entity, len(l.entities))
	copy(entities, l.entities)
	l.mu.Unlock()

	info := FrameInfo{Frame: frame}
	l.hooks.Emit(EventUpdateStart, info)

	var displayed []TreeNode
	for _, e := range entities {
		if !e.Visible() {
			continue
		}
		visited := l.updateEntity(e, frame, changes)
		info.Visited += visited
		displayed = append(displayed, e.Displayed()...)
	}
	info.Displayed = len(displayed)

	l.hooks.Emit(EventBeforeRender, info)
	if l.renderer != nil {
		l.renderer.Render(View{Displayed: displayed, Camera: l.camera})
	}
	l.hooks.Emit(EventAfterRender, info)

	// Cleanup pass.
	for _, e := range entities {
		cctx := l.newContext(frame)
		l.safely(e, "postUpdate", func() { e.PostUpdate(cctx) })
	}
	info.Flushed = l.cache.Flush()
	info.Duration = time.Since(start)
	l.hooks.Emit(EventUpdateEnd, info)
	return info
}

func (l *MainLoop) newContext(frame uint64) *Context {
	return &Context{
		Camera: l.camera,
		Queue:  l.queue,
		Cache:  l.cache,
		CRS:    l.reg,
		Frame:  frame,
		Budget: l.budget,
	}
}

// updateEntity runs one entity's traversal, parent before child, pruning
// where Update returns no children.
func (l *MainLoop) updateEntity(e Entity, frame uint64, changes []any) int {
	cctx := l.newContext(frame)

	var roots []TreeNode
	l.safely(e, "preUpdate", func() { roots = e.PreUpdate(cctx, changes) })
	if cctx.FastUpdateHint != nil {
		roots = []TreeNode{cctx.FastUpdateHint}
	}

	// Depth-first, preserving the child order entities return: the stack
	// pushes children reversed so the first child is visited first.
	stack := make([]TreeNode, len(roots))
	copy(stack, roots)
	reverse(stack)

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !cctx.Visit() {
			l.logger.Debug("entity update budget exhausted",
				"entity", e.ID(), "visited", cctx.Visited())
			break
		}
		var children []TreeNode
		l.safely(e, "update", func() { children = e.Update(cctx, n) })
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return cctx.Visited()
}

// safely isolates a faulty entity: one panic never fails the frame.
func (l *MainLoop) safely(e Entity, phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("entity hook panicked",
				"entity", e.ID(), "phase", phase, "panic", r)
		}
	}()
	fn()
}

// Run executes frames until ctx is cancelled, waking on NotifyChange and
// on a short heartbeat while scheduler work is pending.
func (l *MainLoop) Run(ctx context.Context) {
	heartbeat := time.NewTicker(16 * time.Millisecond)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.trigger:
			l.Step(ctx)
		case <-heartbeat.C:
			if l.NeedsFrame() {
				l.Step(ctx)
			}
		}
	}
}

func reverse(nodes []TreeNode) {
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
}
