package scene

import "sync"

// Event names the hook points of a frame.
type Event string

const (
	// EventUpdateStart fires before any entity updates.
	EventUpdateStart Event = "update-start"
	// EventBeforeRender fires after traversal, before the render call.
	EventBeforeRender Event = "before-render"
	// EventAfterRender fires right after the render call.
	EventAfterRender Event = "after-render"
	// EventUpdateEnd fires after the cleanup pass.
	EventUpdateEnd Event = "update-end"
	// EventPickingEnd fires after a picking read-back completes.
	EventPickingEnd Event = "picking-end"
)

// Handler receives the event payload; for frame events this is FrameInfo.
type Handler func(payload any)

type handlerEntry struct {
	id int
	fn Handler
}

// Hooks is the narrow in-process publish/subscribe collaborators register
// with. Registration order is delivery order.
type Hooks struct {
	mu       sync.Mutex
	nextID   int
	handlers map[Event][]handlerEntry
}

// NewHooks returns an empty hook table.
func NewHooks() *Hooks {
	return &Hooks{handlers: make(map[Event][]handlerEntry)}
}

// On registers fn for ev and returns the unsubscribe function.
func (h *Hooks) On(ev Event, fn Handler) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.handlers[ev] = append(h.handlers[ev], handlerEntry{id: id, fn: fn})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		entries := h.handlers[ev]
		for i, e := range entries {
			if e.id == id {
				h.handlers[ev] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers payload to the handlers registered for ev.
func (h *Hooks) Emit(ev Event, payload any) {
	h.mu.Lock()
	entries := make([]handlerEntry, len(h.handlers[ev]))
	copy(entries, h.handlers[ev])
	h.mu.Unlock()

	for _, e := range entries {
		e.fn(payload)
	}
}
