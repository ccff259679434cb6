// Package request provides the priority-ordered, bounded-concurrency
// dispatcher that funnels every asynchronous fetch and decode in a scene.
// Entries are deduplicated by key: while a key is queued or executing,
// enqueueing it again returns the existing promise and only raises its
// priority.
package request

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rotisserie/eris"
)

// ErrAborted is returned by a promise whose entry was dropped before its
// task ran: its shouldExecute predicate said no, or the queue was cleared.
var ErrAborted = eris.New("request aborted")

// IsAborted reports whether err comes from a dropped entry. Callers treat
// aborts as benign.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// Task produces the content a request was enqueued for.
type Task func(ctx context.Context) (any, error)

// Predicate is re-evaluated immediately before the task runs. Returning
// false drops the entry with ErrAborted.
type Predicate func() bool

// Pending is the promise side of an enqueued request.
type Pending struct {
	done   chan struct{}
	once   sync.Once
	result any
	err    error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Done is closed once the request settles.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the outcome. It is only meaningful after Done is closed;
// before that it reports not-settled.
func (p *Pending) Result() (any, error) {
	select {
	case <-p.done:
		return p.result, p.err
	default:
		return nil, eris.New("request not settled")
	}
}

// Wait blocks until the request settles or ctx is done.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pending) settle(result any, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}

type entry struct {
	key           string
	priority      float64
	seq           uint64
	task          Task
	shouldExecute Predicate
	pending       *Pending
	index         int // heap position, -1 once popped
}

// entryHeap orders by priority descending, then enqueue order.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Config configures a Queue.
type Config struct {
	// MaxConcurrent bounds the number of tasks running at once (default 10).
	MaxConcurrent int
	// Logger for dispatch diagnostics.
	Logger *slog.Logger
}

// Queue dispatches tasks with bounded concurrency, strict priority order
// and key deduplication. It never stops on a failing task.
type Queue struct {
	mu      sync.Mutex
	heap    entryHeap
	byKey   map[string]*entry
	running int
	seq     uint64
	max     int
	logger  *slog.Logger
	onEmpty []func()
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewQueue creates a queue ready to accept requests.
func NewQueue(cfg Config) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		byKey:  make(map[string]*entry),
		max:    cfg.MaxConcurrent,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue schedules task under key. If key is already queued or executing,
// the existing promise is returned and its priority raised to
// max(existing, priority). Higher priorities dispatch first; equal
// priorities dispatch in enqueue order.
func (q *Queue) Enqueue(key string, priority float64, task Task, shouldExecute Predicate) *Pending {
	q.mu.Lock()
	if existing, ok := q.byKey[key]; ok {
		if priority > existing.priority {
			existing.priority = priority
			if existing.index >= 0 {
				heap.Fix(&q.heap, existing.index)
			}
		}
		p := existing.pending
		q.mu.Unlock()
		return p
	}
	e := &entry{
		key:           key,
		priority:      priority,
		seq:           q.seq,
		task:          task,
		shouldExecute: shouldExecute,
		pending:       newPending(),
	}
	q.seq++
	q.byKey[key] = e
	heap.Push(&q.heap, e)
	q.mu.Unlock()

	q.dispatch()
	return e.pending
}

// PendingRequests returns the number of queued, not yet executing entries.
func (q *Queue) PendingRequests() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// ConcurrentRequests returns the number of currently executing tasks.
func (q *Queue) ConcurrentRequests() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// OnEmpty registers fn to run each time the queue drains (no queued and no
// executing entries). Used for entity progress accounting.
func (q *Queue) OnEmpty(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onEmpty = append(q.onEmpty, fn)
}

// Clear drops every queued entry, rejecting its promise with ErrAborted.
// Executing tasks are not interrupted.
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := make([]*entry, 0, q.heap.Len())
	for q.heap.Len() > 0 {
		e := heap.Pop(&q.heap).(*entry)
		delete(q.byKey, e.key)
		dropped = append(dropped, e)
	}
	q.mu.Unlock()
	for _, e := range dropped {
		e.pending.settle(nil, eris.Wrapf(ErrAborted, "queue cleared (key %s)", e.key))
	}
	q.notifyIfEmpty()
}

// Stop cancels the context handed to running tasks and clears the queue.
func (q *Queue) Stop() {
	q.cancel()
	q.Clear()
}

// dispatch launches ready entries while concurrency headroom remains.
func (q *Queue) dispatch() {
	for {
		q.mu.Lock()
		if q.running >= q.max || q.heap.Len() == 0 {
			q.mu.Unlock()
			return
		}
		e := heap.Pop(&q.heap).(*entry)

		// Admission gate: the predicate is the caller's cancellation hook,
		// checked as late as possible.
		if e.shouldExecute != nil && !e.shouldExecute() {
			delete(q.byKey, e.key)
			q.mu.Unlock()
			e.pending.settle(nil, eris.Wrapf(ErrAborted, "not executed (key %s)", e.key))
			q.notifyIfEmpty()
			continue
		}

		q.running++
		q.mu.Unlock()

		go q.run(e)
	}
}

func (q *Queue) run(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("request task panicked", "key", e.key, "panic", r)
			q.finish(e, nil, eris.Errorf("task panic: %v", r))
		}
	}()
	result, err := e.task(q.ctx)
	q.finish(e, result, err)
}

func (q *Queue) finish(e *entry, result any, err error) {
	q.mu.Lock()
	q.running--
	delete(q.byKey, e.key)
	q.mu.Unlock()

	e.pending.settle(result, err)
	q.dispatch()
	q.notifyIfEmpty()
}

func (q *Queue) notifyIfEmpty() {
	q.mu.Lock()
	empty := q.running == 0 && q.heap.Len() == 0
	hooks := q.onEmpty
	q.mu.Unlock()
	if !empty {
		return
	}
	for _, fn := range hooks {
		fn()
	}
}
