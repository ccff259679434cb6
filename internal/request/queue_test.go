package request

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
)

func waitAll(t *testing.T, pendings []*Pending) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, p := range pendings {
		if _, err := p.Wait(ctx); err != nil && ctx.Err() != nil {
			t.Fatal("timed out waiting for queue to drain")
		}
	}
}

func TestTaskResultPropagates(t *testing.T) {
	q := NewQueue(Config{MaxConcurrent: 2})
	p := q.Enqueue("a", 1, func(context.Context) (any, error) { return "payload", nil }, nil)
	v, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v != "payload" {
		t.Errorf("result = %v, want payload", v)
	}
}

func TestTaskErrorPropagatesAndFreesSlot(t *testing.T) {
	q := NewQueue(Config{MaxConcurrent: 1})
	boom := eris.New("boom")
	p1 := q.Enqueue("a", 1, func(context.Context) (any, error) { return nil, boom }, nil)
	p2 := q.Enqueue("b", 1, func(context.Context) (any, error) { return 2, nil }, nil)

	if _, err := p1.Wait(context.Background()); !errors.Is(err, boom) {
		t.Errorf("p1 error = %v, want boom", err)
	}
	if v, err := p2.Wait(context.Background()); err != nil || v != 2 {
		t.Errorf("queue halted after failure: %v, %v", v, err)
	}
}

func TestDeduplication(t *testing.T) {
	q := NewQueue(Config{MaxConcurrent: 1})
	var executions atomic.Int32
	release := make(chan struct{})

	// Occupy the only slot so the deduplicated key stays queued.
	blocker := q.Enqueue("blocker", 100, func(context.Context) (any, error) {
		<-release
		return nil, nil
	}, nil)

	task := func(context.Context) (any, error) {
		executions.Add(1)
		return "once", nil
	}
	p1 := q.Enqueue("dup", 1, task, nil)
	p2 := q.Enqueue("dup", 5, task, nil)
	if p1 != p2 {
		t.Error("same key must return the same promise")
	}

	close(release)
	waitAll(t, []*Pending{blocker, p1, p2})
	if executions.Load() != 1 {
		t.Errorf("task executed %d times, want 1", executions.Load())
	}
}

func TestReEnqueueRaisesPriority(t *testing.T) {
	q := NewQueue(Config{MaxConcurrent: 1})
	release := make(chan struct{})
	var order []string
	var mu sync.Mutex
	record := func(name string) Task {
		return func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	blocker := q.Enqueue("blocker", 100, func(context.Context) (any, error) {
		<-release
		return nil, nil
	}, nil)
	low := q.Enqueue("low", 1, record("low"), nil)
	high := q.Enqueue("boosted", 0, record("boosted"), nil)
	q.Enqueue("boosted", 50, record("boosted"), nil) // raise

	close(release)
	waitAll(t, []*Pending{blocker, low, high})

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "boosted" {
		t.Errorf("dispatch order = %v, want boosted first", order)
	}
}

func TestPriorityFairness(t *testing.T) {
	q := NewQueue(Config{MaxConcurrent: 4})
	lastFinish := map[float64]*atomic.Int64{10: {}, 5: {}, 1: {}}
	var pendings []*Pending
	var seq atomic.Int64

	for i := 0; i < 50; i++ {
		for _, pri := range []float64{10, 5, 1} {
			pri := pri
			key := fmt.Sprintf("p%v-%d", pri, i)
			pendings = append(pendings, q.Enqueue(key, pri, func(context.Context) (any, error) {
				time.Sleep(time.Millisecond)
				lastFinish[pri].Store(seq.Add(1))
				return nil, nil
			}, nil))
		}
	}
	waitAll(t, pendings)

	f10, f5, f1 := lastFinish[10].Load(), lastFinish[5].Load(), lastFinish[1].Load()
	if !(f10 < f5 && f5 < f1) {
		t.Errorf("last-finish order = p10:%d p5:%d p1:%d, want ascending", f10, f5, f1)
	}
}

func TestConcurrencyCeiling(t *testing.T) {
	q := NewQueue(Config{MaxConcurrent: 2})
	var current, peak atomic.Int32
	var pendings []*Pending

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("t%d", i)
		pendings = append(pendings, q.Enqueue(key, 1, func(context.Context) (any, error) {
			c := current.Add(1)
			for {
				p := peak.Load()
				if c <= p || peak.CompareAndSwap(p, c) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
			return nil, nil
		}, nil))
	}
	waitAll(t, pendings)

	if peak.Load() > 2 {
		t.Errorf("observed %d concurrent tasks, limit is 2", peak.Load())
	}
	if q.PendingRequests() != 0 {
		t.Errorf("pendingRequests = %d after drain, want 0", q.PendingRequests())
	}
	if q.ConcurrentRequests() != 0 {
		t.Errorf("concurrentRequests = %d after drain, want 0", q.ConcurrentRequests())
	}
}

func TestShouldExecuteGate(t *testing.T) {
	q := NewQueue(Config{MaxConcurrent: 1})
	var ran atomic.Bool
	p := q.Enqueue("gated", 1, func(context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	}, func() bool { return false })

	_, err := p.Wait(context.Background())
	if !IsAborted(err) {
		t.Errorf("error = %v, want aborted", err)
	}
	if ran.Load() {
		t.Error("task ran despite failing admission")
	}
}

func TestClearRejectsQueued(t *testing.T) {
	q := NewQueue(Config{MaxConcurrent: 1})
	release := make(chan struct{})
	blocker := q.Enqueue("blocker", 100, func(context.Context) (any, error) {
		<-release
		return "done", nil
	}, nil)
	queued := q.Enqueue("queued", 1, func(context.Context) (any, error) { return nil, nil }, nil)

	q.Clear()
	if _, err := queued.Wait(context.Background()); !IsAborted(err) {
		t.Errorf("cleared entry error = %v, want aborted", err)
	}

	// The executing task is not interrupted.
	close(release)
	if v, err := blocker.Wait(context.Background()); err != nil || v != "done" {
		t.Errorf("executing task affected by Clear: %v, %v", v, err)
	}
}

func TestOnEmptyFiresAfterDrain(t *testing.T) {
	q := NewQueue(Config{MaxConcurrent: 2})
	drained := make(chan struct{}, 8)
	q.OnEmpty(func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})

	var pendings []*Pending
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("t%d", i)
		pendings = append(pendings, q.Enqueue(key, 1, func(context.Context) (any, error) {
			time.Sleep(time.Millisecond)
			return nil, nil
		}, nil))
	}
	waitAll(t, pendings)

	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("OnEmpty never fired")
	}
}

func TestPanickingTaskSettlesPromise(t *testing.T) {
	q := NewQueue(Config{MaxConcurrent: 1})
	p := q.Enqueue("p", 1, func(context.Context) (any, error) { panic("kaboom") }, nil)
	_, err := p.Wait(context.Background())
	if err == nil {
		t.Error("panicking task must reject its promise")
	}
	// The slot is free again.
	p2 := q.Enqueue("after", 1, func(context.Context) (any, error) { return 1, nil }, nil)
	if _, err := p2.Wait(context.Background()); err != nil {
		t.Errorf("queue unusable after task panic: %v", err)
	}
}
