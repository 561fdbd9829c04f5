package executor

import (
	"context"
	"sync"

	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
	"github.com/randalmurphal/atom/pkg/atom/observability"
)

// Grouped runs tasks on an underlying pool with at most one task per key
// in flight. A key with a running task is armed; further tasks for it wait
// in a FIFO queue and are dispatched one by one from the completion of the
// previous task. Tasks under different keys run concurrently.
//
// The arming map and every key's queue are guarded by a single mutex, so a
// completing task's hand-off is always visible to the next submitter. When
// the pool is saturated the hand-off runs on the releasing goroutine, which
// still holds the key.
type Grouped[K comparable] struct {
	*lifecycle
	pool *Pool

	mu       sync.Mutex
	handoffs *sync.Cond
	groups   map[K][]Runnable
	queued   int
	handing  int
	stopNow  bool
	orphans  []Runnable
}

var _ Executor = (*Grouped[string])(nil)

func newGrouped[K comparable](s settings, cfg poolConfig) *Grouped[K] {
	inner := s
	inner.name = s.name + ".pool"
	inner.metrics = observability.NoopMetrics{}
	g := &Grouped[K]{
		lifecycle: newLifecycle(s),
		pool:      newPool(inner, cfg),
		groups:    make(map[K][]Runnable),
	}
	g.handoffs = sync.NewCond(&g.mu)
	return g
}

// ExecuteGrouped submits task under key.
func (g *Grouped[K]) ExecuteGrouped(key K, task Runnable) error {
	if task == nil {
		return nil
	}
	g.mu.Lock()
	if g.IsShutdown() {
		g.mu.Unlock()
		return g.reject(aerrors.RejectShutdown)
	}
	if pending, armed := g.groups[key]; armed {
		g.groups[key] = append(pending, task)
		g.queued++
		g.submitted.Add(1)
		g.mu.Unlock()
		g.metrics.RecordQueued(context.Background(), g.name, 1)
		return nil
	}
	g.groups[key] = nil
	g.mu.Unlock()

	if reason, ok := g.pool.offer(g.wrap(key, task)); !ok {
		// Tasks queued behind the refused one were accepted and still run.
		g.release(withOwner(g.root, g.lifecycle), key)
		return g.reject(reason)
	}
	g.submitted.Add(1)
	return nil
}

// Execute implements Executor. Tasks without a key run on the pool
// without any ordering.
func (g *Grouped[K]) Execute(task Runnable) error {
	if task == nil {
		return nil
	}
	if g.IsShutdown() {
		return g.reject(aerrors.RejectShutdown)
	}
	if reason, ok := g.pool.offer(func(ctx context.Context) {
		g.run(withOwner(ctx, g.lifecycle), task)
	}); !ok {
		return g.reject(reason)
	}
	g.submitted.Add(1)
	return nil
}

func (g *Grouped[K]) wrap(key K, task Runnable) Runnable {
	return func(ctx context.Context) {
		ctx = withOwner(ctx, g.lifecycle)
		defer g.release(ctx, key)
		g.run(ctx, task)
	}
}

// release hands the key to its next queued task, or disarms it. ctx is the
// context a task refused by the pool runs under.
func (g *Grouped[K]) release(ctx context.Context, key K) {
	for {
		g.mu.Lock()
		pending, armed := g.groups[key]
		if !armed {
			g.mu.Unlock()
			return
		}
		if len(pending) == 0 {
			delete(g.groups, key)
			drained := len(g.groups) == 0 && g.IsShutdown()
			g.mu.Unlock()
			if drained {
				g.pool.Shutdown()
			}
			return
		}
		next := pending[0]
		pending[0] = nil
		g.groups[key] = pending[1:]
		g.queued--
		g.handing++
		g.mu.Unlock()
		g.metrics.RecordQueued(context.Background(), g.name, -1)

		_, accepted := g.pool.offer(g.wrap(key, next))

		g.mu.Lock()
		g.handing--
		stopped := g.stopNow
		if !accepted && stopped {
			g.orphans = append(g.orphans, next)
		}
		g.handoffs.Broadcast()
		g.mu.Unlock()

		switch {
		case accepted:
			return
		case stopped:
			// ShutdownNow disarmed every key and returns next.
			continue
		}
		g.run(ctx, next)
	}
}

// Shutdown implements Executor. Queued keyed tasks still run; the pool
// shuts down once every key has drained.
func (g *Grouped[K]) Shutdown() {
	g.mu.Lock()
	if !g.beginShutdown() {
		g.mu.Unlock()
		return
	}
	idle := len(g.groups) == 0
	g.mu.Unlock()

	observability.LogExecutorShutdown(g.logger, false, 0)
	if idle {
		g.pool.Shutdown()
	}
	go g.awaitPool()
}

// ShutdownNow implements Executor.
func (g *Grouped[K]) ShutdownNow() []Runnable {
	g.mu.Lock()
	first := g.beginShutdown()
	g.stopNow = true
	var pending []Runnable
	for key, tasks := range g.groups {
		pending = append(pending, tasks...)
		delete(g.groups, key)
	}
	dropped := g.queued
	g.queued = 0
	g.mu.Unlock()

	if dropped > 0 {
		g.metrics.RecordQueued(context.Background(), g.name, -int64(dropped))
	}
	pending = append(pending, g.pool.ShutdownNow()...)

	// A hand-off in flight may have been refused by the stopped pool.
	g.mu.Lock()
	for g.handing > 0 {
		g.handoffs.Wait()
	}
	pending = append(pending, g.orphans...)
	g.orphans = nil
	g.mu.Unlock()

	g.interrupt()
	observability.LogExecutorShutdown(g.logger, true, len(pending))
	if first {
		go g.awaitPool()
	}
	return pending
}

func (g *Grouped[K]) awaitPool() {
	<-g.pool.terminated
	g.markTerminated()
}

// ActiveGroups returns the number of armed keys.
func (g *Grouped[K]) ActiveGroups() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.groups)
}

// Stats implements Executor.
func (g *Grouped[K]) Stats() Stats {
	s := g.baseStats()
	ps := g.pool.Stats()
	g.mu.Lock()
	s.Queued = g.queued + ps.Queued
	g.mu.Unlock()
	s.Workers = ps.Workers
	return s
}
