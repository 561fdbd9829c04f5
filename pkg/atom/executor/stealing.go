package executor

import (
	"context"
	"sync"
	"sync/atomic"

	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
	"github.com/randalmurphal/atom/pkg/atom/observability"
)

// deque is a mutex-guarded double-ended task queue. The owning worker
// takes from the tail (LIFO) or head (FIFO); thieves always take from
// the head.
type deque struct {
	mu    sync.Mutex
	tasks []Runnable
}

func (d *deque) push(task Runnable) {
	d.mu.Lock()
	d.tasks = append(d.tasks, task)
	d.mu.Unlock()
}

func (d *deque) popTail() (Runnable, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.tasks)
	if n == 0 {
		return nil, false
	}
	task := d.tasks[n-1]
	d.tasks[n-1] = nil
	d.tasks = d.tasks[:n-1]
	return task, true
}

func (d *deque) popHead() (Runnable, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tasks) == 0 {
		return nil, false
	}
	task := d.tasks[0]
	d.tasks[0] = nil
	d.tasks = d.tasks[1:]
	return task, true
}

func (d *deque) drain() []Runnable {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.tasks
	d.tasks = nil
	return out
}

func (d *deque) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

type workerKey struct{}

// StealingPool runs tasks on a fixed set of workers, each with its own
// deque. Tasks submitted from outside are spread round-robin; tasks
// submitted with Fork from inside a worker go to that worker's deque.
// A worker with an empty deque steals the oldest task of another worker.
//
// In async mode workers take their own tasks oldest first, which suits
// event-style tasks that are never joined.
type StealingPool struct {
	*lifecycle
	asyncMode bool

	mu     sync.RWMutex
	deques []*deque
	next   atomic.Uint64
	wake   chan struct{}
	quit   chan struct{}
	wg     sync.WaitGroup
}

var _ Executor = (*StealingPool)(nil)

func newStealingPool(s settings, parallelism int, asyncMode bool) *StealingPool {
	p := &StealingPool{
		lifecycle: newLifecycle(s),
		asyncMode: asyncMode,
		deques:    make([]*deque, parallelism),
		wake:      make(chan struct{}, parallelism),
		quit:      make(chan struct{}),
	}
	for i := range p.deques {
		p.deques[i] = &deque{}
	}
	p.wg.Add(parallelism)
	for i := range p.deques {
		go p.worker(i)
	}
	return p
}

// Parallelism returns the number of workers.
func (p *StealingPool) Parallelism() int { return len(p.deques) }

// Execute implements Executor.
func (p *StealingPool) Execute(task Runnable) error {
	idx := int(p.next.Add(1) % uint64(len(p.deques)))
	return p.push(idx, task)
}

// Fork submits task to the deque of the worker running ctx, or spreads it
// like Execute when ctx does not come from this pool.
func (p *StealingPool) Fork(ctx context.Context, task Runnable) error {
	if idx, ok := p.workerIndex(ctx); ok {
		return p.push(idx, task)
	}
	return p.Execute(task)
}

func (p *StealingPool) workerIndex(ctx context.Context) (int, bool) {
	if !p.Owns(ctx) {
		return 0, false
	}
	w, ok := ctx.Value(workerKey{}).(int)
	return w, ok
}

func (p *StealingPool) push(idx int, task Runnable) error {
	if task == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.IsShutdown() {
		return p.reject(aerrors.RejectShutdown)
	}
	p.deques[idx].push(task)
	p.submitted.Add(1)
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *StealingPool) worker(idx int) {
	defer p.wg.Done()
	ctx := context.WithValue(withOwner(p.root, p.lifecycle), workerKey{}, idx)

	for {
		if task, ok := p.take(idx); ok {
			p.run(ctx, task)
			continue
		}
		if p.IsShutdown() && p.empty() {
			return
		}
		select {
		case <-p.wake:
		case <-p.quit:
			if p.empty() {
				return
			}
		}
	}
}

// take returns a task from the worker's own deque, or steals one.
func (p *StealingPool) take(idx int) (Runnable, bool) {
	own := p.deques[idx]
	var task Runnable
	var ok bool
	if p.asyncMode {
		task, ok = own.popHead()
	} else {
		task, ok = own.popTail()
	}
	if ok {
		return task, true
	}
	n := len(p.deques)
	for i := 1; i < n; i++ {
		if task, ok := p.deques[(idx+i)%n].popHead(); ok {
			return task, true
		}
	}
	return nil, false
}

func (p *StealingPool) empty() bool {
	for _, d := range p.deques {
		if d.len() > 0 {
			return false
		}
	}
	return true
}

// Shutdown implements Executor.
func (p *StealingPool) Shutdown() {
	p.mu.Lock()
	if !p.beginShutdown() {
		p.mu.Unlock()
		return
	}
	close(p.quit)
	p.mu.Unlock()

	observability.LogExecutorShutdown(p.logger, false, 0)
	go p.awaitWorkers()
}

// ShutdownNow implements Executor.
func (p *StealingPool) ShutdownNow() []Runnable {
	p.mu.Lock()
	first := p.beginShutdown()
	if first {
		close(p.quit)
	}
	var pending []Runnable
	for _, d := range p.deques {
		pending = append(pending, d.drain()...)
	}
	p.mu.Unlock()

	p.interrupt()
	observability.LogExecutorShutdown(p.logger, true, len(pending))
	if first {
		go p.awaitWorkers()
	}
	return pending
}

func (p *StealingPool) awaitWorkers() {
	p.wg.Wait()
	p.markTerminated()
}

// Stats implements Executor.
func (p *StealingPool) Stats() Stats {
	s := p.baseStats()
	for _, d := range p.deques {
		s.Queued += d.len()
	}
	s.Workers = len(p.deques)
	return s
}
