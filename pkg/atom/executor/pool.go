package executor

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
	"github.com/randalmurphal/atom/pkg/atom/observability"
)

// poolConfig configures a Pool.
type poolConfig struct {
	core             int
	max              int
	keepAlive        time.Duration
	allowCoreTimeout bool
	queueCapacity    int
}

// Pool is an elastic worker pool. Submissions first fill the core
// workers, then the queue, then extra workers up to the maximum; once all
// three are exhausted they are rejected. Workers beyond the core count
// exit after sitting idle for the keep-alive period, as do core workers
// when core timeout is allowed.
//
// A Pool with no queue is a cached pool: a submission is handed to an idle
// worker if one is waiting, otherwise a new worker is started.
type Pool struct {
	*lifecycle
	cfg poolConfig

	// mu is held for reading while submitting and for writing while the
	// queue is closed.
	mu    sync.RWMutex
	queue chan Runnable

	workers atomic.Int32
	wg      sync.WaitGroup

	droppedMu sync.Mutex
	dropped   []Runnable
	sealed    bool
	stopNow   atomic.Bool
}

var _ Executor = (*Pool)(nil)

func newPool(s settings, cfg poolConfig) *Pool {
	if cfg.max <= 0 {
		cfg.max = math.MaxInt32
	}
	return &Pool{
		lifecycle: newLifecycle(s),
		cfg:       cfg,
		queue:     make(chan Runnable, cfg.queueCapacity),
	}
}

// Execute implements Executor.
func (p *Pool) Execute(task Runnable) error {
	if task == nil {
		return nil
	}
	if reason, ok := p.offer(task); !ok {
		return p.reject(reason)
	}
	return nil
}

// offer places task on a worker or the queue without recording a refusal.
func (p *Pool) offer(task Runnable) (aerrors.RejectReason, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.IsShutdown() {
		return aerrors.RejectShutdown, false
	}

	if p.trySpawn(task, p.cfg.core) {
		p.submitted.Add(1)
		return "", true
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		// Every worker may have timed out between the spawn check and the send.
		if p.workers.Load() == 0 {
			p.trySpawn(nil, max(p.cfg.core, 1))
		}
		return "", true
	default:
	}

	if p.trySpawn(task, p.cfg.max) {
		p.submitted.Add(1)
		return "", true
	}
	return aerrors.RejectSaturated, false
}

// trySpawn starts a worker if fewer than limit are alive. Callers hold mu
// for reading.
func (p *Pool) trySpawn(first Runnable, limit int) bool {
	for {
		n := p.workers.Load()
		if int(n) >= limit {
			return false
		}
		if p.workers.CompareAndSwap(n, n+1) {
			p.wg.Add(1)
			go p.worker(first)
			return true
		}
	}
}

func (p *Pool) worker(first Runnable) {
	defer p.wg.Done()

	if first != nil {
		p.runTask(first)
	}

	var idle *time.Timer
	if p.cfg.keepAlive > 0 {
		idle = time.NewTimer(p.cfg.keepAlive)
		defer idle.Stop()
	}

	for {
		var expired <-chan time.Time
		if idle != nil && p.mayTimeOut() {
			idle.Reset(p.cfg.keepAlive)
			expired = idle.C
		}

		select {
		case task, ok := <-p.queue:
			if !ok {
				p.workers.Add(-1)
				return
			}
			if p.stopNow.Load() && p.handBack(task) {
				continue
			}
			p.runTask(task)
		case <-expired:
			if p.retire() {
				return
			}
		}
	}
}

// handBack parks a task dequeued after ShutdownNow so it is returned to
// the caller. Once ShutdownNow has collected the parked tasks it reports
// false and the worker runs the task under the interrupted context.
func (p *Pool) handBack(task Runnable) bool {
	p.droppedMu.Lock()
	defer p.droppedMu.Unlock()
	if p.sealed {
		return false
	}
	p.dropped = append(p.dropped, task)
	return true
}

func (p *Pool) mayTimeOut() bool {
	return p.cfg.allowCoreTimeout || int(p.workers.Load()) > p.cfg.core
}

// retire decrements the worker count if this worker is allowed to exit.
func (p *Pool) retire() bool {
	for {
		n := p.workers.Load()
		if !p.cfg.allowCoreTimeout && int(n) <= p.cfg.core {
			return false
		}
		if p.workers.CompareAndSwap(n, n-1) {
			break
		}
	}
	// A task may have been queued while this worker was deciding to leave.
	if len(p.queue) > 0 && p.workers.Load() == 0 {
		p.mu.RLock()
		if !p.IsShutdown() {
			p.trySpawn(nil, max(p.cfg.core, 1))
		}
		p.mu.RUnlock()
	}
	return true
}

func (p *Pool) runTask(task Runnable) {
	p.run(withOwner(p.root, p.lifecycle), task)
}

// Shutdown implements Executor.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.beginShutdown() {
		p.mu.Unlock()
		return
	}
	close(p.queue)
	p.mu.Unlock()

	observability.LogExecutorShutdown(p.logger, false, 0)
	go p.awaitWorkers()
}

// ShutdownNow implements Executor.
func (p *Pool) ShutdownNow() []Runnable {
	p.mu.Lock()
	p.stopNow.Store(true)
	first := p.beginShutdown()
	if first {
		close(p.queue)
	}
	p.mu.Unlock()

	// Drain before interrupting so busy workers cannot race for the queue.
	var pending []Runnable
	for task := range p.queue {
		pending = append(pending, task)
	}
	p.droppedMu.Lock()
	pending = append(pending, p.dropped...)
	p.dropped = nil
	p.sealed = true
	p.droppedMu.Unlock()

	p.interrupt()

	observability.LogExecutorShutdown(p.logger, true, len(pending))
	if first {
		go p.awaitWorkers()
	}
	return pending
}

func (p *Pool) awaitWorkers() {
	p.wg.Wait()
	p.markTerminated()
}

// Stats implements Executor.
func (p *Pool) Stats() Stats {
	s := p.baseStats()
	s.Queued = len(p.queue)
	s.Workers = int(p.workers.Load())
	return s
}
