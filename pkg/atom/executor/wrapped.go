package executor

import (
	"context"
	"sync"

	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
	"github.com/randalmurphal/atom/pkg/atom/observability"
)

// Runner is an executor owned elsewhere, reduced to "run fn eventually".
// A plain `func(fn func()) { go fn() }` is a valid Runner.
type Runner func(fn func())

// Detector reports whether ctx belongs to work running on a foreign
// runner, for runners that carry their own markers.
type Detector func(ctx context.Context) bool

// Wrapped adapts a Runner to the Executor lifecycle. Shutdown only stops
// this adapter; the runner itself is left alone.
type Wrapped struct {
	*lifecycle
	runner   Runner
	detector Detector

	mu       sync.RWMutex
	inflight sync.WaitGroup
}

var _ Executor = (*Wrapped)(nil)

func newWrapped(s settings, runner Runner, detector Detector) *Wrapped {
	return &Wrapped{
		lifecycle: newLifecycle(s),
		runner:    runner,
		detector:  detector,
	}
}

// Execute implements Executor.
func (w *Wrapped) Execute(task Runnable) error {
	if task == nil {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.IsShutdown() {
		return w.reject(aerrors.RejectShutdown)
	}
	w.submitted.Add(1)
	w.inflight.Add(1)
	w.runner(func() {
		defer w.inflight.Done()
		w.run(withOwner(w.root, w.lifecycle), task)
	})
	return nil
}

// Owns implements Executor. It also consults the detector, if any.
func (w *Wrapped) Owns(ctx context.Context) bool {
	if w.lifecycle.Owns(ctx) {
		return true
	}
	return w.detector != nil && ctx != nil && w.detector(ctx)
}

// Shutdown implements Executor.
func (w *Wrapped) Shutdown() {
	w.mu.Lock()
	first := w.beginShutdown()
	w.mu.Unlock()
	if !first {
		return
	}
	observability.LogExecutorShutdown(w.logger, false, 0)
	go func() {
		w.inflight.Wait()
		w.markTerminated()
	}()
}

// ShutdownNow implements Executor. Tasks already handed to the runner
// cannot be recalled, so the result is always empty.
func (w *Wrapped) ShutdownNow() []Runnable {
	w.Shutdown()
	w.interrupt()
	return nil
}

// Stats implements Executor.
func (w *Wrapped) Stats() Stats {
	s := w.baseStats()
	// Counters are read independently, so clamp transient skew.
	s.Queued = max(int(int64(s.Submitted)-int64(s.Completed)-s.Active), 0)
	return s
}
