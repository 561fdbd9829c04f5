package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
	"github.com/randalmurphal/atom/pkg/atom/observability"
)

// Runnable is a unit of work. The context is cancelled when the executor
// is stopped with ShutdownNow, and it identifies the running executor to
// Owns.
type Runnable func(ctx context.Context)

// Executor runs submitted tasks on goroutines it manages.
type Executor interface {
	// Name returns the executor's registry name.
	Name() string

	// Execute submits a task. It returns a *errors.RejectedError when the
	// executor is shutting down or saturated.
	Execute(task Runnable) error

	// Shutdown stops accepting tasks. Accepted tasks still run.
	Shutdown()

	// ShutdownNow stops accepting tasks, cancels running ones and returns
	// queued tasks that never started.
	ShutdownNow() []Runnable

	// IsShutdown reports whether Shutdown or ShutdownNow was called.
	IsShutdown() bool

	// IsTerminated reports whether every accepted task has finished after
	// a shutdown.
	IsTerminated() bool

	// AwaitTermination blocks until the executor terminates or ctx ends.
	// It reports whether termination was observed.
	AwaitTermination(ctx context.Context) bool

	// Owns reports whether ctx belongs to a task running on this executor.
	Owns(ctx context.Context) bool

	// Daemon reports whether registry shutdown may skip waiting for this executor.
	Daemon() bool

	// Stats returns a snapshot of the executor's counters.
	Stats() Stats
}

// Stats contains counters for an executor.
type Stats struct {
	// Submitted is the number of accepted tasks.
	Submitted uint64

	// Completed is the number of tasks that ran to the end, including panics.
	Completed uint64

	// Panicked is the number of tasks that panicked.
	Panicked uint64

	// Rejected is the number of refused submissions.
	Rejected uint64

	// Active is the number of tasks running now.
	Active int64

	// Queued is the number of accepted tasks waiting to start.
	Queued int

	// Workers is the number of live worker goroutines.
	Workers int
}

const (
	stateRunning int32 = iota
	stateShuttingDown
	stateTerminated
)

// settings are the options shared by every executor kind.
type settings struct {
	name     string
	daemon   bool
	priority int
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
}

func (s settings) withDefaults() settings {
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observability.NoopMetrics{}
	}
	return s
}

// lifecycle holds state and bookkeeping common to all executors.
type lifecycle struct {
	settings

	state      atomic.Int32
	terminated chan struct{}
	termOnce   sync.Once

	root      context.Context
	interrupt context.CancelFunc

	submitted atomic.Uint64
	completed atomic.Uint64
	panicked  atomic.Uint64
	rejected  atomic.Uint64
	active    atomic.Int64
}

func newLifecycle(s settings) *lifecycle {
	s = s.withDefaults()
	root, cancel := context.WithCancel(context.Background())
	l := &lifecycle{
		settings:   s,
		terminated: make(chan struct{}),
		root:       root,
		interrupt:  cancel,
	}
	l.logger = s.logger.With(slog.String("executor", s.name), slog.Int("priority", s.priority))
	return l
}

// Name implements Executor.
func (l *lifecycle) Name() string { return l.name }

// Daemon implements Executor.
func (l *lifecycle) Daemon() bool { return l.daemon }

// IsShutdown implements Executor.
func (l *lifecycle) IsShutdown() bool { return l.state.Load() != stateRunning }

// IsTerminated implements Executor.
func (l *lifecycle) IsTerminated() bool { return l.state.Load() == stateTerminated }

// AwaitTermination implements Executor.
func (l *lifecycle) AwaitTermination(ctx context.Context) bool {
	select {
	case <-l.terminated:
		return true
	case <-ctx.Done():
		return false
	}
}

// Owns implements Executor.
func (l *lifecycle) Owns(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	for m, _ := ctx.Value(ownerKey{}).(*ownerMark); m != nil; m = m.parent {
		if m.owner == l {
			return true
		}
	}
	return false
}

// beginShutdown moves Running to ShuttingDown. It reports false if the
// executor was already shut down.
func (l *lifecycle) beginShutdown() bool {
	return l.state.CompareAndSwap(stateRunning, stateShuttingDown)
}

func (l *lifecycle) markTerminated() {
	l.termOnce.Do(func() {
		l.state.Store(stateTerminated)
		l.interrupt()
		close(l.terminated)
		l.logger.Debug("executor terminated")
	})
}

func (l *lifecycle) reject(reason aerrors.RejectReason) error {
	l.rejected.Add(1)
	l.metrics.RecordRejected(context.Background(), l.name, string(reason))
	observability.LogTaskRejected(l.logger, string(reason))
	return &aerrors.RejectedError{Executor: l.name, Reason: reason}
}

// run executes task with panic recovery and bookkeeping. ctx must already
// carry this executor's marker.
func (l *lifecycle) run(ctx context.Context, task Runnable) {
	l.active.Add(1)
	start := time.Now()
	var failure error
	defer func() {
		if r := recover(); r != nil {
			l.panicked.Add(1)
			failure = fmt.Errorf("task panicked: %v", r)
			observability.LogTaskPanic(l.logger, r)
		}
		l.active.Add(-1)
		l.completed.Add(1)
		l.metrics.RecordTask(context.Background(), l.name, time.Since(start), failure)
	}()
	task(ctx)
}

func (l *lifecycle) baseStats() Stats {
	return Stats{
		Submitted: l.submitted.Load(),
		Completed: l.completed.Load(),
		Panicked:  l.panicked.Load(),
		Rejected:  l.rejected.Load(),
		Active:    l.active.Load(),
	}
}

type ownerKey struct{}

// ownerMark links the executors a task is nested in, innermost first.
type ownerMark struct {
	owner  *lifecycle
	parent *ownerMark
}

func withOwner(ctx context.Context, l *lifecycle) context.Context {
	parent, _ := ctx.Value(ownerKey{}).(*ownerMark)
	return context.WithValue(ctx, ownerKey{}, &ownerMark{owner: l, parent: parent})
}
