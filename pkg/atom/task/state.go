package task

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/randalmurphal/atom/pkg/atom/bind"
)

// State is a task's lifecycle state.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateDone
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled
}

// Handle is the part of a task's API shared by every task kind.
type Handle interface {
	bind.Bindable

	ID() string
	Name() string
	State() State
	IsRunning() bool
	IsDone() bool
	IsCancelled() bool
	Cancel(mayInterrupt bool) bool
	Done() <-chan struct{}
	Err() error
}

// core is the state machine shared by all task kinds.
type core struct {
	id     string
	name   string
	logger *slog.Logger

	state atomic.Int32

	mu        sync.Mutex
	interrupt context.CancelFunc
	err       error

	done       chan struct{}
	finishOnce sync.Once
	hooks      *bind.Scope

	// onFinish runs once after the task turns terminal.
	onFinish []func(State)
}

func newCore(name string, logger *slog.Logger) *core {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	if name == "" {
		name = id
	}
	return &core{
		id:     id,
		name:   name,
		logger: logger.With(slog.String("task", name)),
		done:   make(chan struct{}),
		hooks:  bind.NewScope(),
	}
}

// ID returns the task's unique id.
func (c *core) ID() string { return c.id }

// Name returns the task's name, which defaults to its id.
func (c *core) Name() string { return c.name }

// State returns the current state.
func (c *core) State() State { return State(c.state.Load()) }

// IsRunning reports whether the body is executing now.
func (c *core) IsRunning() bool { return c.State() == StateRunning }

// IsDone reports whether the task finished without being cancelled.
func (c *core) IsDone() bool { return c.State() == StateDone }

// IsCancelled reports whether the task was cancelled.
func (c *core) IsCancelled() bool { return c.State() == StateCancelled }

// Done returns a channel closed once the task is terminal.
func (c *core) Done() <-chan struct{} { return c.done }

// Err returns the error the body reported, if any.
func (c *core) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// OnDispose registers hook to run once the task is terminal. Tasks are
// owners for resources whose lifetime should end with the task.
func (c *core) OnDispose(hook func()) {
	c.hooks.OnDispose(hook)
}

// Cancel moves a pending or running task to Cancelled. With mayInterrupt
// the running body's context is cancelled. It returns false if the task
// was already terminal.
func (c *core) Cancel(mayInterrupt bool) bool {
	for {
		s := c.State()
		if s.Terminal() {
			return false
		}
		if !c.state.CompareAndSwap(int32(s), int32(StateCancelled)) {
			continue
		}
		if s == StateRunning && mayInterrupt {
			c.mu.Lock()
			interrupt := c.interrupt
			c.mu.Unlock()
			if interrupt != nil {
				interrupt()
			}
		}
		c.logger.Debug("task cancelled", slog.Bool("was_running", s == StateRunning))
		c.finish(StateCancelled)
		return true
	}
}

// begin prepares a run context and moves Pending to Running. It returns
// false if the task is not pending; the returned cancel func must always
// be called.
func (c *core) begin(parent context.Context) (context.Context, context.CancelFunc, bool) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.interrupt = cancel
	c.mu.Unlock()
	if !c.state.CompareAndSwap(int32(StatePending), int32(StateRunning)) {
		return ctx, cancel, false
	}
	return ctx, cancel, true
}

// transition moves Pending or Running to a terminal state.
func (c *core) transition(to State) bool {
	for {
		s := c.State()
		if s.Terminal() {
			return false
		}
		if c.state.CompareAndSwap(int32(s), int32(to)) {
			c.finish(to)
			return true
		}
	}
}

func (c *core) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *core) finish(s State) {
	c.finishOnce.Do(func() {
		close(c.done)
		for _, fn := range c.onFinish {
			fn(s)
		}
		c.hooks.Dispose()
	})
}

func (c *core) bindOwner(owner bind.Bindable) {
	bind.Attach(owner, func() { c.Cancel(true) })
}
