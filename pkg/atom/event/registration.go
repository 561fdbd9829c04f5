package event

import (
	"fmt"
	"reflect"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/atom/pkg/atom/bind"
	"github.com/randalmurphal/atom/pkg/atom/executor"
)

// HandlerFunc handles one event of type E. It must end its step through one
// of the Context's Advance methods, now or later.
type HandlerFunc[E any] func(ec *Context, event E) Continuation

// Registrable is anything a bus can register: a Registration of any event
// type compatible with the bus.
type Registrable interface {
	ID() string
	EventType() reflect.Type
	Priority() Priority
	IsClosed() bool
	Close()
	OnDispose(hook func())
	newEntry() *entry
}

// Registration binds a handler to an event type with a priority, an
// optional filter and an optional group. It is immutable once built; Close
// revokes it from every bus it was registered on.
type Registration[E any] struct {
	id        string
	eventType reflect.Type
	priority  Priority
	filter    func(E) bool
	handler   HandlerFunc[E]
	async     bool
	exec      executor.Executor
	group     *groupNode
	createdAt int64
	stack     []string
	closed    atomic.Bool
	hooks     *bind.Scope
}

// ID returns the registration's unique id.
func (r *Registration[E]) ID() string { return r.id }

// EventType returns the event type the handler accepts.
func (r *Registration[E]) EventType() reflect.Type { return r.eventType }

// Priority returns the registration's priority.
func (r *Registration[E]) Priority() Priority { return r.priority }

// Async reports whether the handler runs on an executor.
func (r *Registration[E]) Async() bool { return r.async }

// Group returns the group the registration is scoped to, or nil.
func (r *Registration[E]) Group() AnyGroup {
	if r.group == nil {
		return nil
	}
	return r.group
}

// CreatedAt returns the monotonic creation timestamp in nanoseconds.
func (r *Registration[E]) CreatedAt() int64 { return r.createdAt }

// CreationStack returns the call stack captured when the registration was
// built, one "function file:line" entry per frame.
func (r *Registration[E]) CreationStack() []string { return r.stack }

// IsClosed reports whether the registration was revoked.
func (r *Registration[E]) IsClosed() bool { return r.closed.Load() }

// Close revokes the registration. A running chain skips it if its cursor
// has not reached it yet. Close is idempotent.
func (r *Registration[E]) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.hooks.Dispose()
}

// OnDispose registers hook to run when the registration is closed.
func (r *Registration[E]) OnDispose(hook func()) {
	r.hooks.OnDispose(hook)
}

func (r *Registration[E]) newEntry() *entry {
	filter, handler := r.filter, r.handler
	return &entry{
		id:       r.id,
		priority: r.priority,
		closed:   &r.closed,
		group:    r.group,
		async:    r.async,
		exec:     r.exec,
		accepts: func(ev any) bool {
			typed, ok := ev.(E)
			if !ok {
				return false
			}
			return filter == nil || filter(typed)
		},
		invoke: func(ec *Context, ev any) {
			handler(ec, ev.(E))
		},
	}
}

// entry is a registration as one bus sees it.
type entry struct {
	id       string
	priority Priority
	seq      uint64
	closed   *atomic.Bool
	group    *groupNode
	async    bool
	exec     executor.Executor
	accepts  func(ev any) bool
	invoke   func(ec *Context, ev any)
}

// RegistrationBuilder assembles a Registration. Every With method returns
// a new builder, so partially configured builders can be shared.
type RegistrationBuilder[E any] struct {
	priority Priority
	filter   func(E) bool
	handler  HandlerFunc[E]
	async    bool
	exec     executor.Executor
	group    *groupNode
	owner    bind.Bindable
}

// NewRegistration starts a builder for handlers of E at Normal priority.
func NewRegistration[E any]() RegistrationBuilder[E] {
	return RegistrationBuilder[E]{priority: Normal}
}

// WithPriority sets the priority.
func (b RegistrationBuilder[E]) WithPriority(p Priority) RegistrationBuilder[E] {
	b.priority = p
	return b
}

// WithFilter sets a predicate the event must pass for the handler to run.
func (b RegistrationBuilder[E]) WithFilter(filter func(E) bool) RegistrationBuilder[E] {
	b.filter = filter
	return b
}

// WithSyncHandler runs h on the goroutine driving the chain.
func (b RegistrationBuilder[E]) WithSyncHandler(h HandlerFunc[E]) RegistrationBuilder[E] {
	b.handler = h
	b.async = false
	return b
}

// WithAsyncHandler runs h on an executor. The registration's executor is
// used if set, then the post's, then the bus default.
func (b RegistrationBuilder[E]) WithAsyncHandler(h HandlerFunc[E]) RegistrationBuilder[E] {
	b.handler = h
	b.async = true
	return b
}

// WithExecutor sets the executor for an async handler.
func (b RegistrationBuilder[E]) WithExecutor(exec executor.Executor) RegistrationBuilder[E] {
	b.exec = exec
	return b
}

// WithOwner closes the registration when owner is disposed.
func (b RegistrationBuilder[E]) WithOwner(owner bind.Bindable) RegistrationBuilder[E] {
	b.owner = owner
	return b
}

// Build creates the registration. It fails when no handler was set.
func (b RegistrationBuilder[E]) Build() (*Registration[E], error) {
	if b.handler == nil {
		return nil, fmt.Errorf("registration for %s: %w", reflect.TypeFor[E](), ErrNoHandler)
	}
	r := &Registration[E]{
		id:        uuid.NewString(),
		eventType: reflect.TypeFor[E](),
		priority:  b.priority,
		filter:    b.filter,
		handler:   b.handler,
		async:     b.async,
		exec:      b.exec,
		group:     b.group,
		createdAt: monotonicNow(),
		stack:     captureStack(3),
		hooks:     bind.NewScope(),
	}
	bind.Attach(b.owner, r.Close)
	return r, nil
}

var epoch = time.Now()

func monotonicNow() int64 {
	return int64(time.Since(epoch))
}

const maxStackDepth = 32

func captureStack(skip int) []string {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)
	for {
		f, more := frames.Next()
		stack = append(stack, fmt.Sprintf("%s %s:%d", f.Function, f.File, f.Line))
		if !more {
			break
		}
	}
	return stack
}
