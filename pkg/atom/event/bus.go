package event

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/atom/pkg/atom/executor"
	"github.com/randalmurphal/atom/pkg/atom/future"
	"github.com/randalmurphal/atom/pkg/atom/observability"
)

// Option configures a Bus.
type Option func(*busCore)

// WithName sets the bus name used in logs, metrics and faults.
func WithName(name string) Option {
	return func(b *busCore) {
		b.name = name
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *busCore) {
		b.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(b *busCore) {
		b.metrics = m
	}
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(b *busCore) {
		b.spans = s
	}
}

// WithFailurePolicy sets the bus-wide failure policy. Posts may override it.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(b *busCore) {
		b.policy = p
	}
}

// WithStopOnCancelled ends a chain as soon as its result becomes cancelling.
func WithStopOnCancelled(stop bool) Option {
	return func(b *busCore) {
		b.stopOnCancelled = stop
	}
}

// WithDefaultExecutor sets the executor for async handlers that name none.
func WithDefaultExecutor(exec executor.Executor) Option {
	return func(b *busCore) {
		b.exec = exec
	}
}

// PostOption configures a single post.
type PostOption func(*postOptions)

type postOptions struct {
	provided map[reflect.Type]any
	policy   *FailurePolicy
	exec     executor.Executor
}

// WithProvided attaches v to the post under its static type T, so an
// interface value is found by the same interface. Groups built with
// ProvidedSubGroup match against it.
func WithProvided[T any](v T) PostOption {
	return func(o *postOptions) {
		if any(v) == nil {
			return
		}
		if o.provided == nil {
			o.provided = make(map[reflect.Type]any)
		}
		o.provided[reflect.TypeFor[T]()] = v
	}
}

// OverrideFailurePolicy replaces the bus failure policy for one post.
func OverrideFailurePolicy(p FailurePolicy) PostOption {
	return func(o *postOptions) {
		o.policy = &p
	}
}

// WithExecutor sets the executor for async handlers of one post.
func WithExecutor(exec executor.Executor) PostOption {
	return func(o *postOptions) {
		o.exec = exec
	}
}

type busCore struct {
	name            string
	logger          *slog.Logger
	metrics         observability.MetricsRecorder
	spans           observability.SpanManager
	policy          FailurePolicy
	stopOnCancelled bool
	exec            executor.Executor
}

type executorRef struct {
	post executor.Executor
	bus  executor.Executor
}

func (r executorRef) resolve(e *entry) executor.Executor {
	switch {
	case e.exec != nil:
		return e.exec
	case r.post != nil:
		return r.post
	default:
		return r.bus
	}
}

// Bus dispatches events of type E through a priority-ordered chain of
// handlers. Registration and posting are safe for concurrent use; a post
// sees the handlers registered when it started.
type Bus[E any] struct {
	core      busCore
	eventType reflect.Type
	root      *Group[E]

	mu      sync.Mutex
	seq     uint64
	entries atomic.Pointer[[]*entry]
}

// NewBus creates a bus for events assignable to E.
func NewBus[E any](opts ...Option) *Bus[E] {
	t := reflect.TypeFor[E]()
	b := &Bus[E]{
		core: busCore{
			name:    t.String(),
			logger:  slog.Default(),
			metrics: observability.NoopMetrics{},
			spans:   observability.NoopSpanManager{},
			policy:  FailurePropagate,
		},
		eventType: t,
		root:      NewGroup[E](),
	}
	for _, opt := range opts {
		opt(&b.core)
	}
	b.entries.Store(&[]*entry{})
	return b
}

// Name returns the bus name.
func (b *Bus[E]) Name() string { return b.core.name }

// EventType returns E's reflect type.
func (b *Bus[E]) EventType() reflect.Type { return b.eventType }

// Group returns the root group for E.
func (b *Bus[E]) Group() *Group[E] { return b.root }

// HandlesEvent reports whether ev can be posted to this bus.
func (b *Bus[E]) HandlesEvent(ev any) bool {
	_, ok := ev.(E)
	return ok
}

// HandlesEventType reports whether values of t can be posted to this bus.
func (b *Bus[E]) HandlesEventType(t reflect.Type) bool {
	return t != nil && t.AssignableTo(b.eventType)
}

// Len returns the number of live registrations.
func (b *Bus[E]) Len() int {
	return len(*b.entries.Load())
}

// Register adds reg to the chain. Handlers of a narrower type only see
// matching events; handlers of a wider type see every event. Closing reg
// removes it.
func (b *Bus[E]) Register(reg Registrable) error {
	t := reg.EventType()
	if !t.AssignableTo(b.eventType) && !b.eventType.AssignableTo(t) {
		return fmt.Errorf("register %s on bus %s: %w", t, b.core.name, ErrIncompatibleEvent)
	}
	if reg.IsClosed() {
		return nil
	}

	e := reg.newEntry()
	b.mu.Lock()
	b.seq++
	e.seq = b.seq
	old := *b.entries.Load()
	next := make([]*entry, 0, len(old)+1)
	next = append(next, old...)
	i, _ := slices.BinarySearchFunc(next, e, compareEntries)
	next = slices.Insert(next, i, e)
	b.entries.Store(&next)
	b.mu.Unlock()

	reg.OnDispose(func() { b.remove(e) })
	return nil
}

// RegisterFunc builds a registration from the bus root group and registers it.
func (b *Bus[E]) RegisterFunc(configure func(RegistrationBuilder[E]) RegistrationBuilder[E]) (*Registration[E], error) {
	reg, err := configure(NewRegistration[E]()).Build()
	if err != nil {
		return nil, err
	}
	if err := b.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (b *Bus[E]) remove(e *entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := *b.entries.Load()
	i := slices.Index(old, e)
	if i < 0 {
		return
	}
	next := slices.Delete(slices.Clone(old), i, i+1)
	b.entries.Store(&next)
}

func compareEntries(a, b *entry) int {
	switch {
	case a.priority < b.priority:
		return -1
	case a.priority > b.priority:
		return 1
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	default:
		return 0
	}
}

// Dispatch starts a chain for ev and returns its Context once the chain
// completes or first suspends. The returned Context cannot advance the
// chain; use Await, OnSuccess or OnFailure to observe it.
func (b *Bus[E]) Dispatch(ctx context.Context, ev E, opts ...PostOption) *Context {
	var po postOptions
	for _, opt := range opts {
		opt(&po)
	}

	id := uuid.NewString()
	ctx, span := b.core.spans.StartPostSpan(ctx, b.core.name, id)
	entries := *b.entries.Load()
	ch := &chain{
		id:       id,
		bus:      &b.core,
		event:    ev,
		ctx:      ctx,
		span:     span,
		logger:   observability.EnrichLogger(b.core.logger, b.core.name, id),
		entries:  entries,
		provided: po.provided,
		exec:     executorRef{post: po.exec, bus: b.core.exec},
		policy:   b.core.policy,
		started:  time.Now(),
		result:   Continue,
		done:     make(chan struct{}),
	}
	if po.policy != nil {
		ch.policy = *po.policy
	}

	observability.LogPostStart(ch.logger, fmt.Sprintf("%T", ev), len(entries))
	ch.start()
	return &Context{ch: ch, ctx: ctx}
}

// Post runs the chain for ev and blocks until it completes or ctx is done.
// It returns the final result, or the last result and the fault when a
// handler failure propagated.
func (b *Bus[E]) Post(ctx context.Context, ev E, opts ...PostOption) (Result, error) {
	return b.Dispatch(ctx, ev, opts...).Await(ctx)
}

// PostAsync starts the chain on the calling goroutine and returns once it
// completes or first suspends. Async handlers without their own executor
// run on exec when it is non-nil.
func (b *Bus[E]) PostAsync(ev E, exec executor.Executor, opts ...PostOption) *future.Future[Result] {
	if exec != nil {
		opts = append(opts, WithExecutor(exec))
	}
	f := future.New[Result]()
	ec := b.Dispatch(context.Background(), ev, opts...)
	ec.OnSuccess(func(r Result) { f.Complete(r) })
	ec.OnFailure(func(_ Result, err error) { f.Fail(err) })
	return f
}

func (b *Bus[E]) postAny(ctx context.Context, ev any, opts ...PostOption) (Result, error) {
	typed, ok := ev.(E)
	if !ok {
		return Continue, fmt.Errorf("post %T on bus %s: %w", ev, b.core.name, ErrIncompatibleEvent)
	}
	return b.Post(ctx, typed, opts...)
}
