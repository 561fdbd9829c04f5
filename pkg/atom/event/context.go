package event

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
	"github.com/randalmurphal/atom/pkg/atom/future"
	"github.com/randalmurphal/atom/pkg/atom/observability"
)

// Continuation is what a handler returns after deciding how its step ends.
// It carries no data; the decision itself is recorded on the Context.
type Continuation struct {
	accepted bool
}

// Accepted reports whether the decision that produced this continuation
// was taken. A second decision for the same step, or one made after the
// chain completed, is not.
func (c Continuation) Accepted() bool { return c.accepted }

type chainState int

const (
	stateIdle chainState = iota
	stateAdvancing
	stateSuspended
	stateCompleted
)

type decisionKind int

const (
	decideAdvance decisionKind = iota
	decideResult
	decideError
	decideAwait
)

type decision struct {
	kind   decisionKind
	result Result
	err    error
	panic  any
	await  func(resume func(decision))
}

// chain is the shared state of one post.
type chain struct {
	id       string
	bus      *busCore
	event    any
	ctx      context.Context
	span     trace.Span
	logger   *slog.Logger
	entries  []*entry
	provided map[reflect.Type]any
	exec     executorRef
	policy   FailurePolicy
	started  time.Time

	mu      sync.Mutex
	state   chainState
	cursor  int
	current *entry
	step    uint64
	inStep  bool
	decided bool
	pending *decision
	driving bool
	result  Result
	err     error
	invoked int
	success []func(Result)
	failure []func(Result, error)
	done    chan struct{}
}

// Context is a handler's view of a running chain. Every handler invocation
// gets its own Context; decisions made through it apply to that
// invocation's step only, and only the first one counts.
type Context struct {
	ch   *chain
	step uint64
	ctx  context.Context
}

// ID returns the unique id of the post.
func (c *Context) ID() string { return c.ch.id }

// Bus returns the name of the bus running the chain.
func (c *Context) Bus() string { return c.ch.bus.name }

// Event returns the posted event.
func (c *Context) Event() any { return c.ch.event }

// Context returns the context.Context for the current invocation. For
// asynchronous handlers it is cancelled when the executor interrupts the
// task and still carries the post's values.
func (c *Context) Context() context.Context { return c.ctx }

// Result returns the chain's current result.
func (c *Context) Result() Result {
	c.ch.mu.Lock()
	defer c.ch.mu.Unlock()
	return c.ch.result
}

// IsCompleted reports whether the chain has finished.
func (c *Context) IsCompleted() bool {
	c.ch.mu.Lock()
	defer c.ch.mu.Unlock()
	return c.ch.state == stateCompleted
}

// Await blocks until the chain completes or ctx is done. A chain that ended
// with a propagated fault returns the last result and the fault.
func (c *Context) Await(ctx context.Context) (Result, error) {
	select {
	case <-c.ch.done:
		c.ch.mu.Lock()
		defer c.ch.mu.Unlock()
		return c.ch.result, c.ch.err
	case <-ctx.Done():
		return c.Result(), ctx.Err()
	}
}

// Done returns a channel closed when the chain completes.
func (c *Context) Done() <-chan struct{} { return c.ch.done }

// OnSuccess registers fn to run with the final result when the chain
// completes normally. If it already has, fn runs immediately.
func (c *Context) OnSuccess(fn func(Result)) {
	ch := c.ch
	ch.mu.Lock()
	if ch.state != stateCompleted {
		ch.success = append(ch.success, fn)
		ch.mu.Unlock()
		return
	}
	result, err := ch.result, ch.err
	ch.mu.Unlock()
	if err == nil {
		fn(result)
	}
}

// OnFailure registers fn to run with the last result and the fault when the
// chain ends with a propagated fault. If it already has, fn runs immediately.
func (c *Context) OnFailure(fn func(Result, error)) {
	ch := c.ch
	ch.mu.Lock()
	if ch.state != stateCompleted {
		ch.failure = append(ch.failure, fn)
		ch.mu.Unlock()
		return
	}
	result, err := ch.result, ch.err
	ch.mu.Unlock()
	if err != nil {
		fn(result, err)
	}
}

// Advance ends the step keeping the current result.
func (c *Context) Advance() Continuation {
	return c.decide(decision{kind: decideAdvance})
}

// AdvanceWith ends the step replacing the current result with r.
func (c *Context) AdvanceWith(r Result) Continuation {
	if r == nil {
		return c.Advance()
	}
	return c.decide(decision{kind: decideResult, result: r})
}

// AdvanceWithError ends the step with a fault. What happens next depends
// on the post's failure policy.
func (c *Context) AdvanceWithError(err error) Continuation {
	if err == nil {
		err = fmt.Errorf("handler advanced with nil error")
	}
	return c.decide(decision{kind: decideError, err: err})
}

// AdvanceOnCompletion suspends the chain until f resolves, then advances.
// A failed f is treated as AdvanceWithError.
func (c *Context) AdvanceOnCompletion(f *future.Future[future.Void]) Continuation {
	if f == nil {
		return c.AdvanceWithError(ErrNilFuture)
	}
	return c.decide(decision{kind: decideAwait, await: func(resume func(decision)) {
		f.OnComplete(func(_ future.Void, err error) {
			if err != nil {
				resume(decision{kind: decideError, err: err})
				return
			}
			resume(decision{kind: decideAdvance})
		})
	}})
}

// AdvanceOnResult suspends the chain until f resolves, then advances with
// its value. A nil value keeps the current result.
func (c *Context) AdvanceOnResult(f *future.Future[Result]) Continuation {
	if f == nil {
		return c.AdvanceWithError(ErrNilFuture)
	}
	return c.decide(decision{kind: decideAwait, await: func(resume func(decision)) {
		f.OnComplete(func(r Result, err error) {
			switch {
			case err != nil:
				resume(decision{kind: decideError, err: err})
			case r == nil:
				resume(decision{kind: decideAdvance})
			default:
				resume(decision{kind: decideResult, result: r})
			}
		})
	}})
}

// Suspend ends the handler without deciding. The chain stays open until a
// later Advance call on this Context, from any goroutine.
func (c *Context) Suspend() Continuation {
	return Continuation{accepted: true}
}

// Provided returns the value of type T attached to the post with
// WithProvided. For an interface T, a value provided under a concrete type
// implementing T is found when nothing was provided as T itself.
func Provided[T any](c *Context) (T, bool) {
	return lookupProvided[T](c.ch.provided)
}

func lookupProvided[T any](provided map[reflect.Type]any) (T, bool) {
	t := reflect.TypeFor[T]()
	if v, ok := provided[t]; ok {
		return v.(T), true
	}
	if t.Kind() == reflect.Interface {
		var match T
		found := 0
		for _, v := range provided {
			if tv, ok := v.(T); ok {
				match = tv
				found++
			}
		}
		// Several candidates would make the choice depend on map order.
		if found == 1 {
			return match, true
		}
	}
	var zero T
	return zero, false
}

func (c *Context) decide(d decision) Continuation {
	return Continuation{accepted: c.ch.decide(c.step, d)}
}

// decide records d for step. The first decision per step wins. If no
// goroutine is currently driving the chain, the caller takes over.
func (ch *chain) decide(step uint64, d decision) bool {
	ch.mu.Lock()
	if ch.state == stateCompleted || !ch.inStep || step != ch.step || ch.decided {
		ch.mu.Unlock()
		return false
	}
	ch.decided = true
	ch.pending = &d
	if ch.driving {
		ch.mu.Unlock()
		return true
	}
	ch.driving = true
	ch.mu.Unlock()
	ch.drive()
	return true
}

// start begins driving a freshly created chain on the calling goroutine.
func (ch *chain) start() {
	ch.mu.Lock()
	ch.state = stateAdvancing
	ch.driving = true
	ch.mu.Unlock()
	ch.drive()
}

// drive runs the chain until it completes or a step is left undecided. The
// caller must have set driving.
func (ch *chain) drive() {
	ch.mu.Lock()
	for {
		if ch.state == stateCompleted {
			ch.driving = false
			ch.mu.Unlock()
			return
		}

		if ch.inStep {
			d := ch.pending
			if d == nil {
				// Whoever decides next resumes driving.
				ch.state = stateSuspended
				ch.driving = false
				ch.mu.Unlock()
				return
			}
			ch.pending = nil

			switch d.kind {
			case decideAwait:
				ch.step++
				ch.decided = false
				ch.state = stateSuspended
				token := ch.step
				ch.mu.Unlock()
				if r := awaitSafely(d.await, func(next decision) { ch.decide(token, next) }); r != nil {
					ch.decide(token, panicDecision(r))
				}
				ch.mu.Lock()
				continue
			case decideAdvance:
			case decideResult:
				ch.result = d.result
			case decideError:
				fault := ch.fault(d)
				if ch.policy == FailurePropagate {
					ch.mu.Unlock()
					ch.complete(fault)
					return
				}
				observability.LogHandlerSwallowed(ch.logger, ch.current.id, fault)
			}

			ch.inStep = false
			ch.current = nil
			ch.cursor++
			ch.state = stateAdvancing
			if ch.bus.stopOnCancelled && IsCancelled(ch.result) {
				ch.mu.Unlock()
				ch.complete(nil)
				return
			}
		}

		if ch.cursor >= len(ch.entries) {
			ch.mu.Unlock()
			ch.complete(nil)
			return
		}
		e := ch.entries[ch.cursor]
		ch.mu.Unlock()

		// Only the driving goroutine moves the cursor, so eligibility can be
		// evaluated without holding the lock.
		ok, r := ch.eligible(e)
		if r != nil {
			// A panicking filter or group matcher faults the entry's step.
			d := panicDecision(r)
			ch.mu.Lock()
			ch.step++
			ch.inStep = true
			ch.decided = true
			ch.current = e
			ch.pending = &d
			continue
		}
		if !ok {
			ch.mu.Lock()
			ch.cursor++
			continue
		}

		ch.mu.Lock()
		ch.step++
		ch.inStep = true
		ch.decided = false
		ch.current = e
		ch.invoked++
		step := ch.step
		ch.mu.Unlock()

		ch.invoke(e, step)

		ch.mu.Lock()
	}
}

// eligible reports whether e takes part in the chain. A panic from a
// filter or matcher is returned instead of propagating.
func (ch *chain) eligible(e *entry) (ok bool, recovered any) {
	defer func() {
		if r := recover(); r != nil {
			ok, recovered = false, r
		}
	}()
	if e.closed.Load() {
		return false, nil
	}
	if !e.accepts(ch.event) {
		return false, nil
	}
	return e.group == nil || e.group.accepts(ch), nil
}

func awaitSafely(await func(resume func(decision)), resume func(decision)) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	await(resume)
	return nil
}

func panicDecision(r any) decision {
	d := decision{kind: decideError, panic: r}
	if err, ok := r.(error); ok {
		d.err = err
	}
	return d
}

func (ch *chain) invoke(e *entry, step uint64) {
	if !e.async {
		ch.call(ch.ctx, e, step)
		return
	}

	exec := ch.exec.resolve(e)
	if exec == nil {
		go ch.call(ch.ctx, e, step)
		return
	}
	err := exec.Execute(func(execCtx context.Context) {
		ch.call(mergeContext(execCtx, ch.ctx), e, step)
	})
	if err != nil {
		ch.decide(step, decision{kind: decideError, err: err})
	}
}

// call runs one handler, turning a panic into a fault for its step.
func (ch *chain) call(ctx context.Context, e *entry, step uint64) {
	ctx, span := ch.bus.spans.StartHandlerSpan(ctx, e.id, int64(e.priority))
	ec := &Context{ch: ch, step: step, ctx: ctx}
	start := time.Now()

	var fault error
	func() {
		defer func() {
			if r := recover(); r != nil {
				fault = fmt.Errorf("handler panicked: %v", r)
				if !ch.decide(step, panicDecision(r)) {
					ch.logger.Warn("handler panicked after deciding",
						slog.String("registration_id", e.id),
						slog.Any("panic", r),
					)
				}
			}
		}()
		e.invoke(ec, ch.event)
	}()

	ch.bus.metrics.RecordHandler(ctx, ch.bus.name, int64(e.priority), time.Since(start), fault)
	ch.bus.spans.EndSpanWithError(span, fault)
}

func (ch *chain) fault(d *decision) error {
	return &aerrors.HandlerFault{
		Bus:            ch.bus.name,
		RegistrationID: ch.current.id,
		Priority:       int64(ch.current.priority),
		Err:            d.err,
		Panic:          d.panic,
	}
}

// complete finishes the chain once and runs the matching callbacks.
func (ch *chain) complete(fault error) {
	ch.mu.Lock()
	if ch.state == stateCompleted {
		ch.mu.Unlock()
		return
	}
	ch.state = stateCompleted
	ch.driving = false
	ch.inStep = false
	ch.err = fault
	result, invoked := ch.result, ch.invoked
	success, failure := ch.success, ch.failure
	ch.success, ch.failure = nil, nil
	ch.mu.Unlock()

	elapsed := time.Since(ch.started)
	ms := float64(elapsed.Microseconds()) / 1000.0
	ch.bus.metrics.RecordPost(ch.ctx, ch.bus.name, fault == nil, elapsed)
	ch.bus.spans.EndSpanWithError(ch.span, fault)
	if fault != nil {
		observability.LogPostFailed(ch.logger, result.ResultName(), fault, ms)
	} else {
		observability.LogPostComplete(ch.logger, result.ResultName(), ms, invoked)
	}
	close(ch.done)

	if fault != nil {
		for _, fn := range failure {
			fn(result, fault)
		}
		return
	}
	for _, fn := range success {
		fn(result)
	}
}

// mergedContext takes cancellation from one context and values from both,
// preferring the first.
type mergedContext struct {
	context.Context
	values context.Context
}

func mergeContext(cancel, values context.Context) context.Context {
	return mergedContext{Context: cancel, values: values}
}

func (m mergedContext) Value(key any) any {
	if v := m.Context.Value(key); v != nil {
		return v
	}
	return m.values.Value(key)
}
