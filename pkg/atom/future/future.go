// Package future provides a settable-once result slot.
//
// A Future is resolved exactly once, by whichever of Complete or Fail is
// called first; later calls report false and leave the stored outcome
// untouched. Callbacks attached with OnComplete run once, in attachment
// order, on the goroutine that resolves the future (or immediately on the
// caller's goroutine if the future is already resolved).
package future

import (
	"context"
	"sync"
)

// Void is the value type of futures that only signal completion.
type Void = struct{}

// Future is a write-once container for a value or an error.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	resolved  bool
	value     T
	err       error
	callbacks []func(T, error)
}

// New creates an unresolved future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future already resolved with v.
func Completed[T any](v T) *Future[T] {
	f := New[T]()
	f.Complete(v)
	return f
}

// Failed returns a future already resolved with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Complete resolves the future with v. It returns false if the future was
// already resolved.
func (f *Future[T]) Complete(v T) bool {
	return f.resolve(v, nil)
}

// Fail resolves the future with err. It returns false if the future was
// already resolved.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.resolve(zero, err)
}

func (f *Future[T]) resolve(v T, err error) bool {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return false
	}
	f.resolved = true
	f.value = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// OnComplete registers fn to run once the future resolves.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	f.mu.Lock()
	if f.resolved {
		v, err := f.value, f.err
		f.mu.Unlock()
		fn(v, err)
		return
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}

// Done returns a channel closed when the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has resolved.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Peek returns the outcome without blocking. ok is false while unresolved.
func (f *Future[T]) Peek() (v T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.resolved
}

// Await blocks until the future resolves or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then derives a future that resolves with fn applied to f's value, or
// with f's error.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := New[U]()
	f.OnComplete(func(v T, err error) {
		if err != nil {
			out.Fail(err)
			return
		}
		u, err := fn(v)
		if err != nil {
			out.Fail(err)
			return
		}
		out.Complete(u)
	})
	return out
}

// Signal derives a completion-only future from f.
func Signal[T any](f *Future[T]) *Future[Void] {
	return Then(f, func(T) (Void, error) { return Void{}, nil })
}
