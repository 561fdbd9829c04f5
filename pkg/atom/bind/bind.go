// Package bind defines the lifecycle-ownership capability used across the
// atom runtime.
//
// Registrations, executors and tasks optionally accept an owner. When the
// owner is disposed, the dependent resource is revoked, shut down or
// cancelled. The runtime only registers dispose hooks; lifecycle ownership
// itself belongs to the caller. Scope is a small owner implementation for
// programs that have nothing better.
package bind

import (
	"sync"
)

// Bindable is anything whose disposal should cascade to dependents.
type Bindable interface {
	// OnDispose registers hook to run when the owner is disposed. If the
	// owner is already disposed, hook runs immediately.
	OnDispose(hook func())
}

// Attach registers hook on owner when owner is non-nil.
func Attach(owner Bindable, hook func()) {
	if owner == nil {
		return
	}
	owner.OnDispose(hook)
}

// Scope is a Bindable that runs its hooks once, in reverse registration
// order, when Dispose is called.
type Scope struct {
	mu       sync.Mutex
	hooks    []func()
	disposed bool
}

// NewScope creates an empty scope.
func NewScope() *Scope {
	return &Scope{}
}

// OnDispose implements Bindable.
func (s *Scope) OnDispose(hook func()) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		hook()
		return
	}
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

// Dispose runs every registered hook, last registered first. Later calls
// are no-ops.
func (s *Scope) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// Disposed reports whether Dispose has run.
func (s *Scope) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}
