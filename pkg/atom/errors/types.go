package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the event and executor packages. Typed errors
// below match these through errors.Is.
var (
	// ErrRejectedSubmission indicates an executor is not accepting work.
	ErrRejectedSubmission = errors.New("submission rejected")

	// ErrSchedulingRejected indicates a scheduling change on a task that can
	// no longer be scheduled.
	ErrSchedulingRejected = errors.New("scheduling rejected")

	// ErrInvalidGroupNarrowing indicates a subgroup type that is not
	// assignable to its parent's accepted type.
	ErrInvalidGroupNarrowing = errors.New("invalid group narrowing")

	// ErrDoubleInitialization indicates a process-wide slot was set twice.
	ErrDoubleInitialization = errors.New("already initialized")

	// ErrCancelled is the error a future resolves with when its task is cancelled.
	ErrCancelled = errors.New("cancelled")
)

// RejectReason explains why an executor refused a task.
type RejectReason string

const (
	// RejectShutdown means the executor is shutting down or terminated.
	RejectShutdown RejectReason = "shutdown"

	// RejectSaturated means every worker is busy and the queue is full.
	RejectSaturated RejectReason = "saturated"
)

// RejectedError is returned when an executor refuses a submission.
type RejectedError struct {
	Executor string
	Reason   RejectReason
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("executor %q rejected task: %s", e.Executor, e.Reason)
}

// Is reports whether target is ErrRejectedSubmission.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejectedSubmission
}

// HandlerFault wraps a failure raised by an event handler, either as a
// returned error, a recovered panic, or a failed awaited future.
type HandlerFault struct {
	// Bus names the bus that ran the handler.
	Bus string
	// RegistrationID identifies the failing registration.
	RegistrationID string
	// Priority is the registration's priority.
	Priority int64
	// Err is the underlying error. Nil when the handler panicked with a non-error value.
	Err error
	// Panic holds the recovered value when the handler panicked.
	Panic any
}

// Error implements the error interface.
func (e *HandlerFault) Error() string {
	switch {
	case e.Panic != nil:
		return fmt.Sprintf("handler %s on bus %s panicked: %v", e.RegistrationID, e.Bus, e.Panic)
	case e.Err != nil:
		return fmt.Sprintf("handler %s on bus %s failed: %v", e.RegistrationID, e.Bus, e.Err)
	default:
		return fmt.Sprintf("handler %s on bus %s failed", e.RegistrationID, e.Bus)
	}
}

// Unwrap returns the underlying error.
func (e *HandlerFault) Unwrap() error {
	return e.Err
}

// NarrowingError reports an incompatible subgroup type.
type NarrowingError struct {
	Parent string
	Child  string
}

// Error implements the error interface.
func (e *NarrowingError) Error() string {
	return fmt.Sprintf("group of %s cannot narrow to %s", e.Parent, e.Child)
}

// Is reports whether target is ErrInvalidGroupNarrowing.
func (e *NarrowingError) Is(target error) bool {
	return target == ErrInvalidGroupNarrowing
}

// SchedulingError reports a rejected scheduling operation.
type SchedulingError struct {
	Task   string
	Reason string
}

// Error implements the error interface.
func (e *SchedulingError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("scheduling rejected: %s", e.Reason)
	}
	return fmt.Sprintf("scheduling task %q rejected: %s", e.Task, e.Reason)
}

// Is reports whether target is ErrSchedulingRejected.
func (e *SchedulingError) Is(target error) bool {
	return target == ErrSchedulingRejected
}

// InitializationError reports a second attempt to fill a set-once slot.
type InitializationError struct {
	What string
}

// Error implements the error interface.
func (e *InitializationError) Error() string {
	return fmt.Sprintf("%s already initialized", e.What)
}

// Is reports whether target is ErrDoubleInitialization.
func (e *InitializationError) Is(target error) bool {
	return target == ErrDoubleInitialization
}
