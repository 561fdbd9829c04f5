package event

import "math"

// Result is the value an event chain carries from handler to handler.
// Continue and Cancelled are the predefined results; applications define
// their own by implementing ResultName.
type Result interface {
	ResultName() string
}

// Cancelling marks results that cancel the event. Any result implementing
// it is treated as cancelled, not only the Cancelled sentinel.
type Cancelling interface {
	Result
	CancelsEvent()
}

type sentinel string

func (s sentinel) ResultName() string { return string(s) }

type cancelled struct {
	reason string
}

func (c cancelled) ResultName() string { return "CANCELLED" }

func (c cancelled) CancelsEvent() {}

// Reason returns why the event was cancelled, if given.
func (c cancelled) Reason() string { return c.reason }

var (
	// Continue is the initial result of every chain.
	Continue Result = sentinel("CONTINUE")

	// Cancelled is the plain cancelling result.
	Cancelled Result = cancelled{}
)

// CancelledBecause returns a cancelling result carrying a reason.
func CancelledBecause(reason string) Result {
	return cancelled{reason: reason}
}

// IsCancelled reports whether r cancels the event.
func IsCancelled(r Result) bool {
	_, ok := r.(Cancelling)
	return ok
}

// IsContinue reports whether r is the Continue sentinel.
func IsContinue(r Result) bool {
	return r == Continue
}

// Priority orders handlers within a chain. Lower values run first.
type Priority int64

// Predefined priorities. Any other int64 is valid.
const (
	First  Priority = math.MinInt64 + 1
	Normal Priority = math.MaxInt64 / 2
	Last   Priority = math.MaxInt64 - 1
)

// FailurePolicy decides what a handler fault does to the chain.
type FailurePolicy int

const (
	// FailurePropagate ends the chain, fires failure callbacks and makes
	// Post return the fault.
	FailurePropagate FailurePolicy = iota

	// FailureContinue logs the fault, keeps the previous result and moves
	// on to the next handler. Failure callbacks never fire.
	FailureContinue
)

// String returns the config spelling of the policy.
func (p FailurePolicy) String() string {
	switch p {
	case FailurePropagate:
		return "propagate"
	case FailureContinue:
		return "continue"
	default:
		return "unknown"
	}
}
