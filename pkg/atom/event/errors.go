package event

import "errors"

var (
	// ErrNoHandler is returned when a registration is built without a handler.
	ErrNoHandler = errors.New("no handler set")

	// ErrIncompatibleEvent is returned when a registration's event type is
	// unrelated to the bus's event type.
	ErrIncompatibleEvent = errors.New("incompatible event type")

	// ErrNoBus is returned when no registered bus can take a registration.
	ErrNoBus = errors.New("no compatible bus")

	// ErrNilFuture is the fault recorded when a handler waits on a nil future.
	ErrNilFuture = errors.New("advance on nil future")
)
