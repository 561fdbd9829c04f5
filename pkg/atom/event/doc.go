// Package event implements a typed event bus with priority-ordered
// continuation chains.
//
// Posting an event walks the bus's registrations in priority order (lower
// first, registration order among equals). Each handler receives a
// Context and ends its step by advancing: keeping the current Result,
// replacing it, failing, or suspending the chain until a future resolves.
// A handler may also return without deciding and advance later from any
// goroutine; the chain resumes on whichever goroutine advances it.
//
// Every chain completes exactly once. Success callbacks receive the final
// result; failure callbacks receive the last result and the fault, and
// only fire when the failure policy is FailurePropagate.
//
// Groups narrow registrations to subsets of events by type, by a value
// extracted from the event, or by a value provided with the post.
package event
