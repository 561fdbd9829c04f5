// Package errors provides the error taxonomy of the atom runtime.
//
// The package has three layers:
//   - Taxonomy: sentinel and typed errors for rejected submissions, handler
//     faults, invalid group narrowing, rejected scheduling and double
//     initialization
//   - Categorization: classify errors so callers know whether trying again
//     can help
//   - Retry: an opt-in helper for handler and task bodies. The runtime itself
//     never retries.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates a later attempt will likely succeed.
	// Examples: saturated executor queues, deadlines.
	CategoryTransient Category = iota

	// CategoryPermanent indicates trying again won't help.
	// Examples: submissions to a shut down executor, invalid group narrowing.
	CategoryPermanent

	// CategoryFatal indicates a programming error that must surface
	// immediately, such as initializing a set-once slot twice.
	CategoryFatal
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	if errors.Is(err, ErrDoubleInitialization) {
		return CategoryFatal
	}

	var rejected *RejectedError
	if errors.As(err, &rejected) {
		if rejected.Reason == RejectSaturated {
			return CategoryTransient
		}
		return CategoryPermanent
	}

	// A handler fault is as retryable as whatever caused it.
	var fault *HandlerFault
	if errors.As(err, &fault) {
		if fault.Err == nil {
			return CategoryPermanent
		}
		return Categorize(fault.Err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsFatal reports whether the error must abort the caller.
func IsFatal(err error) bool {
	return Categorize(err) == CategoryFatal
}
