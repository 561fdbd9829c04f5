package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig describes how a task body is re-attempted. Nothing retries
// implicitly: a task opts in with WithRetry on its builder, and a handler
// that wants retries wraps its own work with Retry.
type RetryConfig struct {
	// MaxAttempts caps the number of calls, the first one included. Values
	// below one mean a single call.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure.
	InitialBackoff time.Duration

	// MaxBackoff bounds the wait between attempts. Zero leaves it unbounded.
	MaxBackoff time.Duration

	// BackoffFactor grows the wait after every failed attempt. Factors
	// below one keep the wait constant.
	BackoffFactor float64

	// Jitter spreads each wait by up to this fraction in either direction.
	Jitter float64

	// RetryableFunc decides which failures are worth another attempt.
	// IsRetryable is used when nil.
	RetryableFunc func(error) bool
}

// DefaultRetry suits in-process work: three attempts, waits measured in
// milliseconds.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry calls the body once.
var NoRetry = RetryConfig{MaxAttempts: 1}

// RetryResult reports the outcome of WithRetryContext.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// Retry calls fn until it returns nil, returns an error cfg does not
// consider retryable, runs out of attempts, or ctx ends.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	return WithRetryContext(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}).Err
}

// WithRetryContext is Retry for bodies that produce a value. A failure is
// returned as a *CategorizedError recording how many attempts were made.
func WithRetryContext[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) RetryResult[T] {
	start := time.Now()
	limit := max(cfg.MaxAttempts, 1)
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}
	wait := newBackoff(cfg)

	done := func(v T, err error, attempts int) RetryResult[T] {
		return RetryResult[T]{Value: v, Err: err, Attempts: attempts, Duration: time.Since(start)}
	}
	var zero T

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return done(zero, Permanent(err, "task cancelled before attempt"), attempt-1)
		}

		v, err := fn(ctx)
		switch {
		case err == nil:
			return done(v, nil, attempt)
		case !retryable(err):
			return done(zero, &CategorizedError{Err: err, Category: Categorize(err), Retries: attempt}, attempt)
		case attempt == limit:
			return done(zero, &CategorizedError{
				Err:      err,
				Category: Categorize(err),
				Retries:  attempt,
				Context:  "attempts exhausted",
			}, attempt)
		}

		timer := time.NewTimer(wait.next())
		select {
		case <-ctx.Done():
			timer.Stop()
			return done(zero, Permanent(ctx.Err(), "task cancelled while backing off"), attempt)
		case <-timer.C:
		}
	}
}

// backoff yields successive waits for one retry loop.
type backoff struct {
	cur    time.Duration
	cap    time.Duration
	factor float64
	jitter float64
}

func newBackoff(cfg RetryConfig) *backoff {
	return &backoff{cur: cfg.InitialBackoff, cap: cfg.MaxBackoff, factor: cfg.BackoffFactor, jitter: cfg.Jitter}
}

func (b *backoff) next() time.Duration {
	d := b.cur
	if b.factor > 1 {
		b.cur = time.Duration(float64(b.cur) * b.factor)
	}
	if b.cap > 0 && b.cur > b.cap {
		b.cur = b.cap
	}
	if b.jitter > 0 {
		d += time.Duration(float64(d) * b.jitter * (rand.Float64()*2 - 1))
	}
	return d
}

// RetryOption adjusts a RetryConfig built by NewRetryConfig.
type RetryOption func(*RetryConfig)

// WithMaxAttempts caps the number of calls.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxAttempts = n }
}

// WithInitialBackoff sets the first wait.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.InitialBackoff = d }
}

// WithMaxBackoff bounds the wait.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxBackoff = d }
}

// WithBackoffFactor sets how fast the wait grows.
func WithBackoffFactor(f float64) RetryOption {
	return func(cfg *RetryConfig) { cfg.BackoffFactor = f }
}

// WithJitter sets the jitter fraction.
func WithJitter(j float64) RetryOption {
	return func(cfg *RetryConfig) { cfg.Jitter = j }
}

// WithRetryableFunc replaces IsRetryable for this config.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(cfg *RetryConfig) { cfg.RetryableFunc = fn }
}

// NewRetryConfig starts from DefaultRetry and applies opts.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
