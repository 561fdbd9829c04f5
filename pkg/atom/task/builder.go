package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/atom/pkg/atom/bind"
	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
	"github.com/randalmurphal/atom/pkg/atom/executor"
)

// common holds settings shared by both builder kinds.
type common struct {
	name   string
	owner  bind.Bindable
	logger *slog.Logger
	retry  *aerrors.RetryConfig
}

func (c common) newCore() *core {
	return newCore(c.name, c.logger)
}

// retrying wraps a body so retryable errors are retried per c.retry.
func retrying[T any](c common, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	if c.retry == nil {
		return fn
	}
	cfg := *c.retry
	return func(ctx context.Context) (T, error) {
		res := aerrors.WithRetryContext(ctx, cfg, fn)
		return res.Value, res.Err
	}
}

// ImmediateBuilder builds one-shot tasks.
type ImmediateBuilder struct {
	common
}

// Immediate starts building a one-shot task.
func Immediate() ImmediateBuilder {
	return ImmediateBuilder{}
}

// WithName names the task.
func (b ImmediateBuilder) WithName(name string) ImmediateBuilder {
	b.name = name
	return b
}

// WithOwner cancels the task, interrupting it, when owner is disposed.
func (b ImmediateBuilder) WithOwner(owner bind.Bindable) ImmediateBuilder {
	b.owner = owner
	return b
}

// WithLogger sets the task's logger.
func (b ImmediateBuilder) WithLogger(logger *slog.Logger) ImmediateBuilder {
	b.logger = logger
	return b
}

// WithRetry retries the body while it returns retryable errors. Only the
// Catching variants can fail, so only they are affected.
func (b ImmediateBuilder) WithRetry(cfg aerrors.RetryConfig) ImmediateBuilder {
	b.retry = &cfg
	return b
}

// Build creates a task around fn.
func (b ImmediateBuilder) Build(fn func(ctx context.Context)) *Task {
	return b.BuildCatching(func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// BuildCatching creates a task whose body may fail. The error is kept on
// the task and logged.
func (b ImmediateBuilder) BuildCatching(fn func(ctx context.Context) error) *Task {
	body := retrying(b.common, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	t := &Task{core: b.newCore(), body: func(ctx context.Context) error {
		_, err := body(ctx)
		return err
	}}
	t.bindOwner(b.owner)
	return t
}

// BuildSupplying creates a task that produces a value.
func BuildSupplying[T any](b ImmediateBuilder, fn func(ctx context.Context) T) *FutureTask[T] {
	return BuildCatchingSupplying(b, func(ctx context.Context) (T, error) {
		return fn(ctx), nil
	})
}

// BuildCatchingSupplying creates a task that produces a value or fails.
func BuildCatchingSupplying[T any](b ImmediateBuilder, fn func(ctx context.Context) (T, error)) *FutureTask[T] {
	t := newFutureTask(b.newCore(), retrying(b.common, fn))
	t.bindOwner(b.owner)
	return t
}

// ScheduleStage picks when a scheduled task fires.
type ScheduleStage struct {
	sched *Scheduler
}

// Scheduled starts building a task owned by sched.
func Scheduled(sched *Scheduler) ScheduleStage {
	return ScheduleStage{sched: sched}
}

// WithDelay fires once after d.
func (s ScheduleStage) WithDelay(d time.Duration) ScheduledBuilder {
	return ScheduledBuilder{sched: s.sched, kind: kindDelay, initial: d}
}

// WithFixedRate fires after initialDelay and then every interval. A slow
// run delays the next one; runs never overlap.
func (s ScheduleStage) WithFixedRate(initialDelay, interval time.Duration) ScheduledBuilder {
	return ScheduledBuilder{sched: s.sched, kind: kindFixedRate, initial: initialDelay, interval: interval}
}

// WithCron fires on a six-field cron spec (seconds first) or a descriptor
// such as "@every 5s".
func (s ScheduleStage) WithCron(spec string) ScheduledBuilder {
	return ScheduledBuilder{sched: s.sched, kind: kindCron, cronSpec: spec}
}

// ScheduledBuilder builds scheduled tasks. Build schedules the task.
type ScheduledBuilder struct {
	common
	sched    *Scheduler
	delegate executor.Executor
	kind     scheduleKind
	initial  time.Duration
	interval time.Duration
	cronSpec string
}

// WithName names the task.
func (b ScheduledBuilder) WithName(name string) ScheduledBuilder {
	b.name = name
	return b
}

// WithOwner cancels the task when owner is disposed.
func (b ScheduledBuilder) WithOwner(owner bind.Bindable) ScheduledBuilder {
	b.owner = owner
	return b
}

// WithLogger sets the task's logger. The scheduler's logger is the default.
func (b ScheduledBuilder) WithLogger(logger *slog.Logger) ScheduledBuilder {
	b.logger = logger
	return b
}

// WithRetry retries each run of the body while it returns retryable
// errors. The schedule only ends once the retries are exhausted.
func (b ScheduledBuilder) WithRetry(cfg aerrors.RetryConfig) ScheduledBuilder {
	b.retry = &cfg
	return b
}

// WithDelegateExecutor runs the body on exec instead of the timer goroutine.
func (b ScheduledBuilder) WithDelegateExecutor(exec executor.Executor) ScheduledBuilder {
	b.delegate = exec
	return b
}

// Build schedules fn.
func (b ScheduledBuilder) Build(fn func(ctx context.Context, self *ScheduledTask)) (*ScheduledTask, error) {
	return b.BuildCatching(func(ctx context.Context, self *ScheduledTask) error {
		fn(ctx, self)
		return nil
	})
}

// BuildCatching schedules fn. A returned error ends the schedule and is
// kept on the task.
func (b ScheduledBuilder) BuildCatching(fn func(ctx context.Context, self *ScheduledTask) error) (*ScheduledTask, error) {
	t, err := b.newTask(fn)
	if err != nil {
		return nil, err
	}
	if err := t.start(b.initial, b.owner); err != nil {
		return nil, err
	}
	return t, nil
}

// BuildScheduledSupplying schedules a repeating body that resolves the
// returned future by calling Complete on it.
func BuildScheduledSupplying[T any](b ScheduledBuilder, fn func(ctx context.Context, self *ScheduledFuture[T])) (*ScheduledFuture[T], error) {
	return BuildScheduledCatchingSupplying(b, func(ctx context.Context, self *ScheduledFuture[T]) error {
		fn(ctx, self)
		return nil
	})
}

// BuildScheduledCatchingSupplying is BuildScheduledSupplying for bodies
// that may fail; an error fails the future and ends the schedule.
func BuildScheduledCatchingSupplying[T any](b ScheduledBuilder, fn func(ctx context.Context, self *ScheduledFuture[T]) error) (*ScheduledFuture[T], error) {
	var f *ScheduledFuture[T]
	t, err := b.newTask(func(ctx context.Context, _ *ScheduledTask) error {
		return fn(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	f = newScheduledFuture[T](t)
	if err := t.start(b.initial, b.owner); err != nil {
		return nil, err
	}
	return f, nil
}

func (b ScheduledBuilder) newTask(fn func(context.Context, *ScheduledTask) error) (*ScheduledTask, error) {
	if b.sched == nil {
		return nil, &aerrors.SchedulingError{Task: b.name, Reason: "no scheduler"}
	}
	switch {
	case b.initial < 0:
		return nil, &aerrors.SchedulingError{Task: b.name, Reason: "negative delay"}
	case b.kind == kindFixedRate && b.interval <= 0:
		return nil, &aerrors.SchedulingError{Task: b.name, Reason: "interval must be positive"}
	case b.kind == kindCron && b.cronSpec == "":
		return nil, &aerrors.SchedulingError{Task: b.name, Reason: "empty cron spec"}
	}
	if b.logger == nil {
		b.logger = b.sched.logger
	}
	t := &ScheduledTask{
		core:     b.common.newCore(),
		sched:    b.sched,
		delegate: b.delegate,
		kind:     b.kind,
		cronSpec: b.cronSpec,
	}
	body := retrying(b.common, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx, t)
	})
	t.body = func(ctx context.Context, _ *ScheduledTask) error {
		_, err := body(ctx)
		return err
	}
	t.interval.Store(int64(b.interval))
	return t, nil
}
