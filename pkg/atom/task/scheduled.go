package task

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/randalmurphal/atom/pkg/atom/bind"
	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
	"github.com/randalmurphal/atom/pkg/atom/executor"
	"github.com/randalmurphal/atom/pkg/atom/future"
)

type scheduleKind int

const (
	kindDelay scheduleKind = iota
	kindFixedRate
	kindCron
)

// ScheduledTask is a task owned by a Scheduler. Its body receives the
// task itself so it can cancel itself or change its interval.
type ScheduledTask struct {
	*core
	sched    *Scheduler
	delegate executor.Executor
	body     func(ctx context.Context, self *ScheduledTask) error

	kind     scheduleKind
	interval atomic.Int64
	cronSpec string
	cronID   cronv3.EntryID

	// planned is the intended time of the current firing. Only the firing
	// path touches it.
	planned time.Time
	timer   *time.Timer
	runs    atomic.Uint64
}

var _ Handle = (*ScheduledTask)(nil)

// Interval returns the current repeat period. Zero for delay and cron tasks.
func (t *ScheduledTask) Interval() time.Duration {
	return time.Duration(t.interval.Load())
}

// Runs returns how many times the body has run.
func (t *ScheduledTask) Runs() uint64 {
	return t.runs.Load()
}

// UpdateInterval changes the period used for the next firing onward. A
// firing in progress is not affected. It returns false if the task is
// terminal, is not a fixed-rate task, or d is not positive.
func (t *ScheduledTask) UpdateInterval(d time.Duration) bool {
	return t.TryUpdateInterval(d) == nil
}

// TryUpdateInterval is UpdateInterval with the reason for a refusal.
func (t *ScheduledTask) TryUpdateInterval(d time.Duration) error {
	switch {
	case t.State().Terminal():
		return &aerrors.SchedulingError{Task: t.Name(), Reason: "task is " + t.State().String()}
	case t.kind != kindFixedRate:
		return &aerrors.SchedulingError{Task: t.Name(), Reason: "task does not repeat at a fixed rate"}
	case d <= 0:
		return &aerrors.SchedulingError{Task: t.Name(), Reason: "interval must be positive"}
	}
	t.interval.Store(int64(d))
	t.logger.Debug("task interval updated", slog.Duration("interval", d))
	return nil
}

func (t *ScheduledTask) start(initialDelay time.Duration, owner bind.Bindable) error {
	t.onFinish = append(t.onFinish, func(State) {
		t.mu.Lock()
		if t.timer != nil {
			t.timer.Stop()
		}
		id := t.cronID
		t.mu.Unlock()
		if t.kind == kindCron {
			t.sched.removeCron(id)
		}
		t.sched.untrack(t)
	})
	if err := t.sched.track(t); err != nil {
		return err
	}

	if t.kind == kindCron {
		id, err := t.sched.addCron(t.cronSpec, t.fire)
		if err != nil {
			t.sched.untrack(t)
			return &aerrors.SchedulingError{Task: t.Name(), Reason: "invalid cron spec: " + err.Error()}
		}
		t.mu.Lock()
		t.cronID = id
		t.mu.Unlock()
		if t.State().Terminal() {
			t.sched.removeCron(id)
		}
	} else {
		t.mu.Lock()
		t.planned = time.Now().Add(initialDelay)
		t.timer = time.AfterFunc(initialDelay, t.fire)
		t.mu.Unlock()
	}

	// Bound last so an already disposed owner cancels a fully armed task.
	t.bindOwner(owner)
	return nil
}

// fire runs on the timer or cron goroutine.
func (t *ScheduledTask) fire() {
	if t.State() != StatePending {
		return
	}
	if t.delegate == nil {
		t.execute(t.sched.root)
		return
	}
	if err := t.delegate.Execute(t.execute); err != nil {
		t.setErr(err)
		t.logger.Warn("delegate executor rejected scheduled task", slog.String("error", err.Error()))
		t.transition(StateCancelled)
	}
}

func (t *ScheduledTask) execute(ctx context.Context) {
	runCtx, cancel, ok := t.begin(ctx)
	defer cancel()
	if !ok {
		return
	}

	start := time.Now()
	err := invoke(runCtx, func(ctx context.Context) error { return t.body(ctx, t) })
	t.runs.Add(1)
	t.sched.metrics.RecordTask(ctx, t.executorName(), time.Since(start), err)

	if err != nil {
		t.setErr(err)
		t.logger.Warn("scheduled task failed, not rescheduling", slog.String("error", err.Error()))
		t.transition(StateDone)
		return
	}
	if t.kind == kindDelay {
		t.transition(StateDone)
		return
	}
	if !t.state.CompareAndSwap(int32(StateRunning), int32(StatePending)) {
		return
	}
	if t.kind == kindFixedRate {
		t.rearm()
	}
}

func (t *ScheduledTask) rearm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State().Terminal() {
		return
	}
	t.planned = t.planned.Add(t.Interval())
	delay := max(time.Until(t.planned), 0)
	if delay == 0 {
		// Overran by more than a period; restart the cadence from now.
		t.planned = time.Now()
	}
	t.timer = time.AfterFunc(delay, t.fire)
}

func (t *ScheduledTask) executorName() string {
	if t.delegate != nil {
		return t.delegate.Name()
	}
	return "scheduler"
}

// ScheduledFuture is a repeating task that resolves a future once its body
// calls Complete. Completing stops further firings.
type ScheduledFuture[T any] struct {
	*ScheduledTask
	result *future.Future[T]
}

// Complete sets the result. Only the first call succeeds; later calls
// return false and leave the value unchanged.
func (f *ScheduledFuture[T]) Complete(v T) bool {
	if !f.result.Complete(v) {
		return false
	}
	f.transition(StateDone)
	return true
}

// Future returns the future resolved by Complete, by a body error, or with
// errors.ErrCancelled on cancellation.
func (f *ScheduledFuture[T]) Future() *future.Future[T] {
	return f.result
}

// Await blocks until the result is available or ctx ends.
func (f *ScheduledFuture[T]) Await(ctx context.Context) (T, error) {
	return f.result.Await(ctx)
}

func newScheduledFuture[T any](t *ScheduledTask) *ScheduledFuture[T] {
	f := &ScheduledFuture[T]{ScheduledTask: t, result: future.New[T]()}
	t.onFinish = append(t.onFinish, func(s State) {
		switch err := t.Err(); {
		case s == StateCancelled:
			f.result.Fail(aerrors.ErrCancelled)
		case err != nil:
			f.result.Fail(err)
		default:
			// A one-shot body that returned without completing.
			var zero T
			f.result.Complete(zero)
		}
	})
	return f
}
