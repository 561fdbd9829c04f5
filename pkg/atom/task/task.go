package task

import (
	"context"
	"fmt"
	"log/slog"

	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
	"github.com/randalmurphal/atom/pkg/atom/executor"
	"github.com/randalmurphal/atom/pkg/atom/future"
)

// Task is a one-shot unit of work.
type Task struct {
	*core
	body func(ctx context.Context) error
}

var _ Handle = (*Task)(nil)

// Run executes the body if the task is still pending. It matches
// executor.Runnable, so a task can be submitted with exec.Execute(t.Run).
func (t *Task) Run(ctx context.Context) {
	ctx, cancel, ok := t.begin(ctx)
	defer cancel()
	if !ok {
		return
	}
	if err := invoke(ctx, t.body); err != nil {
		t.setErr(err)
		t.logger.Warn("task failed", slog.String("error", err.Error()))
	}
	t.transition(StateDone)
}

// SubmitTo hands the task to exec.
func (t *Task) SubmitTo(exec executor.Executor) error {
	return exec.Execute(t.Run)
}

// FutureTask is a one-shot task that produces a value.
type FutureTask[T any] struct {
	*Task
	result *future.Future[T]
}

// Future returns the future resolved with the task's value, its error, or
// errors.ErrCancelled.
func (t *FutureTask[T]) Future() *future.Future[T] {
	return t.result
}

// Await blocks until the value is available or ctx ends.
func (t *FutureTask[T]) Await(ctx context.Context) (T, error) {
	return t.result.Await(ctx)
}

func newFutureTask[T any](c *core, fn func(ctx context.Context) (T, error)) *FutureTask[T] {
	result := future.New[T]()
	t := &FutureTask[T]{
		Task:   &Task{core: c},
		result: result,
	}
	t.body = func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			result.Fail(err)
			return err
		}
		result.Complete(v)
		return nil
	}
	c.onFinish = append(c.onFinish, func(s State) {
		if s == StateCancelled {
			result.Fail(aerrors.ErrCancelled)
		} else if err := c.Err(); err != nil {
			// Panics never reach the body wrapper above.
			result.Fail(err)
		}
	})
	return t
}

// invoke runs body and converts a panic into an error.
func invoke(ctx context.Context, body func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return body(ctx)
}
