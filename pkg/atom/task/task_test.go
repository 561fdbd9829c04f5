package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/atom/pkg/atom/bind"
	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
	"github.com/randalmurphal/atom/pkg/atom/executor"
)

func TestTask_RunsOnce(t *testing.T) {
	var runs atomic.Int32
	tk := Immediate().WithName("once").Build(func(context.Context) { runs.Add(1) })

	assert.Equal(t, "once", tk.Name())
	assert.NotEmpty(t, tk.ID())
	assert.Equal(t, StatePending, tk.State())

	tk.Run(context.Background())
	tk.Run(context.Background())

	assert.Equal(t, int32(1), runs.Load())
	assert.True(t, tk.IsDone())
	assert.False(t, tk.IsRunning())
	assert.False(t, tk.Cancel(false), "cancel after completion must fail")
	<-tk.Done()
}

func TestTask_CancelPendingSkipsBody(t *testing.T) {
	ran := false
	tk := Immediate().Build(func(context.Context) { ran = true })

	assert.True(t, tk.Cancel(false))
	assert.False(t, tk.Cancel(false))
	tk.Run(context.Background())

	assert.False(t, ran)
	assert.True(t, tk.IsCancelled())
	assert.False(t, tk.IsDone())
}

func TestTask_CancelRunningWithInterrupt(t *testing.T) {
	started := make(chan struct{})
	interrupted := make(chan struct{})
	tk := Immediate().Build(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(interrupted)
	})

	go tk.Run(context.Background())
	<-started
	require.True(t, tk.IsRunning())

	assert.True(t, tk.Cancel(true))
	assert.False(t, tk.Cancel(true))

	select {
	case <-interrupted:
	case <-time.After(time.Second):
		t.Fatal("running body was not interrupted")
	}
	assert.True(t, tk.IsCancelled())
}

func TestTask_CancelRunningWithoutInterrupt(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool
	finished := make(chan struct{})
	tk := Immediate().Build(func(ctx context.Context) {
		close(started)
		<-release
		sawCancel.Store(ctx.Err() != nil)
		close(finished)
	})

	go tk.Run(context.Background())
	<-started
	assert.True(t, tk.Cancel(false))
	close(release)
	<-finished

	assert.False(t, sawCancel.Load(), "body context stays live without interrupt")
	assert.True(t, tk.IsCancelled(), "completion does not overwrite cancellation")
}

func TestTask_BuildCatching(t *testing.T) {
	boom := errors.New("boom")
	tk := Immediate().BuildCatching(func(context.Context) error { return boom })
	tk.Run(context.Background())

	assert.True(t, tk.IsDone())
	assert.ErrorIs(t, tk.Err(), boom)
}

func TestTask_PanicBecomesError(t *testing.T) {
	tk := Immediate().Build(func(context.Context) { panic("kaboom") })
	assert.NotPanics(t, func() { tk.Run(context.Background()) })
	require.Error(t, tk.Err())
	assert.Contains(t, tk.Err().Error(), "kaboom")
}

func TestTask_OnDisposeFiresWhenTerminal(t *testing.T) {
	tk := Immediate().Build(func(context.Context) {})
	var disposed atomic.Int32
	tk.OnDispose(func() { disposed.Add(1) })

	tk.Run(context.Background())
	assert.Equal(t, int32(1), disposed.Load())

	tk.OnDispose(func() { disposed.Add(1) })
	assert.Equal(t, int32(2), disposed.Load(), "late hooks run immediately")
}

func TestTask_OwnerDisposalCancels(t *testing.T) {
	scope := bind.NewScope()
	tk := Immediate().WithOwner(scope).Build(func(context.Context) {})

	scope.Dispose()
	assert.True(t, tk.IsCancelled())
}

func TestTask_SubmitTo(t *testing.T) {
	exec, err := executor.Named("tasks").Dynamic().CoreWorkers(1).MaxWorkers(1).Build()
	require.NoError(t, err)
	defer exec.Shutdown()

	owned := make(chan bool, 1)
	tk := Immediate().Build(func(ctx context.Context) { owned <- exec.Owns(ctx) })
	require.NoError(t, tk.SubmitTo(exec))
	assert.True(t, <-owned)
	<-tk.Done()
	assert.True(t, tk.IsDone())
}

func TestFutureTask(t *testing.T) {
	t.Run("supplies value", func(t *testing.T) {
		ft := BuildSupplying(Immediate(), func(context.Context) int { return 42 })
		go ft.Run(context.Background())

		v, err := ft.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})

	t.Run("propagates error", func(t *testing.T) {
		boom := errors.New("no value")
		ft := BuildCatchingSupplying(Immediate(), func(context.Context) (string, error) { return "", boom })
		ft.Run(context.Background())

		_, err := ft.Future().Await(context.Background())
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancel fails future", func(t *testing.T) {
		ft := BuildSupplying(Immediate(), func(context.Context) int { return 1 })
		require.True(t, ft.Cancel(false))

		_, err := ft.Await(context.Background())
		assert.ErrorIs(t, err, aerrors.ErrCancelled)
	})

	t.Run("panic fails future", func(t *testing.T) {
		ft := BuildSupplying(Immediate(), func(context.Context) int { panic("nope") })
		ft.Run(context.Background())

		_, err := ft.Await(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope")
	})
}

func TestTask_WithRetry(t *testing.T) {
	fast := aerrors.NewRetryConfig(
		aerrors.WithMaxAttempts(3),
		aerrors.WithInitialBackoff(time.Millisecond),
	)

	t.Run("transient errors are retried", func(t *testing.T) {
		var attempts atomic.Int32
		tk := Immediate().WithRetry(fast).BuildCatching(func(context.Context) error {
			if attempts.Add(1) < 3 {
				return aerrors.Transient(errors.New("busy"), "flaky")
			}
			return nil
		})
		tk.Run(context.Background())

		assert.Equal(t, int32(3), attempts.Load())
		assert.NoError(t, tk.Err())
		assert.True(t, tk.IsDone())
	})

	t.Run("permanent errors are not", func(t *testing.T) {
		var attempts atomic.Int32
		boom := errors.New("bad input")
		tk := Immediate().WithRetry(fast).BuildCatching(func(context.Context) error {
			attempts.Add(1)
			return boom
		})
		tk.Run(context.Background())

		assert.Equal(t, int32(1), attempts.Load())
		assert.ErrorIs(t, tk.Err(), boom)
	})

	t.Run("supplying", func(t *testing.T) {
		var attempts atomic.Int32
		ft := BuildCatchingSupplying(Immediate().WithRetry(fast), func(context.Context) (int, error) {
			if attempts.Add(1) == 1 {
				return 0, aerrors.Transient(errors.New("busy"), "flaky")
			}
			return 7, nil
		})
		ft.Run(context.Background())

		v, err := ft.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})
}
