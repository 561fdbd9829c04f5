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

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := NewScheduler()
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestScheduled_DelayFiresOnce(t *testing.T) {
	s := newTestScheduler(t)

	fired := make(chan time.Time, 2)
	begin := time.Now()
	tk, err := Scheduled(s).WithDelay(30 * time.Millisecond).Build(func(context.Context, *ScheduledTask) {
		fired <- time.Now()
	})
	require.NoError(t, err)

	at := <-fired
	assert.GreaterOrEqual(t, at.Sub(begin), 30*time.Millisecond)
	<-tk.Done()
	assert.True(t, tk.IsDone())
	assert.Equal(t, uint64(1), tk.Runs())
	assert.Equal(t, 0, s.Len())
	assert.False(t, tk.UpdateInterval(time.Second), "terminal task cannot change interval")
}

func TestScheduled_FixedRateSelfCancel(t *testing.T) {
	s := newTestScheduler(t)

	tk, err := Scheduled(s).WithFixedRate(0, 10*time.Millisecond).Build(func(_ context.Context, self *ScheduledTask) {
		if self.Runs() == 2 { // third run
			self.Cancel(false)
		}
	})
	require.NoError(t, err)

	select {
	case <-tk.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task never cancelled itself")
	}
	assert.True(t, tk.IsCancelled())
	assert.Eventually(t, func() bool { return tk.Runs() == 3 }, time.Second, 5*time.Millisecond)
}

func TestScheduled_UpdateInterval(t *testing.T) {
	s := newTestScheduler(t)

	var runs atomic.Int32
	tk, err := Scheduled(s).WithFixedRate(time.Hour, time.Hour).Build(func(context.Context, *ScheduledTask) {
		runs.Add(1)
	})
	require.NoError(t, err)

	assert.True(t, tk.UpdateInterval(5*time.Millisecond))
	assert.Equal(t, 5*time.Millisecond, tk.Interval())
	assert.False(t, tk.UpdateInterval(0))

	err = tk.TryUpdateInterval(-time.Second)
	assert.ErrorIs(t, err, aerrors.ErrSchedulingRejected)

	// The pending firing keeps its original hour-long delay.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())

	require.True(t, tk.Cancel(false))
	assert.False(t, tk.UpdateInterval(time.Second))
}

func TestScheduled_UpdateIntervalAffectsNextFiring(t *testing.T) {
	s := newTestScheduler(t)

	var times []time.Time
	done := make(chan struct{})
	_, err := Scheduled(s).WithFixedRate(0, time.Hour).Build(func(_ context.Context, self *ScheduledTask) {
		times = append(times, time.Now())
		switch len(times) {
		case 1:
			self.UpdateInterval(20 * time.Millisecond)
		case 3:
			self.Cancel(false)
			close(done)
		}
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("interval change did not apply to later firings")
	}
	assert.GreaterOrEqual(t, times[2].Sub(times[1]), 15*time.Millisecond)
}

func TestScheduled_DelegateExecutor(t *testing.T) {
	s := newTestScheduler(t)
	exec, err := executor.Named("delegate").Dynamic().CoreWorkers(1).MaxWorkers(1).Build()
	require.NoError(t, err)
	defer exec.Shutdown()

	owned := make(chan bool, 1)
	_, err = Scheduled(s).WithDelay(0).WithDelegateExecutor(exec).Build(func(ctx context.Context, _ *ScheduledTask) {
		owned <- exec.Owns(ctx)
	})
	require.NoError(t, err)
	assert.True(t, <-owned)
}

func TestScheduled_DelegateRejectionCancels(t *testing.T) {
	s := newTestScheduler(t)
	exec, err := executor.Named("closed").Dynamic().Build()
	require.NoError(t, err)
	exec.Shutdown()

	tk, err := Scheduled(s).WithDelay(0).WithDelegateExecutor(exec).Build(func(context.Context, *ScheduledTask) {
		t.Error("body must not run")
	})
	require.NoError(t, err)

	<-tk.Done()
	assert.True(t, tk.IsCancelled())
	assert.ErrorIs(t, tk.Err(), aerrors.ErrRejectedSubmission)
}

func TestScheduled_CatchingErrorStopsSchedule(t *testing.T) {
	s := newTestScheduler(t)
	boom := errors.New("boom")

	tk, err := Scheduled(s).WithFixedRate(0, 5*time.Millisecond).BuildCatching(func(context.Context, *ScheduledTask) error {
		return boom
	})
	require.NoError(t, err)

	<-tk.Done()
	assert.True(t, tk.IsDone())
	assert.ErrorIs(t, tk.Err(), boom)
	assert.Equal(t, uint64(1), tk.Runs())
}

func TestScheduledFuture_CompleteOnce(t *testing.T) {
	s := newTestScheduler(t)

	var second atomic.Bool
	f, err := BuildScheduledSupplying(Scheduled(s).WithFixedRate(0, 5*time.Millisecond),
		func(_ context.Context, self *ScheduledFuture[string]) {
			if self.Runs() == 1 { // second run
				assert.True(t, self.Complete("first"))
				second.Store(self.Complete("second"))
			}
		})
	require.NoError(t, err)

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", v)
	assert.False(t, second.Load())
	assert.False(t, f.Complete("late"))

	<-f.Done()
	assert.True(t, f.IsDone())
	v, _ = f.Await(context.Background())
	assert.Equal(t, "first", v)
}

func TestScheduledFuture_CancelFails(t *testing.T) {
	s := newTestScheduler(t)

	f, err := BuildScheduledSupplying(Scheduled(s).WithDelay(time.Hour),
		func(context.Context, *ScheduledFuture[int]) {})
	require.NoError(t, err)

	require.True(t, f.Cancel(true))
	_, err = f.Await(context.Background())
	assert.ErrorIs(t, err, aerrors.ErrCancelled)
	assert.False(t, f.Complete(1))
}

func TestScheduled_Cron(t *testing.T) {
	s := newTestScheduler(t)

	fired := make(chan struct{}, 1)
	tk, err := Scheduled(s).WithCron("@every 1s").WithName("heartbeat").Build(func(context.Context, *ScheduledTask) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	assert.False(t, tk.UpdateInterval(time.Second), "cron tasks follow their spec")

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("cron task never fired")
	}
	assert.True(t, tk.Cancel(false))
	assert.Equal(t, 0, s.Len())
}

func TestScheduled_Validation(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context, *ScheduledTask) {}

	tests := []struct {
		name string
		b    ScheduledBuilder
	}{
		{name: "invalid cron", b: Scheduled(s).WithCron("not a spec")},
		{name: "zero rate", b: Scheduled(s).WithFixedRate(0, 0)},
		{name: "negative delay", b: Scheduled(s).WithDelay(-time.Second)},
		{name: "no scheduler", b: Scheduled(nil).WithDelay(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Build(noop)
			assert.ErrorIs(t, err, aerrors.ErrSchedulingRejected)
		})
	}
}

func TestScheduled_OwnerDisposal(t *testing.T) {
	s := newTestScheduler(t)
	scope := bind.NewScope()

	tk, err := Scheduled(s).WithDelay(time.Hour).WithOwner(scope).Build(func(context.Context, *ScheduledTask) {})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	scope.Dispose()
	assert.True(t, tk.IsCancelled())
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_Shutdown(t *testing.T) {
	s := NewScheduler()
	tk, err := Scheduled(s).WithFixedRate(time.Hour, time.Hour).Build(func(context.Context, *ScheduledTask) {})
	require.NoError(t, err)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.True(t, tk.IsCancelled())

	_, err = Scheduled(s).WithDelay(0).Build(func(context.Context, *ScheduledTask) {})
	assert.ErrorIs(t, err, aerrors.ErrSchedulingRejected)
}
