package executor

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
)

func awaitTerminated(t *testing.T, e Executor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.True(t, e.AwaitTermination(ctx), "executor %s did not terminate", e.Name())
}

func TestPool_RunsTasks(t *testing.T) {
	p, err := Named("dyn").Dynamic().CoreWorkers(2).MaxWorkers(4).Build()
	require.NoError(t, err)

	var wg sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, p.Execute(func(context.Context) {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(20), count.Load())

	p.Shutdown()
	awaitTerminated(t, p)
	assert.True(t, p.IsShutdown())
	assert.True(t, p.IsTerminated())

	stats := p.Stats()
	assert.Equal(t, uint64(20), stats.Submitted)
	assert.Equal(t, uint64(20), stats.Completed)
}

func TestPool_RejectsAfterShutdown(t *testing.T) {
	p, err := Named("closed").Dynamic().Build()
	require.NoError(t, err)
	p.Shutdown()

	err = p.Execute(func(context.Context) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, aerrors.ErrRejectedSubmission)

	var rejected *aerrors.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "closed", rejected.Executor)
	assert.Equal(t, aerrors.RejectShutdown, rejected.Reason)
	assert.Equal(t, uint64(1), p.Stats().Rejected)
}

func TestPool_RejectsWhenSaturated(t *testing.T) {
	p, err := Named("tiny").Dynamic().CoreWorkers(1).MaxWorkers(1).QueueCapacity(1).Build()
	require.NoError(t, err)
	defer p.ShutdownNow()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Execute(func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, p.Execute(func(context.Context) {}))

	err = p.Execute(func(context.Context) {})
	var rejected *aerrors.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, aerrors.RejectSaturated, rejected.Reason)
	assert.True(t, aerrors.IsRetryable(err))
	close(release)
}

func TestPool_GrowsBeyondCoreWhenQueueFull(t *testing.T) {
	p, err := Named("grow").Dynamic().CoreWorkers(1).MaxWorkers(3).QueueCapacity(0).Build()
	require.NoError(t, err)
	defer p.ShutdownNow()

	release := make(chan struct{})
	var running sync.WaitGroup
	running.Add(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Execute(func(context.Context) {
			running.Done()
			<-release
		}))
	}
	running.Wait()
	assert.Equal(t, 3, p.Stats().Workers)
	close(release)
}

func TestPool_ShutdownNowReturnsQueuedAndInterrupts(t *testing.T) {
	p, err := Named("now").Dynamic().CoreWorkers(1).MaxWorkers(1).QueueCapacity(10).Build()
	require.NoError(t, err)

	started := make(chan struct{})
	interrupted := make(chan struct{})
	require.NoError(t, p.Execute(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(interrupted)
	}))
	<-started

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Execute(func(context.Context) {
			t.Error("queued task must not run after ShutdownNow")
		}))
	}

	pending := p.ShutdownNow()
	assert.Len(t, pending, 3)

	select {
	case <-interrupted:
	case <-time.After(time.Second):
		t.Fatal("running task was not interrupted")
	}
	awaitTerminated(t, p)
}

func TestPool_PanicIsRecovered(t *testing.T) {
	p, err := Named("panicky").Dynamic().CoreWorkers(1).MaxWorkers(1).Build()
	require.NoError(t, err)

	done := make(chan struct{})
	require.NoError(t, p.Execute(func(context.Context) { panic("boom") }))
	require.NoError(t, p.Execute(func(context.Context) { close(done) }))
	<-done

	p.Shutdown()
	awaitTerminated(t, p)
	assert.Equal(t, uint64(1), p.Stats().Panicked)
}

func TestPool_Owns(t *testing.T) {
	a, err := Named("a").Dynamic().Build()
	require.NoError(t, err)
	b, err := Named("b").Dynamic().Build()
	require.NoError(t, err)
	defer a.ShutdownNow()
	defer b.ShutdownNow()

	result := make(chan [2]bool, 1)
	require.NoError(t, a.Execute(func(ctx context.Context) {
		result <- [2]bool{a.Owns(ctx), b.Owns(ctx)}
	}))
	got := <-result
	assert.True(t, got[0])
	assert.False(t, got[1])
	assert.False(t, a.Owns(context.Background()))
}

func TestPool_IdleWorkersRetire(t *testing.T) {
	p, err := Named("reaped").Cached().KeepAlive(20 * time.Millisecond).Build()
	require.NoError(t, err)
	defer p.Shutdown()

	var wg sync.WaitGroup
	release := make(chan struct{})
	wg.Add(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Execute(func(context.Context) {
			wg.Done()
			<-release
		}))
	}
	wg.Wait()
	assert.Equal(t, 3, p.Stats().Workers)
	close(release)

	assert.Eventually(t, func() bool { return p.Stats().Workers == 0 },
		time.Second, 10*time.Millisecond)
}

func TestPool_CoreTimeout(t *testing.T) {
	p, err := Named("core-timeout").Dynamic().
		CoreWorkers(2).MaxWorkers(2).
		KeepAlive(20 * time.Millisecond).
		AllowCoreTimeout(true).
		Build()
	require.NoError(t, err)
	defer p.Shutdown()

	done := make(chan struct{})
	require.NoError(t, p.Execute(func(context.Context) { close(done) }))
	<-done
	assert.Eventually(t, func() bool { return p.Stats().Workers == 0 },
		time.Second, 10*time.Millisecond)

	// A retired pool still accepts and runs work.
	again := make(chan struct{})
	require.NoError(t, p.Execute(func(context.Context) { close(again) }))
	select {
	case <-again:
	case <-time.After(time.Second):
		t.Fatal("task did not run after core workers retired")
	}
}

func TestPool_ShutdownNowAccountsForEveryTask(t *testing.T) {
	for round := 0; round < 20; round++ {
		p, err := Named("account").Dynamic().CoreWorkers(4).MaxWorkers(4).QueueCapacity(200).Build()
		require.NoError(t, err)

		var ran atomic.Int32
		accepted := 0
		for i := 0; i < 200; i++ {
			if p.Execute(func(context.Context) {
				ran.Add(1)
				time.Sleep(50 * time.Microsecond)
			}) == nil {
				accepted++
			}
		}

		pending := p.ShutdownNow()
		awaitTerminated(t, p)
		assert.Equal(t, accepted, int(ran.Load())+len(pending), "round %d", round)
	}
}

func TestPool_LogsNameOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	p, err := Named("logged").Logger(logger).Dynamic().Build()
	require.NoError(t, err)

	p.Shutdown()
	awaitTerminated(t, p)
	require.Error(t, p.Execute(func(context.Context) {}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"executor":"logged"`), line)
	}
}
