package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
)

type span struct {
	start, end time.Time
}

func TestGrouped_SerializesPerKey(t *testing.T) {
	g, err := GroupedBy[string](Named("users")).CoreWorkers(4).MaxWorkers(4).Build()
	require.NoError(t, err)
	defer g.Shutdown()

	var mu sync.Mutex
	spans := map[string][]span{}
	var wg sync.WaitGroup

	record := func(key string) Runnable {
		return func(context.Context) {
			defer wg.Done()
			s := span{start: time.Now()}
			time.Sleep(50 * time.Millisecond)
			s.end = time.Now()
			mu.Lock()
			spans[key] = append(spans[key], s)
			mu.Unlock()
		}
	}

	begin := time.Now()
	wg.Add(4)
	for i := 0; i < 3; i++ {
		require.NoError(t, g.ExecuteGrouped("user-42", record("user-42")))
	}
	require.NoError(t, g.ExecuteGrouped("user-7", record("user-7")))

	user7Done := make(chan time.Duration, 1)
	go func() {
		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(spans["user-7"]) == 1
		}, time.Second, 5*time.Millisecond)
		user7Done <- time.Since(begin)
	}()

	wg.Wait()
	total := time.Since(begin)
	assert.GreaterOrEqual(t, total, 150*time.Millisecond)
	assert.Less(t, <-user7Done, 140*time.Millisecond, "user-7 must not wait behind user-42")

	mu.Lock()
	defer mu.Unlock()
	chain := spans["user-42"]
	require.Len(t, chain, 3)
	for i := 1; i < len(chain); i++ {
		assert.False(t, chain[i].start.Before(chain[i-1].end),
			"task %d started before task %d ended", i, i-1)
	}
}

func TestGrouped_FIFOWithinKey(t *testing.T) {
	g, err := GroupedBy[int](Named("fifo")).CoreWorkers(8).MaxWorkers(8).Build()
	require.NoError(t, err)
	defer g.Shutdown()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, g.ExecuteGrouped(1, func(context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	wg.Wait()

	for i, v := range order {
		assert.Equal(t, i, v)
	}
	assert.Eventually(t, func() bool { return g.ActiveGroups() == 0 }, time.Second, 5*time.Millisecond)
}

func TestGrouped_FailingTaskReleasesKey(t *testing.T) {
	g, err := GroupedBy[string](Named("faulty")).CoreWorkers(2).MaxWorkers(2).Build()
	require.NoError(t, err)
	defer g.Shutdown()

	done := make(chan struct{})
	require.NoError(t, g.ExecuteGrouped("k", func(context.Context) { panic("first fails") }))
	require.NoError(t, g.ExecuteGrouped("k", func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second task for key never ran")
	}
}

func TestGrouped_ShutdownDrainsQueuedKeys(t *testing.T) {
	g, err := GroupedBy[string](Named("drain")).CoreWorkers(1).MaxWorkers(1).Build()
	require.NoError(t, err)

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 3; i++ {
		require.NoError(t, g.ExecuteGrouped("k", func(context.Context) {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			ran++
			mu.Unlock()
		}))
	}
	g.Shutdown()

	err = g.ExecuteGrouped("k", func(context.Context) {})
	assert.ErrorIs(t, err, aerrors.ErrRejectedSubmission)

	awaitTerminated(t, g)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, ran)
}

func TestGrouped_ShutdownNowReturnsQueued(t *testing.T) {
	g, err := GroupedBy[string](Named("abort")).CoreWorkers(1).MaxWorkers(1).Build()
	require.NoError(t, err)

	started := make(chan struct{})
	require.NoError(t, g.ExecuteGrouped("k", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))
	<-started
	require.NoError(t, g.ExecuteGrouped("k", func(context.Context) {}))
	require.NoError(t, g.ExecuteGrouped("k", func(context.Context) {}))
	assert.Equal(t, 2, g.Stats().Queued)

	pending := g.ShutdownNow()
	assert.Len(t, pending, 2)
	awaitTerminated(t, g)
}

func TestGrouped_OwnsKeyedTasks(t *testing.T) {
	g, err := GroupedBy[string](Named("owner")).CoreWorkers(1).MaxWorkers(1).Build()
	require.NoError(t, err)
	defer g.Shutdown()

	owned := make(chan bool, 2)
	require.NoError(t, g.ExecuteGrouped("k", func(ctx context.Context) { owned <- g.Owns(ctx) }))
	require.NoError(t, g.Execute(func(ctx context.Context) { owned <- g.Owns(ctx) }))
	assert.True(t, <-owned)
	assert.True(t, <-owned)
}

func TestGrouped_SaturatedPoolRunsHandOffInline(t *testing.T) {
	g, err := GroupedBy[string](Named("narrow")).CoreWorkers(1).MaxWorkers(1).QueueCapacity(0).Build()
	require.NoError(t, err)
	defer g.Shutdown()

	release := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	require.NoError(t, g.ExecuteGrouped("k", func(context.Context) {
		close(started)
		<-release
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	}))
	<-started
	require.NoError(t, g.ExecuteGrouped("k", func(ctx context.Context) {
		assert.True(t, g.Owns(ctx))
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	}))
	require.NoError(t, g.ExecuteGrouped("k", func(context.Context) {
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
		close(done)
	}))
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued tasks for key never ran")
	}

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, order)
	mu.Unlock()

	assert.Eventually(t, func() bool { return g.ActiveGroups() == 0 }, time.Second, 5*time.Millisecond)
	stats := g.Stats()
	assert.Equal(t, uint64(3), stats.Submitted)
	assert.Equal(t, uint64(3), stats.Completed)
	assert.Zero(t, stats.Rejected)
}
