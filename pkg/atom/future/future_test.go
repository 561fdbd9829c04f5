package future

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteOnce(t *testing.T) {
	f := New[string]()

	assert.True(t, f.Complete("first"))
	assert.False(t, f.Complete("second"))
	assert.False(t, f.Fail(errors.New("late")))

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestRacingCompletionsFirstWins(t *testing.T) {
	f := New[int]()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if f.Complete(i) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	_, _, ok := f.Peek()
	assert.True(t, ok)
}

func TestCallbacksRunInAttachmentOrder(t *testing.T) {
	f := New[int]()
	var order []int
	f.OnComplete(func(int, error) { order = append(order, 1) })
	f.OnComplete(func(int, error) { order = append(order, 2) })

	f.Complete(5)
	f.OnComplete(func(v int, _ error) { order = append(order, v) })

	assert.Equal(t, []int{1, 2, 5}, order)
}

func TestAwaitHonorsContext(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.IsDone())
}

func TestThen(t *testing.T) {
	f := New[int]()
	doubled := Then(f, func(v int) (int, error) { return v * 2, nil })
	f.Complete(21)

	v, err := doubled.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := errors.New("boom")
	failed := Then(Failed[int](boom), func(v int) (int, error) { return v, nil })
	_, err = failed.Await(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSignal(t *testing.T) {
	s := Signal(Completed("x"))
	assert.True(t, s.IsDone())
	_, err, ok := s.Peek()
	assert.True(t, ok)
	assert.NoError(t, err)
}
