package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type foreignKey struct{}

func TestWrapped_DelegatesToRunner(t *testing.T) {
	var calls int
	var mu sync.Mutex
	runner := func(fn func()) {
		mu.Lock()
		calls++
		mu.Unlock()
		go fn()
	}

	w, err := Named("foreign").Wrap(runner).Build()
	require.NoError(t, err)

	done := make(chan bool, 1)
	require.NoError(t, w.Execute(func(ctx context.Context) { done <- w.Owns(ctx) }))
	assert.True(t, <-done)

	w.Shutdown()
	awaitTerminated(t, w)
	assert.Error(t, w.Execute(func(context.Context) {}))
	assert.Empty(t, w.ShutdownNow())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestWrapped_Detector(t *testing.T) {
	w, err := Named("detected").
		Wrap(func(fn func()) { fn() }).
		WithDetector(func(ctx context.Context) bool { return ctx.Value(foreignKey{}) != nil }).
		Build()
	require.NoError(t, err)

	assert.True(t, w.Owns(context.WithValue(context.Background(), foreignKey{}, true)))
	assert.False(t, w.Owns(context.Background()))
}

func TestWrapped_RequiresRunner(t *testing.T) {
	_, err := Named("none").Wrap(nil).Build()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
