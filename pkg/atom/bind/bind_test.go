package bind

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeRunsHooksInReverse(t *testing.T) {
	s := NewScope()
	var order []int
	s.OnDispose(func() { order = append(order, 1) })
	s.OnDispose(func() { order = append(order, 2) })
	s.OnDispose(func() { order = append(order, 3) })

	s.Dispose()
	s.Dispose()

	assert.Equal(t, []int{3, 2, 1}, order)
	assert.True(t, s.Disposed())
}

func TestScopeLateHookRunsImmediately(t *testing.T) {
	s := NewScope()
	s.Dispose()

	ran := false
	s.OnDispose(func() { ran = true })
	assert.True(t, ran)
}

func TestAttachNilOwner(t *testing.T) {
	assert.NotPanics(t, func() {
		Attach(nil, func() { t.Fatal("hook must not run") })
	})

	s := NewScope()
	ran := false
	Attach(s, func() { ran = true })
	s.Dispose()
	assert.True(t, ran)
}
