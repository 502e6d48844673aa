package cancel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRootStartsUncancelled(t *testing.T) {
	root := NewRoot("runtime")
	assert.False(t, root.Cancelled())
	assert.Equal(t, "runtime", root.Name())
}

func TestCancelMarksTokenCancelled(t *testing.T) {
	root := NewRoot("runtime")
	root.Cancel()
	assert.True(t, root.Cancelled())
}

func TestCancelParentCancelsChild(t *testing.T) {
	root := NewRoot("runtime")
	child := root.Child("box")
	root.Cancel()
	assert.True(t, child.Cancelled())
}

func TestCancelChildNeverCancelsParent(t *testing.T) {
	root := NewRoot("runtime")
	child := root.Child("box")
	child.Cancel()
	assert.True(t, child.Cancelled())
	assert.False(t, root.Cancelled())
}

func TestWaitReturnsValueWhenNotCancelled(t *testing.T) {
	root := NewRoot("runtime")
	result := make(chan int, 1)
	result <- 42
	v, ok := Wait(root, result)
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestWaitReturnsFalseWhenAlreadyCancelled(t *testing.T) {
	root := NewRoot("runtime")
	root.Cancel()
	result := make(chan int, 1)
	result <- 42
	v, ok := Wait(root, result)
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestWaitUnblocksOnCancelWithNoResult(t *testing.T) {
	root := NewRoot("runtime")
	result := make(chan int)
	done := make(chan struct{})
	go func() {
		_, ok := Wait(root, result)
		assert.False(t, ok)
		close(done)
	}()
	root.Cancel()
	<-done
}

func TestContextReflectsCancellation(t *testing.T) {
	root := NewRoot("runtime")
	select {
	case <-root.Context().Done():
		t.Fatal("context should not be done yet")
	default:
	}
	root.Cancel()
	select {
	case <-root.Context().Done():
	default:
		t.Fatal("context should be done after Cancel")
	}
}
