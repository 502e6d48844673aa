package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownTimeoutDefault(t *testing.T) {
	d, infinite := ShutdownTimeout(nil)
	assert.False(t, infinite)
	assert.Equal(t, 10*time.Second, d)
}

func TestShutdownTimeoutCustom(t *testing.T) {
	n := 30
	d, infinite := ShutdownTimeout(&n)
	assert.False(t, infinite)
	assert.Equal(t, 30*time.Second, d)
}

func TestShutdownTimeoutInfinite(t *testing.T) {
	n := -1
	_, infinite := ShutdownTimeout(&n)
	assert.True(t, infinite)
}

func TestShutdownTimeoutInvalidFallsBackToDefault(t *testing.T) {
	zero := 0
	d, infinite := ShutdownTimeout(&zero)
	assert.False(t, infinite)
	assert.Equal(t, 10*time.Second, d)

	negative := -5
	d, infinite = ShutdownTimeout(&negative)
	assert.False(t, infinite)
	assert.Equal(t, 10*time.Second, d)
}
