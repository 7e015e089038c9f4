package time

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonicClockMovesForward(t *testing.T) {
	c := NewClock()
	first := c.Elapsed()
	time.Sleep(2 * time.Millisecond)
	assert.Greater(t, c.Elapsed(), first)
}

func TestManualClock(t *testing.T) {
	c := NewManualClock()
	assert.Equal(t, time.Duration(0), c.Elapsed())

	c.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, c.Elapsed())
	assert.Equal(t, 5*time.Second, ExpiresAt(c, 2*time.Second))
}
