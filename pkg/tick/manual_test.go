package tick

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualTickRunsLiveTasks(t *testing.T) {
	m := NewManual()

	var order []string
	m.Every("a", time.Second, func(ctx context.Context) error {
		order = append(order, "a")
		return nil
	})
	b := m.Every("b", time.Second, func(ctx context.Context) error {
		order = append(order, "b")
		return errors.New("unavailable")
	})

	errs := m.Tick()
	assert.Equal(t, []string{"a", "b"}, order)
	require.Len(t, errs, 1)
	assert.EqualError(t, errs["b"], "unavailable")

	b.Cancel()
	m.Tick()
	assert.Equal(t, []string{"a", "b", "a"}, order)
	assert.Len(t, m.Live(), 1)
}

func TestManualErrStopDropsTask(t *testing.T) {
	m := NewManual()

	h := m.Every("lost", time.Second, func(ctx context.Context) error {
		return fmt.Errorf("gone: %w", ErrStop)
	})

	errs := m.Tick()
	assert.ErrorIs(t, errs["lost"], ErrStop)
	assert.True(t, h.Cancelled())
	assert.Empty(t, m.Live())

	//task context is cancelled with the handle
	assert.ErrorIs(t, h.ctx.Err(), context.Canceled)
}
