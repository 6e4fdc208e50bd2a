package gc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingSweep(calls *atomic.Int64, n int64, err error) SweepFunc {
	return func(context.Context) (int64, error) {
		calls.Add(1)
		return n, err
	}
}

func TestCollectorRunsPeriodically(t *testing.T) {
	var calls atomic.Int64
	c := New("tokens", countingSweep(&calls, 2, nil))

	c.Start(5 * time.Millisecond)
	t.Cleanup(c.Stop)
	assert.True(t, c.IsRunning())

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestCollectorStartTwiceIsNoop(t *testing.T) {
	var calls atomic.Int64
	c := New("sessions", countingSweep(&calls, 0, nil))

	c.Start(time.Hour)
	first := c.done
	c.Start(time.Millisecond)
	assert.Equal(t, first, c.done, "second start must not replace the loop")
	c.Stop()
	assert.Zero(t, calls.Load())
}

func TestCollectorStopIsIdempotent(t *testing.T) {
	c := New("tokens", countingSweep(new(atomic.Int64), 0, nil))

	c.Stop()
	c.Start(time.Hour)
	c.Stop()
	c.Stop()
	assert.False(t, c.IsRunning())

	c.Start(time.Hour)
	assert.True(t, c.IsRunning(), "collector restarts after stop")
	c.Stop()
}

func TestCollectorIgnoresNonPositiveInterval(t *testing.T) {
	c := New("tokens", countingSweep(new(atomic.Int64), 0, nil))
	c.Start(0)
	assert.False(t, c.IsRunning())
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("returns deleted count", func(t *testing.T) {
		c := New("tokens", countingSweep(new(atomic.Int64), 7, nil))
		assert.Equal(t, int64(7), c.RunOnce(ctx))
	})

	t.Run("swallows errors", func(t *testing.T) {
		c := New("tokens", countingSweep(new(atomic.Int64), 5, errors.New("db down")))
		assert.Zero(t, c.RunOnce(ctx))
	})

	t.Run("recovers panics", func(t *testing.T) {
		c := New("tokens", func(context.Context) (int64, error) { panic("boom") })
		require.NotPanics(t, func() { c.RunOnce(ctx) })
	})
}

func TestCollectorSurvivesFailingSweeps(t *testing.T) {
	var calls atomic.Int64
	c := New("tokens", func(context.Context) (int64, error) {
		if calls.Add(1)%2 == 0 {
			panic("intermittent")
		}
		return 0, errors.New("transient")
	})

	c.Start(2 * time.Millisecond)
	defer c.Stop()
	assert.Eventually(t, func() bool { return calls.Load() >= 4 }, time.Second, 2*time.Millisecond)
	assert.True(t, c.IsRunning())
}
