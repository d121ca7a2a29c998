package timer_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anillo-os/anillo-os-sub007/internal/timer"
)

// fakeClock lets tests advance time deterministically instead of racing the
// wall clock.
type fakeClock struct{ now int64 }

func (c *fakeClock) NowNanos() int64 { return c.now }
func (c *fakeClock) advance(d int64) { c.now += d }

func TestFireRunsDueEntriesInDeadlineOrder(t *testing.T) {
	clk := &fakeClock{}
	q := timer.New(clk)

	var order []int
	q.Schedule(30, func() { order = append(order, 30) })
	q.Schedule(10, func() { order = append(order, 10) })
	q.Schedule(20, func() { order = append(order, 20) })

	clk.advance(25)
	n := q.Fire()

	require.Equal(t, 2, n)
	require.Equal(t, []int{10, 20}, order)
	require.Equal(t, 1, q.Len())
}

func TestCancelPreventsFiring(t *testing.T) {
	clk := &fakeClock{}
	q := timer.New(clk)

	var fired atomic.Bool
	e := q.Schedule(10, func() { fired.Store(true) })
	require.True(t, q.Cancel(e))

	clk.advance(100)
	q.Fire()
	require.False(t, fired.Load())

	// Cancelling twice is a no-op, not an error.
	require.False(t, q.Cancel(e))
}

func TestNextDeadlineReflectsEarliestPending(t *testing.T) {
	clk := &fakeClock{}
	q := timer.New(clk)

	_, ok := q.NextDeadline()
	require.False(t, ok)

	q.Schedule(50, func() {})
	q.Schedule(15, func() {})

	deadline, ok := q.NextDeadline()
	require.True(t, ok)
	require.EqualValues(t, 15, deadline)
}
