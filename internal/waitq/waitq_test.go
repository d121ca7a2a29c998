package waitq_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anillo-os/anillo-os-sub007/internal/waitq"
)

func TestWakeOneFIFOOrder(t *testing.T) {
	var q waitq.Waitq
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		q.Lock()
		q.Wait(&waitq.Waiter{
			Callback: func(ctx any) { order = append(order, ctx.(int)) },
			Context:  i,
		})
		q.Unlock()
	}

	q.Lock()
	for q.Len() > 0 {
		q.WakeOne()
	}
	q.Unlock()

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestWakeAllDrainsQueue(t *testing.T) {
	var q waitq.Waitq
	woken := 0

	for i := 0; i < 10; i++ {
		q.Lock()
		q.Wait(&waitq.Waiter{Callback: func(ctx any) { woken++ }})
		q.Unlock()
	}

	q.Lock()
	n := q.WakeAll()
	q.Unlock()

	require.Equal(t, 10, n)
	require.Equal(t, 10, woken)
	require.Zero(t, q.Len())
}

func TestUnwaitRemovesBeforeWake(t *testing.T) {
	var q waitq.Waitq
	w1 := &waitq.Waiter{Callback: func(ctx any) {}}
	w2 := &waitq.Waiter{Callback: func(ctx any) {}}

	q.Lock()
	q.Wait(w1)
	q.Wait(w2)
	removed := q.Unwait(w1)
	q.Unlock()

	require.True(t, removed)
	require.Equal(t, 1, q.Len())

	// A timeout racing a wakeup: once removed, a second Unwait is a no-op.
	q.Lock()
	require.False(t, q.Unwait(w1))
	q.Unlock()
}

func TestConcurrentWaitAndWake(t *testing.T) {
	var q waitq.Waitq
	var wg sync.WaitGroup
	var woken int
	var mu sync.Mutex

	const n = 200
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Lock()
			q.Wait(&waitq.Waiter{Callback: func(ctx any) {
				mu.Lock()
				woken++
				mu.Unlock()
			}})
			q.Unlock()
		}()
	}
	wg.Wait()

	q.Lock()
	q.WakeAll()
	q.Unlock()

	require.Equal(t, n, woken)
}
