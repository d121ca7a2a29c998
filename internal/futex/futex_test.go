package futex_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anillo-os/anillo-os-sub007/internal/archx"
	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/fthread"
	"github.com/anillo-os/anillo-os-sub007/internal/futex"
	"github.com/anillo-os/anillo-os-sub007/internal/timer"
)

type noopManager struct{}

func (noopManager) Resume(t *fthread.Thread)  {}
func (noopManager) Suspend(t *fthread.Thread) {}

// fakeClock lets the timeout tests advance time deterministically instead
// of racing a real deadline.
type fakeClock struct{ now int64 }

func (c *fakeClock) NowNanos() int64 { return c.now }
func (c *fakeClock) advance(d int64) { c.now += d }

var _ archx.Clock = (*fakeClock)(nil)

func TestWaitReturnsShouldRestartOnValueMismatch(t *testing.T) {
	tbl := futex.New()
	th := fthread.New(1, noopManager{})
	w := fthread.NewWaiter()

	word := uint32(1)
	status := tbl.Wait(futex.Key{PhysAddr: 0x1000}, 0, func() uint32 { return word }, th, w)
	require.Equal(t, errs.ShouldRestart, status)
}

func TestWaitWakeRoundTrip(t *testing.T) {
	tbl := futex.New()
	th := fthread.New(1, noopManager{})
	w := fthread.NewWaiter()

	var word atomic.Uint32
	key := futex.Key{PhysAddr: 0x2000}

	done := make(chan errs.Status, 1)
	go func() {
		status := tbl.Wait(key, 0, func() uint32 { return word.Load() }, th, w)
		if status != errs.Ok {
			done <- status
			return
		}
		<-w.Done
		done <- w.Outcome
	}()

	// Give the waiter a chance to park before waking it.
	time.Sleep(20 * time.Millisecond)
	word.Store(1)
	n := tbl.Wake(key, 1)
	require.Equal(t, 1, n)

	select {
	case status := <-done:
		require.Equal(t, errs.Ok, status)
	case <-time.After(time.Second):
		t.Fatal("wait never woke")
	}

	// A completed wait+wake cycle must not leave the table's entry behind;
	// the registration reference Wait took out has to be released exactly
	// once, by this Wake call.
	require.Zero(t, tbl.Len())
}

func TestWakeWithNoWaitersReturnsZero(t *testing.T) {
	tbl := futex.New()
	require.Zero(t, tbl.Wake(futex.Key{PhysAddr: 0x3000}, 5))
}

func TestWakeRespectsCount(t *testing.T) {
	tbl := futex.New()
	key := futex.Key{PhysAddr: 0x4000}
	var word atomic.Uint32

	const n = 5
	dones := make([]chan errs.Status, n)
	for i := 0; i < n; i++ {
		i := i
		dones[i] = make(chan errs.Status, 1)
		th := fthread.New(i, noopManager{})
		w := fthread.NewWaiter()
		go func() {
			status := tbl.Wait(key, 0, func() uint32 { return word.Load() }, th, w)
			if status != errs.Ok {
				dones[i] <- status
				return
			}
			<-w.Done
			dones[i] <- w.Outcome
		}()
	}

	require.Eventually(t, func() bool { return tbl.WaiterCount(key) == n }, time.Second, time.Millisecond)

	woken := tbl.Wake(key, 2)
	require.Equal(t, 2, woken)
	require.Equal(t, n-2, tbl.WaiterCount(key))

	woken = tbl.Wake(key, n-2)
	require.Equal(t, n-2, woken)
	require.Zero(t, tbl.WaiterCount(key))
	require.Zero(t, tbl.Len())
}

func TestWaitTimeoutFiresWhenNeverWoken(t *testing.T) {
	tbl := futex.New()
	th := fthread.New(1, noopManager{})
	w := fthread.NewWaiter()
	clk := &fakeClock{}
	timers := timer.New(clk)

	var word atomic.Uint32
	key := futex.Key{PhysAddr: 0x5000}

	status, entry := tbl.WaitTimeout(key, 0, func() uint32 { return word.Load() }, th, w, timers, 100)
	require.Equal(t, errs.Ok, status)
	require.NotNil(t, entry)
	require.Equal(t, 1, tbl.WaiterCount(key))

	clk.advance(200)
	require.Equal(t, 1, timers.Fire())

	select {
	case <-w.Done:
		require.Equal(t, errs.TimedOut, w.Outcome)
	case <-time.After(time.Second):
		t.Fatal("timeout never delivered")
	}

	require.Zero(t, tbl.WaiterCount(key))
	require.Zero(t, tbl.Len())
}

func TestWaitTimeoutCancelledOnNormalWake(t *testing.T) {
	tbl := futex.New()
	th := fthread.New(1, noopManager{})
	w := fthread.NewWaiter()
	clk := &fakeClock{}
	timers := timer.New(clk)

	var word atomic.Uint32
	key := futex.Key{PhysAddr: 0x6000}

	status, entry := tbl.WaitTimeout(key, 0, func() uint32 { return word.Load() }, th, w, timers, 100)
	require.Equal(t, errs.Ok, status)

	word.Store(1)
	n := tbl.Wake(key, 1)
	require.Equal(t, 1, n)

	select {
	case <-w.Done:
		require.Equal(t, errs.Ok, w.Outcome)
	case <-time.After(time.Second):
		t.Fatal("wait never woke")
	}
	require.Zero(t, tbl.Len())

	// The deadline hasn't passed; once the timer entry is cancelled after
	// the normal wake, advancing past the deadline and firing runs no
	// callback at all.
	timers.Cancel(entry)
	clk.advance(200)
	require.Zero(t, timers.Fire())
}
