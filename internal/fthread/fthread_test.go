package fthread_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/fthread"
	"github.com/anillo-os/anillo-os-sub007/internal/waitq"
)

type recordingManager struct {
	resumed, suspended []int
}

func (m *recordingManager) Resume(t *fthread.Thread)  { m.resumed = append(m.resumed, t.ID) }
func (m *recordingManager) Suspend(t *fthread.Thread) { m.suspended = append(m.suspended, t.ID) }

func waitFor(t *testing.T, w *fthread.Waiter) errs.Status {
	t.Helper()
	select {
	case <-w.Done:
		return w.Outcome
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for wake")
		return errs.Aborted
	}
}

func TestWaitThenNormalWake(t *testing.T) {
	mgr := &recordingManager{}
	th := fthread.New(1, mgr)

	var q waitq.Waitq
	w := fthread.NewWaiter()

	q.Lock()
	th.Wait(&q, w) // releases q's lock

	require.Equal(t, fthread.Suspended, th.State())
	require.True(t, th.WakeNormal())
	require.Equal(t, errs.Ok, waitFor(t, w))
	require.Equal(t, fthread.Running, th.State())
	require.Zero(t, q.Len())
}

func TestKillDuringWaitWakesCancelled(t *testing.T) {
	mgr := &recordingManager{}
	th := fthread.New(1, mgr)

	var q waitq.Waitq
	w := fthread.NewWaiter()
	q.Lock()
	th.Wait(&q, w)

	require.Equal(t, errs.Ok, th.Kill())
	require.Equal(t, errs.Cancelled, waitFor(t, w))
	require.True(t, th.DiePending())

	th.Died()
	require.Equal(t, fthread.Dead, th.State())
}

func TestKillIsIdempotent(t *testing.T) {
	th := fthread.New(1, &recordingManager{})
	require.Equal(t, errs.Ok, th.Kill())
	require.Equal(t, errs.AlreadyInProgress, th.Kill())
}

func TestTimeoutRacingNormalWakeOnlyOneWins(t *testing.T) {
	th := fthread.New(1, &recordingManager{})
	var q waitq.Waitq
	w := fthread.NewWaiter()
	q.Lock()
	th.Wait(&q, w)

	firstWon := th.WakeTimedOut()
	secondWon := th.WakeNormal()

	require.True(t, firstWon)
	require.False(t, secondWon)
	require.Equal(t, errs.TimedOut, waitFor(t, w))
}

func TestDeathWaitqWakesSubscribers(t *testing.T) {
	th := fthread.New(1, &recordingManager{})

	done := make(chan struct{})
	w := &waitq.Waiter{Callback: func(ctx any) { close(done) }}
	th.DeathWaitq.Lock()
	th.DeathWaitq.Wait(w)
	th.DeathWaitq.Unlock()

	th.Kill()
	th.Died()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("death waitq subscriber never woke")
	}
}

func TestInterruptStartEndRoundTrip(t *testing.T) {
	th := fthread.New(1, &recordingManager{})
	th.Resume()
	require.Equal(t, fthread.Running, th.State())

	th.InterruptStart()
	require.Equal(t, fthread.Interrupted, th.State())

	th.InterruptEnd()
	require.Equal(t, fthread.Running, th.State())
}
