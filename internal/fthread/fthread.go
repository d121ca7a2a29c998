// Package fthread implements the thread lifecycle state machine:
// execution state, pending flags, wait linkage, kill and timeout
// handling. It has no notion of CPUs or ready queues of its own — fsched
// drives the actual context-switch decisions, calling back into a
// Thread's Manager to move it between suspended and running.
package fthread

import (
	"sync"
	"sync/atomic"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/waitq"
)

// State is a thread's execution state.
type State int

const (
	Suspended State = iota
	Running
	Interrupted
	Dead
)

func (s State) String() string {
	switch s {
	case Suspended:
		return "suspended"
	case Running:
		return "running"
	case Interrupted:
		return "interrupted"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Manager adapts a Thread to whatever is actually executing it: a real
// scheduler moves threads between run queues and CPUs, while tests can
// supply a trivial Manager that just records calls. fsched implements
// this interface.
type Manager interface {
	// Resume is called when the scheduler selects thread for running.
	Resume(t *Thread)
	// Suspend is called to move a running thread off its CPU and onto a
	// waitq; inline if the thread isn't currently on any CPU, or via IPI
	// to the owning CPU otherwise. Manager-specific.
	Suspend(t *Thread)
}

// Thread is one schedulable unit of execution.
type Thread struct {
	ID int

	mu    sync.Mutex
	state State

	suspendPending      bool
	resumePending       bool
	diePending          bool
	interruptedBySignal bool

	manager Manager
	refs    atomic.Int32

	waitingOn *waitq.Waitq
	waiter    *Waiter

	// timeoutWon is the CAS flag deciding which of a concurrent timeout
	// vs. normal wakeup gets to deliver its result.
	timeoutWon atomic.Bool

	DeathWaitq   waitq.Waitq
	DestroyWaitq waitq.Waitq

	// Process is a weak backpointer; fproc severs it during teardown
	// before releasing its own reference.
	Process any
}

// New creates a suspended thread with one reference held by the caller,
// driven by manager.
func New(id int, manager Manager) *Thread {
	t := &Thread{ID: id, state: Suspended, manager: manager}
	t.refs.Store(1)
	return t
}

// Retain adds a reference.
func (t *Thread) Retain() { t.refs.Add(1) }

// Release drops a reference, returning true if this was the last one.
func (t *Thread) Release() bool { return t.refs.Add(-1) == 0 }

// State reports the thread's current execution state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// InterruptStart transitions running -> interrupted on interrupt entry.
func (t *Thread) InterruptStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Running {
		t.state = Interrupted
	}
}

// InterruptEnd transitions interrupted -> running on interrupt exit.
func (t *Thread) InterruptEnd() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Interrupted {
		t.state = Running
	}
}

// Resume transitions suspended -> running; the scheduler calls this once
// it has selected the thread to run next.
func (t *Thread) Resume() {
	t.mu.Lock()
	t.state = Running
	t.resumePending = false
	t.mu.Unlock()
	if t.manager != nil {
		t.manager.Resume(t)
	}
}

// Wait atomically parks the thread on q with waiter w, recording wait
// linkage before releasing the thread lock, so a concurrent Kill or wake
// can never observe the thread as suspended without linkage. The caller
// must already hold q's lock; Wait releases it.
func (t *Thread) Wait(q *waitq.Waitq, w *Waiter) {
	t.mu.Lock()
	t.state = Suspended
	t.waitingOn = q
	t.waiter = w
	t.timeoutWon.Store(false)
	t.mu.Unlock()

	q.Wait(&w.Waiter)
	q.Unlock()

	if t.manager != nil {
		t.manager.Suspend(t)
	}
}

// Waiter bundles a waitq.Waiter with the outcome fthread.Wait delivers on
// wake: a caller blocks (in the hosted model, via Done) until Outcome is
// set.
type Waiter struct {
	waitq.Waiter
	Done    chan struct{}
	Outcome errs.Status
}

// NewWaiter creates a parked-wait record whose Callback signals Done once
// the owning Thread has stashed an Outcome.
func NewWaiter() *Waiter {
	w := &Waiter{Done: make(chan struct{}, 1)}
	w.Waiter.Callback = func(ctx any) {
		w.Done <- struct{}{}
	}
	return w
}

// wake delivers status to the thread's parked waiter if the
// timeout-vs-normal-wake race has not already been decided, transitioning
// it back to running and removing it from whatever waitq it was parked
// on. Returns false if this call lost the race (or the thread was not
// waiting at all).
func (t *Thread) wake(status errs.Status) bool {
	if !t.timeoutWon.CompareAndSwap(false, true) {
		return false
	}
	t.mu.Lock()
	w := t.waiter
	q := t.waitingOn
	t.waiter = nil
	t.waitingOn = nil
	t.state = Running
	t.mu.Unlock()
	if w == nil {
		return false
	}
	if q != nil {
		q.Lock()
		q.Unwait(&w.Waiter)
		q.Unlock()
	}
	w.Outcome = status
	w.Callback(w.Context)
	return true
}

// WakeNormal wakes a parked thread with ok status, e.g. once the event it
// was waiting for (message arrival, futex value change) has occurred.
func (t *Thread) WakeNormal() bool { return t.wake(errs.Ok) }

// WakeTimedOut wakes a parked thread with timed-out status; used by the
// timer subsystem's fired callback.
func (t *Thread) WakeTimedOut() bool { return t.wake(errs.TimedOut) }

// WakeCancelled wakes a parked thread with cancelled status, used by Kill
// when the thread is currently parked.
func (t *Thread) WakeCancelled() bool { return t.wake(errs.Cancelled) }

// WakeSignalled wakes a parked thread with signalled status without
// consuming the underlying wait; callers are expected to re-wait if they still
// need the resource.
func (t *Thread) WakeSignalled() bool {
	t.mu.Lock()
	t.interruptedBySignal = true
	t.mu.Unlock()
	return t.wake(errs.Signalled)
}

// Kill marks the thread for asynchronous death. It is
// idempotent-signalling: a second call reports already-in-progress. If
// the thread is currently parked, its wait wakes with cancelled.
func (t *Thread) Kill() errs.Status {
	t.mu.Lock()
	if t.diePending || t.state == Dead {
		t.mu.Unlock()
		return errs.AlreadyInProgress
	}
	t.diePending = true
	t.mu.Unlock()

	t.WakeCancelled()
	return errs.Ok
}

// DiePending reports whether Kill has been called and death teardown has
// not yet run.
func (t *Thread) DiePending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.diePending
}

// Died tears the thread down: sets state to dead and fires the death and
// destroy waitqs, dropping the runtime reference. This runs on a
// different logical stack than the thread being killed; in the hosted
// model that just means the scheduler's exit path calls it instead of
// the thread itself.
func (t *Thread) Died() {
	t.mu.Lock()
	t.state = Dead
	t.mu.Unlock()

	t.DeathWaitq.Lock()
	t.DeathWaitq.WakeAll()
	t.DeathWaitq.Unlock()

	t.DestroyWaitq.Lock()
	t.DestroyWaitq.WakeAll()
	t.DestroyWaitq.Unlock()

	t.Release()
}
