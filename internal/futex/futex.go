// Package futex implements the kernel futex table: waiters keyed on
// (physical address, channel tag), with the standard futex atomicity
// guarantee — a value check and park happen under the same lock a
// waker's wake call also takes, so no wakeup can be lost between a
// waiter's check and a waker's write.
package futex

import (
	"sync"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/fthread"
	"github.com/anillo-os/anillo-os-sub007/internal/timer"
	"github.com/anillo-os/anillo-os-sub007/internal/waitq"
)

// Key identifies one futex: the physical address backing the user word,
// plus a channel tag letting multiple logically distinct futexes share a
// page.
type Key struct {
	PhysAddr uintptr
	Channel  uint64
}

// entry holds the actual waitq a thread parks on (so fthread.Thread.Wait
// has something to link through) plus an explicit FIFO of the threads
// parked there, since waking by Key needs to reach into fthread's own
// wake path (which carries the timeout-vs-normal CAS) rather than the
// generic waitq.WakeOne callback.
type entry struct {
	q        waitq.Waitq
	waiters  []*fthread.Thread
	refCount int
}

// Table is a process's (or the kernel's) futex table: a lazily populated
// map from Key to its waitq, created on first wait and dropped once
// empty.
type Table struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

// New creates an empty futex table.
func New() *Table {
	return &Table{entries: make(map[Key]*entry)}
}

func (t *Table) getOrCreate(k Key) *entry {
	e, ok := t.entries[k]
	if !ok {
		e = &entry{}
		t.entries[k] = e
	}
	e.refCount++
	return e
}

// release drops the reference getOrCreate handed out. Call sites own
// releasing exactly one reference per waiter once that waiter's wait has
// resolved, whether by Wake, by timeout, or by finding the value already
// changed.
func (t *Table) release(k Key, e *entry) {
	e.refCount--
	if e.refCount == 0 {
		delete(t.entries, k)
	}
}

// removeWaiter drops th from e's waiters list if it is still there and
// releases the registration reference Wait took out for it, reporting
// whether this call is the one that found (and so retired) it. It is
// idempotent across races with Wake: whichever of Wake's bulk pop or a
// fired timeout removes th first is the one that releases; the other
// finds nothing and does nothing.
func (t *Table) removeWaiter(k Key, e *entry, th *fthread.Thread) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, w := range e.waiters {
		if w == th {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			t.release(k, e)
			return true
		}
	}
	return false
}

// wait is the shared body of Wait and WaitTimeout: look up or create the
// futex, atomically reread the user word, and either report
// should-restart or park th, returning the entry so a timeout (if any)
// knows where to clean up.
func (t *Table) wait(k Key, expected uint32, readWord func() uint32, th *fthread.Thread, w *fthread.Waiter) (*entry, errs.Status) {
	t.mu.Lock()
	e := t.getOrCreate(k)
	t.mu.Unlock()

	e.q.Lock()
	if readWord() != expected {
		e.q.Unlock()
		t.mu.Lock()
		t.release(k, e)
		t.mu.Unlock()
		return nil, errs.ShouldRestart
	}
	t.mu.Lock()
	e.waiters = append(e.waiters, th)
	t.mu.Unlock()
	th.Wait(&e.q, w) // releases e.q's lock
	return e, errs.Ok
}

// Wait implements the futex wait operation: the caller has already
// translated a virtual address to a physical one and passed it as part
// of k; Wait looks up or creates the futex, locks its waitq, atomically
// rereads the user word via readWord, and if it no longer equals
// expected returns should-restart; otherwise it registers th and parks
// it on the waitq via th.Wait. Once th.Wait returns, the actual outcome
// is delivered asynchronously through w.Done/w.Outcome (see
// fthread.Waiter) — callers that want an unconditional wait use Wait;
// callers that need spec.md's wait(virt_addr, channel, expected,
// timeout) shape use WaitTimeout instead.
func (t *Table) Wait(k Key, expected uint32, readWord func() uint32, th *fthread.Thread, w *fthread.Waiter) errs.Status {
	_, status := t.wait(k, expected, readWord, th, w)
	return status
}

// WaitTimeout behaves exactly like Wait, but additionally schedules a
// timer.Queue entry that delivers TimedOut to th if nothing else has
// woken it by deadlineNanos. The returned *timer.Entry is nil when the
// wait didn't actually park (should-restart) or when timers is nil; a
// caller that resolves some other way first (e.g. Wake fires before the
// deadline) should Cancel it to avoid an unnecessary late wakeup attempt
// — harmless since fthread's own CAS makes a late, already-resolved
// WakeTimedOut call a no-op, but canceling keeps the timer queue from
// accumulating dead entries.
func (t *Table) WaitTimeout(k Key, expected uint32, readWord func() uint32, th *fthread.Thread, w *fthread.Waiter, timers *timer.Queue, deadlineNanos int64) (errs.Status, *timer.Entry) {
	e, status := t.wait(k, expected, readWord, th, w)
	if status != errs.Ok || timers == nil {
		return status, nil
	}
	te := timers.Schedule(deadlineNanos, func() {
		t.removeWaiter(k, e, th)
		th.WakeTimedOut()
	})
	return errs.Ok, te
}

// Wake wakes up to count waiters parked on k, returning how many were
// actually woken. Each wake goes through the woken thread's own
// CAS-guarded wake path, so a wake racing a timeout never
// double-delivers, and every popped waiter's registration reference is
// released here regardless of which side of that race it lost — a
// waiter that loses the wake race to a timeout has still left the
// waiters list and must not keep the futex entry alive forever.
func (t *Table) Wake(k Key, count int) int {
	t.mu.Lock()
	e, ok := t.entries[k]
	if !ok {
		t.mu.Unlock()
		return 0
	}
	take := count
	if take > len(e.waiters) {
		take = len(e.waiters)
	}
	targets := append([]*fthread.Thread(nil), e.waiters[:take]...)
	e.waiters = e.waiters[take:]
	for range targets {
		t.release(k, e)
	}
	t.mu.Unlock()

	n := 0
	for _, th := range targets {
		if th.WakeNormal() {
			n++
		}
	}
	return n
}

// WaiterCount reports how many threads are currently parked on k, for
// tests and monitor value-change polling.
func (t *Table) WaiterCount(k Key) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[k]
	if !ok {
		return 0
	}
	return len(e.waiters)
}

// Len reports how many distinct keys currently have a live entry, for
// tests asserting the table drains back to empty.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
