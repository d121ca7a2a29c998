// Package timer implements the per-CPU timer queue: a min-heap of
// pending deadlines backed by a pluggable hardware clock, supporting
// oneshot scheduling and cancellation. See DESIGN.md for why
// container/heap stays as the justified stdlib choice for this shape of
// problem rather than a third-party priority queue.
package timer

import (
	"container/heap"

	"github.com/anillo-os/anillo-os-sub007/internal/archx"
	"github.com/anillo-os/anillo-os-sub007/internal/spinlock"
)

// Entry is one scheduled timer. Callers receive a pointer from Schedule
// and may pass it to Cancel before it fires.
type Entry struct {
	deadline  int64
	fn        func()
	index     int
	cancelled bool
}

// entryHeap implements container/heap.Interface ordered by deadline.
type entryHeap []*Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is a single CPU's timer heap.
type Queue struct {
	lock  spinlock.IntSafe
	clock archx.Clock
	items entryHeap
}

// New creates a timer queue that reads the current time from clock.
func New(clock archx.Clock) *Queue {
	return &Queue{clock: clock}
}

// Schedule arranges for fn to run the next time Fire observes a time at
// or after deadlineNanos. fn runs synchronously inside Fire's call, on
// whatever goroutine drives the queue's CPU — it must not block, matching
// the non-blocking-callback discipline.
func (q *Queue) Schedule(deadlineNanos int64, fn func()) *Entry {
	e := &Entry{deadline: deadlineNanos, fn: fn}
	q.lock.Lock(nil)
	heap.Push(&q.items, e)
	q.lock.Unlock(nil)
	return e
}

// Cancel removes e from the queue if it has not fired yet. It reports
// whether the cancellation took effect.
func (q *Queue) Cancel(e *Entry) bool {
	q.lock.Lock(nil)
	defer q.lock.Unlock(nil)
	if e.index < 0 {
		return false
	}
	e.cancelled = true
	heap.Remove(&q.items, e.index)
	return true
}

// Fire pops and runs every entry whose deadline has passed as of the
// clock's current reading, returning how many ran.
func (q *Queue) Fire() int {
	now := q.clock.NowNanos()
	n := 0
	for {
		q.lock.Lock(nil)
		if len(q.items) == 0 || q.items[0].deadline > now {
			q.lock.Unlock(nil)
			return n
		}
		e := heap.Pop(&q.items).(*Entry)
		q.lock.Unlock(nil)
		if e.cancelled {
			continue
		}
		e.fn()
		n++
	}
}

// NowNanos reports the queue's clock's current reading, letting a
// caller compute a deadline from a relative timeout without reaching
// past the queue for the underlying archx.Clock.
func (q *Queue) NowNanos() int64 { return q.clock.NowNanos() }

// NextDeadline reports the earliest pending deadline and whether one
// exists, letting a scheduler's idle loop decide how long it may sleep.
func (q *Queue) NextDeadline() (int64, bool) {
	q.lock.Lock(nil)
	defer q.lock.Unlock(nil)
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0].deadline, true
}

// Len reports the number of pending entries. Cancel removes an entry from
// the queue, so cancelled entries are not counted.
func (q *Queue) Len() int {
	q.lock.Lock(nil)
	defer q.lock.Unlock(nil)
	return len(q.items)
}
