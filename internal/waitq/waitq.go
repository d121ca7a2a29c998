// Package waitq implements the wait queue: a linked list of parked
// waiters with callback-on-wake semantics, the leaf-level
// synchronization primitive every blocking subsystem (threads, channels,
// futexes, monitors) is built on.
package waitq

import (
	"github.com/anillo-os/anillo-os-sub007/internal/spinlock"
)

// Waiter is one parked waiter's entry. Callback is invoked on wake with
// Context and must be non-blocking: it may set atomic flags or post a
// semaphore, nothing more.
type Waiter struct {
	Callback func(ctx any)
	Context  any

	queue      *Waitq
	prev, next *Waiter
}

// Waitq is a list of parked waiters protected by its own spinlock.
type Waitq struct {
	lock       spinlock.Spin
	head, tail *Waiter
	len        int
}

// Lock acquires the waitq's lock. Callers that need to synchronize a
// check-then-park sequence (the atomic park pattern fchannel's
// ReceiveOrWait uses) call Lock, perform their check, then Wait — never
// releasing the lock in between — to avoid a lost wakeup.
func (q *Waitq) Lock() { q.lock.Lock() }

// Unlock releases the waitq's lock.
func (q *Waitq) Unlock() { q.lock.Unlock() }

// Wait appends w to the queue. The caller must hold the queue's lock.
func (q *Waitq) Wait(w *Waiter) {
	w.queue = q
	w.prev = q.tail
	w.next = nil
	if q.tail != nil {
		q.tail.next = w
	} else {
		q.head = w
	}
	q.tail = w
	q.len++
}

// Unwait removes w from the queue if it is still enqueued on it; used to
// unpark a waiter whose wait was satisfied through another path (e.g. a
// timeout racing a normal wakeup). Returns true if w was removed here. The
// caller must hold the queue's lock.
func (q *Waitq) Unwait(w *Waiter) bool {
	if w.queue != q {
		return false
	}
	if w.prev != nil {
		w.prev.next = w.next
	} else if q.head == w {
		q.head = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	} else if q.tail == w {
		q.tail = w.prev
	}
	w.prev, w.next, w.queue = nil, nil, nil
	q.len--
	return true
}

// WakeOne pops the earliest-enqueued waiter and invokes its callback,
// reporting whether a waiter was woken. The caller must hold the queue's
// lock; the callback itself runs with the lock still held.
func (q *Waitq) WakeOne() bool {
	w := q.head
	if w == nil {
		return false
	}
	q.Unwait(w)
	w.Callback(w.Context)
	return true
}

// WakeAll pops and invokes every waiter currently enqueued, in FIFO order.
// The caller must hold the queue's lock.
func (q *Waitq) WakeAll() int {
	pending := q.len
	n := 0
	for n < pending && q.WakeOne() {
		n++
	}
	return n
}

// Len reports the number of parked waiters. The caller must hold the
// queue's lock for a consistent read under concurrent modification.
func (q *Waitq) Len() int { return q.len }
