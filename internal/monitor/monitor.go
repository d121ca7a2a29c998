// Package monitor implements a readiness multiplexer: a pollable set of
// items (channel events, futex value-changes, timeouts) with level/edge
// triggering, active high/low polarity, and one-shot/keep-alive
// lifecycle flags.
package monitor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
)

// Kind identifies what an Item watches, purely for Event reporting — the
// actual readiness check is the item's High function, supplied by
// whichever subsystem (fchannel, futex, timer) registers it.
type Kind int

const (
	KindChannel Kind = iota
	KindFutex
	KindTimeout
)

// Item is one watched event source.
type Item struct {
	ID   uint64
	Kind Kind

	// High reports the event source's current "high" state: non-empty
	// queue, futex value changed since last check, timer fired.
	High func() bool

	EdgeTriggered    bool
	ActiveLow        bool
	DisableOnTrigger bool
	DeleteOnTrigger  bool
	KeepAlive        bool

	triggered bool
	disabled  bool
}

// Event is one reported occurrence from Poll.
type Event struct {
	ItemID uint64
	Kind   Kind
}

// Monitor is a pollable collection of Items plus the semaphore that lets
// Poll block until something becomes triggered, using
// golang.org/x/sync/semaphore for the timed/cancelable wait.
type Monitor struct {
	mu     sync.Mutex
	items  map[uint64]*Item
	nextID uint64
	closed bool

	sem *semaphore.Weighted
}

const semCapacity = 1 << 30

// New creates an empty monitor.
func New() *Monitor {
	m := &Monitor{
		items: make(map[uint64]*Item),
		sem:   semaphore.NewWeighted(semCapacity),
	}
	// Weighted starts fully available; drain it to empty so the first
	// real Acquire in Poll blocks until a Notify/Close hands back a
	// permit, rather than succeeding immediately.
	m.sem.Acquire(context.Background(), semCapacity)
	return m
}

// Add registers item, writes its assigned id into item.ID (overwriting
// whatever was passed), and returns that id.
func (m *Monitor) Add(item *Item) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	item.ID = m.nextID
	m.items[item.ID] = item
	return item.ID
}

// Remove unregisters an item; harmless if the id is unknown (e.g. it
// already auto-removed via delete_on_trigger).
func (m *Monitor) Remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
}

// Notify marks the event source for id as having just transitioned
// (producers — fchannel on message arrival, futex on wake, timer on
// fire — call this), and wakes any Poll call blocked on the semaphore.
// Notify is safe to call from any producer goroutine without holding the
// monitor lock itself.
func (m *Monitor) Notify(id uint64) {
	m.mu.Lock()
	if item, ok := m.items[id]; ok && !item.disabled {
		item.triggered = true
	}
	m.mu.Unlock()
	m.sem.Release(1)
}

// isReady reports whether item currently counts as a reportable event,
// combining its trigger mode and polarity.
func (item *Item) isReady() bool {
	if item.disabled {
		return false
	}
	high := item.High()
	if item.ActiveLow {
		high = !high
	}
	if item.EdgeTriggered {
		return item.triggered && high
	}
	return high
}

// Poll drains up to max currently triggered events, blocking up to
// timeout for at least one if none are immediately available. timeout < 0 means wait
// indefinitely; timeout == 0 means do not block at all.
func (m *Monitor) Poll(max int, timeout time.Duration) ([]Event, errs.Status) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		m.mu.Lock()
		events := m.drainLocked(max)
		closed := m.closed
		m.mu.Unlock()

		if len(events) > 0 {
			return events, errs.Ok
		}
		if closed {
			return nil, errs.PermanentOutage
		}
		if timeout == 0 {
			return nil, errs.NoWait
		}

		ctx := context.Background()
		var cancel context.CancelFunc
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, errs.TimedOut
			}
			ctx, cancel = context.WithTimeout(ctx, remaining)
		}
		err := m.sem.Acquire(ctx, 1)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			return nil, errs.TimedOut
		}
	}
}

func (m *Monitor) drainLocked(max int) []Event {
	var events []Event
	for id, item := range m.items {
		if len(events) >= max {
			break
		}
		if !item.isReady() {
			continue
		}
		events = append(events, Event{ItemID: id, Kind: item.Kind})
		item.triggered = false
		if item.DisableOnTrigger {
			item.disabled = true
		}
		if item.DeleteOnTrigger {
			delete(m.items, id)
		}
	}
	return events
}

// Close marks the monitor closed; a subsequent Poll on an empty monitor
// reports permanent outage instead of blocking. Items flagged
// keep_alive are left registered for any in-flight Poll to still drain.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	for id, item := range m.items {
		if !item.KeepAlive {
			delete(m.items, id)
		}
	}
	m.mu.Unlock()
	m.sem.Release(1)
}
