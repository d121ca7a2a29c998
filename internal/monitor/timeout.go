package monitor

import (
	"sync/atomic"

	"github.com/anillo-os/anillo-os-sub007/internal/timer"
)

// NewTimeoutItem registers a one-shot Item that becomes ready once
// deadlineNanos passes on timers' clock, backed by a real timer.Queue
// entry rather than a polled deadline comparison — the same timer
// subsystem a thread's own timed wait uses. It auto-deletes itself from
// the monitor once reported, matching a oneshot timeout's semantics.
func (m *Monitor) NewTimeoutItem(timers *timer.Queue, deadlineNanos int64) *Item {
	var fired atomic.Bool
	item := &Item{
		Kind:            KindTimeout,
		High:            fired.Load,
		DeleteOnTrigger: true,
	}
	id := m.Add(item)
	timers.Schedule(deadlineNanos, func() {
		fired.Store(true)
		m.Notify(id)
	})
	return item
}
