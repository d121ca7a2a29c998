package monitor

import (
	"github.com/anillo-os/anillo-os-sub007/internal/fchannel"
	"github.com/anillo-os/anillo-os-sub007/internal/waitq"
)

// NewChannelItem registers an Item tracking ch's incoming queue: High
// reports whether a message is currently queued, matching the channel
// descriptor's own QueueLen. A standing listener on ch's
// MessageArrivalWaitq re-arms itself after every delivery and calls
// Notify, so Poll wakes promptly on arrival instead of only catching up
// the next time something else happens to call Poll.
func (m *Monitor) NewChannelItem(ch *fchannel.Channel, edgeTriggered bool) *Item {
	item := &Item{
		Kind:          KindChannel,
		High:          func() bool { return ch.QueueLen() > 0 },
		EdgeTriggered: edgeTriggered,
	}
	id := m.Add(item)

	w := &waitq.Waiter{}
	w.Callback = func(ctx any) {
		m.Notify(id)
		// WakeOne invokes this callback with the waitq's lock still held
		// (see waitq.Waitq.WakeOne), so re-arming here just re-links w
		// rather than re-acquiring a lock this goroutine already holds.
		ch.MessageArrivalWaitq.Wait(w)
	}
	ch.MessageArrivalWaitq.Lock()
	ch.MessageArrivalWaitq.Wait(w)
	ch.MessageArrivalWaitq.Unlock()

	return item
}
