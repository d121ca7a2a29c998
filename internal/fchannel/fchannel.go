// Package fchannel implements synchronous bidirectional message channels:
// ref-counted half-end pairs, FIFO delivery, conversation ids for
// request/reply, and listening "server sockets" in a named realm.
package fchannel

import (
	"sync"
	"sync/atomic"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/waitq"
)

const defaultMaxQueue = 64

// AttachedObject is anything a message can carry ownership of across the
// channel — a descriptor, a mapping reference. Release runs when a
// message carrying it is discarded unread.
type AttachedObject interface {
	Release()
}

// Message is one queued unit of channel traffic.
type Message struct {
	Body           []byte
	ConversationID uint64
	Attached       []AttachedObject
}

func releaseAll(msgs []*Message) {
	for _, m := range msgs {
		for _, a := range m.Attached {
			a.Release()
		}
	}
}

// pair is the shared state two Channel half-ends reference strongly while
// both are alive. Each half holds a *pair, and the pair never points back
// at either half, so closing one side never needs to chase a cycle.
type pair struct {
	nextConv atomic.Uint64
}

// Channel is one half-end of a channel pair.
type Channel struct {
	p    *pair
	peer *Channel

	mu       sync.Mutex
	closed   bool
	queue    []*Message
	maxQueue int

	MessageArrivalWaitq waitq.Waitq
	QueueEmptyWaitq     waitq.Waitq
	PeerCloseWaitq      waitq.Waitq
	CloseWaitq          waitq.Waitq
}

// NewPair creates a connected pair of channel half-ends.
func NewPair() (a, b *Channel) {
	p := &pair{}
	a = &Channel{p: p, maxQueue: defaultMaxQueue}
	b = &Channel{p: p, maxQueue: defaultMaxQueue}
	a.peer = b
	b.peer = a
	return a, b
}

// NextConversationID reserves the next conversation id for this pair.
// Ids are monotonic and never reused within the pair's lifetime.
func (c *Channel) NextConversationID() uint64 {
	return c.p.nextConv.Add(1)
}

// Send enqueues msg on the peer's incoming queue. With noWait, a full queue
// returns no-wait instead of blocking; this package never blocks the
// sender itself — back-pressure is surfaced to the caller, who is
// expected to park on c.QueueEmptyWaitq if it wants to wait.
func (c *Channel) Send(msg *Message, noWait bool) errs.Status {
	dst := c.peer
	dst.mu.Lock()
	if dst.closed {
		dst.mu.Unlock()
		releaseAll([]*Message{msg})
		return errs.PermanentOutage
	}
	if len(dst.queue) >= dst.maxQueue {
		dst.mu.Unlock()
		if noWait {
			return errs.NoWait
		}
		return errs.TemporaryOutage
	}
	dst.queue = append(dst.queue, msg)
	dst.mu.Unlock()

	dst.MessageArrivalWaitq.Lock()
	dst.MessageArrivalWaitq.WakeAll()
	dst.MessageArrivalWaitq.Unlock()
	return errs.Ok
}

// Receive dequeues the oldest pending message. If the queue is empty and
// the peer is closed, it reports permanent outage. If the queue is empty
// and the peer is still open, it reports no-wait: the caller should
// instead use ReceiveOrWait, which parks atomically; Receive alone never
// blocks.
func (c *Channel) Receive() (*Message, errs.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receiveLocked()
}

func (c *Channel) receiveLocked() (*Message, errs.Status) {
	if len(c.queue) > 0 {
		msg := c.queue[0]
		c.queue = c.queue[1:]
		// A slot just opened up; wake any sender parked on back-pressure.
		c.peer.QueueEmptyWaitq.Lock()
		c.peer.QueueEmptyWaitq.WakeAll()
		c.peer.QueueEmptyWaitq.Unlock()
		return msg, errs.Ok
	}
	if c.peerClosed() {
		return nil, errs.PermanentOutage
	}
	return nil, errs.NoWait
}

func (c *Channel) peerClosed() bool {
	c.peer.mu.Lock()
	defer c.peer.mu.Unlock()
	return c.peer.closed
}

// ReceiveOrWait performs the atomic park pattern: lock, check for an
// available message or peer-closed outage, and only if neither holds
// does it park the caller on MessageArrivalWaitq, avoiding the
// lost-wakeup window between checking and waiting. wait is invoked with
// the waitq already locked, as fthread.Thread.Wait expects.
func (c *Channel) ReceiveOrWait(wait func(q *waitq.Waitq)) (*Message, errs.Status) {
	c.mu.Lock()
	if msg, status := c.receiveLocked(); status != errs.NoWait {
		c.mu.Unlock()
		return msg, status
	}
	c.MessageArrivalWaitq.Lock()
	c.mu.Unlock()
	wait(&c.MessageArrivalWaitq)
	return nil, errs.Ok
}

// SendWithReply reserves a fresh conversation id, sends body tagged with
// it, and returns once a reply tagged with the same id is received — a
// request/reply helper built atop Send/Receive.
func (c *Channel) SendWithReply(body []byte, attached []AttachedObject, recv func(convID uint64) (*Message, errs.Status)) (*Message, errs.Status) {
	id := c.NextConversationID()
	status := c.Send(&Message{Body: body, ConversationID: id, Attached: attached}, false)
	if status != errs.Ok {
		return nil, status
	}
	for {
		msg, status := recv(id)
		if status != errs.Ok {
			return nil, status
		}
		if msg.ConversationID == id {
			return msg, errs.Ok
		}
	}
}

// Close idempotently closes this half-end: messages
// already queued on the peer remain deliverable, but further sends to
// this half-end fail, and the peer's peer-close and queue-empty waitqs
// wake.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	releaseAll(pending)

	c.CloseWaitq.Lock()
	c.CloseWaitq.WakeAll()
	c.CloseWaitq.Unlock()

	peer := c.peer
	peer.PeerCloseWaitq.Lock()
	peer.PeerCloseWaitq.WakeAll()
	peer.PeerCloseWaitq.Unlock()

	peer.QueueEmptyWaitq.Lock()
	peer.QueueEmptyWaitq.WakeAll()
	peer.QueueEmptyWaitq.Unlock()
}

// QueueLen reports the number of messages currently queued on this
// half-end, for tests and monitor-item polling.
func (c *Channel) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Closed reports whether this half-end has been closed.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
