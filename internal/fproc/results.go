package fproc

import (
	"sync"

	"github.com/anillo-os/anillo-os-sub007/internal/fchannel"
	"github.com/anillo-os/anillo-os-sub007/internal/monitor"
)

// lastResults holds the out-of-band results a syscall can't return
// through the single errs.Status value Dispatch hands back — the hosted
// model's stand-in for copying a receive's payload or a poll's event
// back into user memory.
type lastResults struct {
	mu       sync.Mutex
	received *fchannel.Message
	event    monitor.Event
}

func (p *Process) setLastReceived(msg *fchannel.Message) {
	p.results.mu.Lock()
	defer p.results.mu.Unlock()
	p.results.received = msg
}

// LastReceived returns the most recent message SyscallChannelReceive
// delivered through this process, if any.
func (p *Process) LastReceived() *fchannel.Message {
	p.results.mu.Lock()
	defer p.results.mu.Unlock()
	return p.results.received
}

func (p *Process) setLastEvent(ev monitor.Event) {
	p.results.mu.Lock()
	defer p.results.mu.Unlock()
	p.results.event = ev
}

// LastEvent returns the most recent event SyscallMonitorPoll delivered
// through this process.
func (p *Process) LastEvent() monitor.Event {
	p.results.mu.Lock()
	defer p.results.mu.Unlock()
	return p.results.event
}
