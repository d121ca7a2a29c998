package fproc

import (
	"encoding/binary"
	"time"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/fchannel"
	"github.com/anillo-os/anillo-os-sub007/internal/fthread"
	"github.com/anillo-os/anillo-os-sub007/internal/futex"
	"github.com/anillo-os/anillo-os-sub007/internal/timer"
)

// Core syscall numbers installed by InstallCoreSyscalls.
const (
	SyscallChannelSend = iota + 1
	SyscallChannelReceive
	SyscallFutexWaitTimeout
	SyscallMonitorPoll
)

// InstallCoreSyscalls registers the channel, futex, and monitor
// syscalls into table, giving a real Dispatch call somewhere to land
// other than a test's synthetic handler. timers supplies the deadline
// clock backing SyscallFutexWaitTimeout.
func InstallCoreSyscalls(table *Table, timers *timer.Queue) {
	table.Set(SyscallChannelSend, syscallChannelSend)
	table.Set(SyscallChannelReceive, syscallChannelReceive)
	table.Set(SyscallFutexWaitTimeout, syscallFutexWaitTimeout(timers))
	table.Set(SyscallMonitorPoll, syscallMonitorPoll)
}

func descriptorChannel(p *Process, descID int) (*ChannelDescriptor, errs.Status) {
	d, status := p.Lookup(descID)
	if status != errs.Ok {
		return nil, status
	}
	cd, ok := d.(*ChannelDescriptor)
	if !ok {
		return nil, errs.InvalidArgument
	}
	return cd, errs.Ok
}

// syscallChannelSend sends args[1] as an 8-byte message body over the
// channel installed at descriptor args[0]; args[2] != 0 requests
// no-wait semantics against a full peer queue instead of the caller
// getting temporary-outage back-pressure.
func syscallChannelSend(p *Process, t *fthread.Thread, args SyscallArgs) errs.Status {
	cd, status := descriptorChannel(p, int(args[0]))
	if status != errs.Ok {
		return status
	}
	body := make([]byte, 8)
	binary.LittleEndian.PutUint64(body, args[1])
	return cd.Channel.Send(&fchannel.Message{Body: body}, args[2] != 0)
}

// syscallChannelReceive dequeues the oldest message on the channel
// installed at descriptor args[0] and stashes it for the caller to read
// back via Process.LastReceived — the hosted model's stand-in for
// copying the message body out to user memory.
func syscallChannelReceive(p *Process, t *fthread.Thread, args SyscallArgs) errs.Status {
	cd, status := descriptorChannel(p, int(args[0]))
	if status != errs.Ok {
		return status
	}
	msg, status := cd.Channel.Receive()
	if status != errs.Ok {
		return status
	}
	p.setLastReceived(msg)
	return errs.Ok
}

// syscallFutexWaitTimeout implements the wait(virt_addr, channel,
// expected, timeout) syscall: args are (physAddr, channelTag, expected,
// timeoutNanos), with timeoutNanos == 0 meaning wait with no deadline.
// The handler blocks synchronously until the wait resolves, matching
// every other syscall's semantics: a trap doesn't return to user mode
// until its operation has a result.
func syscallFutexWaitTimeout(timers *timer.Queue) Handler {
	return func(p *Process, t *fthread.Thread, args SyscallArgs) errs.Status {
		key := futex.Key{PhysAddr: uintptr(args[0]), Channel: args[1]}
		expected := uint32(args[2])
		readWord := func() uint32 { return p.Words.Load(key.PhysAddr) }
		w := fthread.NewWaiter()

		if args[3] == 0 {
			status := p.Futex.Wait(key, expected, readWord, t, w)
			if status != errs.Ok {
				return status
			}
			<-w.Done
			return w.Outcome
		}

		deadline := timers.NowNanos() + int64(args[3])
		status, entry := p.Futex.WaitTimeout(key, expected, readWord, t, w, timers, deadline)
		if status != errs.Ok {
			return status
		}
		<-w.Done
		if w.Outcome != errs.TimedOut {
			timers.Cancel(entry)
		}
		return w.Outcome
	}
}

// syscallMonitorPoll drains up to one ready event from the process's
// monitor, blocking up to args[0] nanoseconds for one to become ready.
// args[0] == 0 means don't block at all (no-wait); a negative duration
// (a timeout so large it wraps time.Duration negative) waits
// indefinitely, matching Monitor.Poll's own convention.
func syscallMonitorPoll(p *Process, t *fthread.Thread, args SyscallArgs) errs.Status {
	events, status := p.Monitor.Poll(1, time.Duration(args[0]))
	if status != errs.Ok {
		return status
	}
	p.setLastEvent(events[0])
	return errs.Ok
}
