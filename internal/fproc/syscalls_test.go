package fproc_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/fchannel"
	"github.com/anillo-os/anillo-os-sub007/internal/fproc"
	"github.com/anillo-os/anillo-os-sub007/internal/fthread"
	"github.com/anillo-os/anillo-os-sub007/internal/futex"
	"github.com/anillo-os/anillo-os-sub007/internal/timer"
)

var wordKey = futex.Key{PhysAddr: 0x1000}

type fakeClock struct{ now int64 }

func (c *fakeClock) NowNanos() int64 { return c.now }
func (c *fakeClock) advance(d int64) { c.now += d }

// TestChannelSyscallsRoundTripThroughDispatch drives a message from one
// process to another entirely through the syscall boundary: Install a
// channel descriptor in each process, register each with a table
// carrying the core syscalls, and send/receive via Dispatch rather than
// calling fchannel directly.
func TestChannelSyscallsRoundTripThroughDispatch(t *testing.T) {
	a, b := newProcess(), newProcess()
	chA, chB := fchannel.NewPair()

	descA := a.Install(fproc.NewChannelDescriptor(chA))
	descB := b.Install(fproc.NewChannelDescriptor(chB))

	table := fproc.NewTable(8)
	fproc.InstallCoreSyscalls(table, timer.New(&fakeClock{}))

	thA := fthread.New(1, noopManager{})
	thB := fthread.New(2, noopManager{})
	uA := fproc.Register(thA, a, table, 0, 0)
	uB := fproc.Register(thB, b, table, 0, 0)

	status := uA.Dispatch(thA, fproc.SyscallChannelSend, fproc.SyscallArgs{uint64(descA), 0xdeadbeef, 0})
	require.Equal(t, errs.Ok, status)

	status = uB.Dispatch(thB, fproc.SyscallChannelReceive, fproc.SyscallArgs{uint64(descB)})
	require.Equal(t, errs.Ok, status)

	msg := b.LastReceived()
	require.NotNil(t, msg)
	require.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde, 0, 0, 0, 0}, msg.Body)
}

func TestChannelReceiveSyscallReportsNoWaitWhenEmpty(t *testing.T) {
	proc := newProcess()
	_, serverSide := fchannel.NewPair()
	desc := proc.Install(fproc.NewChannelDescriptor(serverSide))

	table := fproc.NewTable(8)
	fproc.InstallCoreSyscalls(table, timer.New(&fakeClock{}))
	th := fthread.New(1, noopManager{})
	u := fproc.Register(th, proc, table, 0, 0)

	status := u.Dispatch(th, fproc.SyscallChannelReceive, fproc.SyscallArgs{uint64(desc)})
	require.Equal(t, errs.NoWait, status)
}

// TestFutexWaitTimeoutSyscallTimesOutThroughDispatch exercises the
// wait(virt_addr, channel, expected, timeout) syscall end to end: the
// word never changes, so the only way the Dispatch call returns is
// through the timer subsystem firing fthread.Thread.WakeTimedOut.
func TestFutexWaitTimeoutSyscallTimesOutThroughDispatch(t *testing.T) {
	proc := newProcess()
	clk := &fakeClock{}
	timers := timer.New(clk)

	table := fproc.NewTable(8)
	fproc.InstallCoreSyscalls(table, timers)
	th := fthread.New(1, noopManager{})
	u := fproc.Register(th, proc, table, 0, 0)

	done := make(chan errs.Status, 1)
	go func() {
		done <- u.Dispatch(th, fproc.SyscallFutexWaitTimeout, fproc.SyscallArgs{0x1000, 0, 0, 100})
	}()

	require.Eventually(t, func() bool { return proc.Futex.WaiterCount(wordKey) == 1 }, time.Second, time.Millisecond)

	clk.advance(200)
	require.Equal(t, 1, timers.Fire())

	select {
	case status := <-done:
		require.Equal(t, errs.TimedOut, status)
	case <-time.After(time.Second):
		t.Fatal("futex wait-timeout syscall never returned")
	}
	require.Zero(t, proc.Futex.Len())
}

// TestFutexWaitTimeoutSyscallWakesNormallyThroughDispatch has the word
// change and a Wake arrive before the deadline, exercising the non-timeout
// half of the same syscall (and WaitTimeout's timer cancellation path).
func TestFutexWaitTimeoutSyscallWakesNormallyThroughDispatch(t *testing.T) {
	proc := newProcess()
	clk := &fakeClock{}
	timers := timer.New(clk)

	table := fproc.NewTable(8)
	fproc.InstallCoreSyscalls(table, timers)
	th := fthread.New(1, noopManager{})
	u := fproc.Register(th, proc, table, 0, 0)

	done := make(chan errs.Status, 1)
	go func() {
		done <- u.Dispatch(th, fproc.SyscallFutexWaitTimeout, fproc.SyscallArgs{0x1000, 0, 0, 1_000_000})
	}()

	require.Eventually(t, func() bool { return proc.Futex.WaiterCount(wordKey) == 1 }, time.Second, time.Millisecond)

	proc.Words.Store(0x1000, 1)
	n := proc.Futex.Wake(wordKey, 1)
	require.Equal(t, 1, n)

	select {
	case status := <-done:
		require.Equal(t, errs.Ok, status)
	case <-time.After(time.Second):
		t.Fatal("futex wait-timeout syscall never returned")
	}
	require.Zero(t, proc.Futex.Len())
}
