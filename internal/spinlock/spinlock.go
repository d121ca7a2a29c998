// Package spinlock provides the kernel's two mutual-exclusion primitives:
// a plain spinlock and an interrupt-safe variant that saves/restores the
// owning CPU's interrupt-disable state. Every mutable kernel structure
// has exactly one lock; some structures use these types, while those in
// fchannel, fproc, fsched, fthread, futex, monitor, worker and vmm's
// Mapping use sync.Mutex.
package spinlock

import (
	"runtime"
	"sync/atomic"

	"github.com/anillo-os/anillo-os-sub007/internal/archx"
)

// Spin is a plain spinlock: cheap, non-reentrant, meant for very short
// critical sections. It must never be held across a blocking wait.
type Spin struct {
	state atomic.Bool
}

// Lock spins (with a Gosched backoff, since a hosted goroutine has no
// hardware PAUSE instruction) until the lock is acquired.
func (s *Spin) Lock() {
	for !s.TryLock() {
		runtime.Gosched()
	}
}

// TryLock attempts to acquire the lock without blocking.
func (s *Spin) TryLock() bool {
	return s.state.CompareAndSwap(false, true)
}

// Unlock releases the lock. Unlocking an unlocked Spin is a programmer
// error and panics, the same way an invariant violation elsewhere in the
// kernel would.
func (s *Spin) Unlock() {
	if !s.state.CompareAndSwap(true, false) {
		panic("spinlock: Unlock of unlocked Spin")
	}
}

// IntSafe is the interrupt-safe spinlock:
// acquiring it also disables interrupts on the calling CPU, and releasing
// it restores whatever interrupt state existed before acquisition. Locks
// taken from interrupt context must be IntSafe.
type IntSafe struct {
	inner Spin
}

// Lock disables interrupts on cpu and then acquires the lock.
func (l *IntSafe) Lock(cpu *archx.CPU) {
	cpu.DisableInterrupts()
	l.inner.Lock()
}

// TryLock disables interrupts on cpu and attempts a non-blocking acquire.
// On failure it restores interrupts before returning, so the caller need
// not call Unlock.
func (l *IntSafe) TryLock(cpu *archx.CPU) bool {
	cpu.DisableInterrupts()
	if l.inner.TryLock() {
		return true
	}
	cpu.RestoreInterrupts()
	return false
}

// Unlock releases the lock and restores the calling CPU's interrupt state.
func (l *IntSafe) Unlock(cpu *archx.CPU) {
	l.inner.Unlock()
	cpu.RestoreInterrupts()
}
