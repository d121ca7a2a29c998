// Package fsched implements the per-CPU scheduler: ready queues, manage-time load balancing, and
// preemption. There are no idle threads: PickNext returns nil when a CPU's
// queue is empty. It implements fthread.Manager, so a fthread.Thread's
// Resume/Suspend calls land here.
package fsched

import (
	"sync"

	"github.com/anillo-os/anillo-os-sub007/internal/fthread"
)

// readyQueue is one CPU's FIFO of runnable threads, each behind its own
// spinlock-equivalent (a plain mutex suffices in the hosted model; no
// interrupt handler ever touches a readyQueue directly).
type readyQueue struct {
	mu    sync.Mutex
	items []*fthread.Thread
}

func (q *readyQueue) push(t *fthread.Thread) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
}

func (q *readyQueue) pop() *fthread.Thread {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t
}

func (q *readyQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Scheduler owns one ready queue per CPU plus a bootstrap queue for
// threads whose CPU affinity has not yet been decided.
type Scheduler struct {
	queues    []*readyQueue
	bootstrap readyQueue

	mu      sync.Mutex
	running map[int]*fthread.Thread // cpuID -> currently running thread
}

// New creates a scheduler with one ready queue per CPU, cpuCount >= 1.
func New(cpuCount int) *Scheduler {
	s := &Scheduler{
		queues:  make([]*readyQueue, cpuCount),
		running: make(map[int]*fthread.Thread),
	}
	for i := range s.queues {
		s.queues[i] = &readyQueue{}
	}
	return s
}

// Manage places thread on the ready queue with the lightest load,
// including the bootstrap queue in the comparison, and does so
// atomically as a single placement decision. Load balancing never
// reruns after this.
func (s *Scheduler) Manage(t *fthread.Thread) {
	best := &s.bootstrap
	bestLen := s.bootstrap.len()
	for _, q := range s.queues {
		if l := q.len(); l < bestLen {
			best, bestLen = q, l
		}
	}
	best.push(t)
}

// Resume implements fthread.Manager. The hosted model has no notion of a
// thread's own execution resuming itself mid-switch; Manage is the entry
// point threads re-enter the ready state through, so Resume here is a
// bookkeeping no-op reserved for future arch-specific context restore.
func (s *Scheduler) Resume(t *fthread.Thread) {}

// Suspend implements fthread.Manager. If the thread is the one currently
// recorded as running on some CPU, clear that slot; callers are
// responsible for re-queuing it onto a waitq (fthread.Wait already did
// that before invoking Suspend).
func (s *Scheduler) Suspend(t *fthread.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cpu, running := range s.running {
		if running == t {
			delete(s.running, cpu)
			return
		}
	}
}

// PickNext pops the next runnable thread for cpu from its own queue,
// falling back to the bootstrap queue, and records it as that CPU's
// running thread. Returns nil if nothing is runnable (the caller should
// run its idle thread).
func (s *Scheduler) PickNext(cpu int) *fthread.Thread {
	q := s.queues[cpu]
	t := q.pop()
	if t == nil {
		t = s.bootstrap.pop()
	}
	if t == nil {
		return nil
	}
	s.mu.Lock()
	s.running[cpu] = t
	s.mu.Unlock()
	t.Resume()
	return t
}

// PreemptThread moves the thread currently running on cpu back onto its
// ready queue and returns it, so the caller can then call PickNext to
// choose what runs next.
func (s *Scheduler) PreemptThread(cpu int) *fthread.Thread {
	s.mu.Lock()
	t := s.running[cpu]
	delete(s.running, cpu)
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	s.queues[cpu].push(t)
	return t
}

// Running reports the thread currently running on cpu, if any.
func (s *Scheduler) Running(cpu int) *fthread.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[cpu]
}

// QueueLen reports the number of runnable threads parked on cpu's ready
// queue, for tests and diagnostics.
func (s *Scheduler) QueueLen(cpu int) int { return s.queues[cpu].len() }

// BootstrapLen reports the bootstrap queue's length.
func (s *Scheduler) BootstrapLen() int { return s.bootstrap.len() }

// Stats summarizes scheduler occupancy.
type Stats struct {
	PerCPURunnable []int
	Bootstrap      int
	Running        int
}

// Stats returns a point-in-time snapshot of queue occupancy.
func (s *Scheduler) Stats() Stats {
	st := Stats{PerCPURunnable: make([]int, len(s.queues)), Bootstrap: s.bootstrap.len()}
	for i, q := range s.queues {
		st.PerCPURunnable[i] = q.len()
	}
	s.mu.Lock()
	st.Running = len(s.running)
	s.mu.Unlock()
	return st
}
