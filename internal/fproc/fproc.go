package fproc

import (
	"sync"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/fthread"
	"github.com/anillo-os/anillo-os-sub007/internal/futex"
	"github.com/anillo-os/anillo-os-sub007/internal/monitor"
	"github.com/anillo-os/anillo-os-sub007/internal/vmm"
)

// Descriptor is a (pointer, class-vtable) handle: Retain and Release are
// whatever the underlying class (channel, mapping, file, monitor,
// process, thread) implements.
type Descriptor interface {
	Retain()
	Release()
}

// Process is the fproc process object: one address space, a dense
// descriptor table, a thread list, and a futex table.
type Process struct {
	mu sync.Mutex

	Space   *vmm.Space
	Futex   *futex.Table
	Monitor *monitor.Monitor
	Words   *wordStore

	descriptors map[int]Descriptor

	threads []*fthread.Thread

	results lastResults

	killed bool
}

// New creates a process over the given address space.
func New(space *vmm.Space) *Process {
	return &Process{
		Space:       space,
		Futex:       futex.New(),
		Monitor:     monitor.New(),
		Words:       newWordStore(),
		descriptors: make(map[int]Descriptor),
	}
}

// Install adds d to the descriptor table, returning a dense, monotonic
// (until reuse after uninstall) integer id.
func (p *Process) Install(d Descriptor) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := 0
	for {
		if _, used := p.descriptors[id]; !used {
			break
		}
		id++
	}
	p.descriptors[id] = d
	d.Retain()
	return id
}

// Lookup returns the descriptor installed at id, if any.
func (p *Process) Lookup(id int) (Descriptor, errs.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.descriptors[id]
	if !ok {
		return nil, errs.NoSuchResource
	}
	return d, errs.Ok
}

// Uninstall removes id from the table and releases the process's
// reference to it.
func (p *Process) Uninstall(id int) errs.Status {
	p.mu.Lock()
	d, ok := p.descriptors[id]
	if ok {
		delete(p.descriptors, id)
	}
	p.mu.Unlock()
	if !ok {
		return errs.NoSuchResource
	}
	d.Release()
	return errs.Ok
}

// AttachThread registers a thread as part of this process, overwriting
// any prior weak Process backpointer the thread held.
func (p *Process) AttachThread(t *fthread.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t.Process = p
	p.threads = append(p.threads, t)
}

// Threads returns a snapshot of the process's current thread list.
func (p *Process) Threads() []*fthread.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*fthread.Thread, len(p.threads))
	copy(out, p.threads)
	return out
}

// Kill terminates every thread in the process and releases every
// installed descriptor. It is idempotent.
func (p *Process) Kill() errs.Status {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return errs.AlreadyInProgress
	}
	p.killed = true
	threads := append([]*fthread.Thread(nil), p.threads...)
	descs := make(map[int]Descriptor, len(p.descriptors))
	for id, d := range p.descriptors {
		descs[id] = d
	}
	p.descriptors = make(map[int]Descriptor)
	p.mu.Unlock()

	for _, t := range threads {
		t.Kill()
	}
	for _, d := range descs {
		d.Release()
	}
	return errs.Ok
}

// Detach severs the caller's ownership/visibility of the process without
// terminating it. In this hosted model, where Process objects are
// referenced directly rather than through a supervisor-held descriptor,
// Detach is exposed as clearing the weak Process backpointer on every
// attached thread, so a subsequent thread.Process lookup no longer
// resolves — the process itself keeps running.
func (p *Process) Detach() {
	p.mu.Lock()
	threads := append([]*fthread.Thread(nil), p.threads...)
	p.mu.Unlock()
	for _, t := range threads {
		t.Process = nil
	}
}

// Killed reports whether Kill has run.
func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}
