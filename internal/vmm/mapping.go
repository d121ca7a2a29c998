package vmm

import (
	"sync"
	"sync/atomic"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/pmm"
)

// SlotFlags marks a mapping slot's resolution state.
type SlotFlags uint32

const (
	SlotZeroOnDemand SlotFlags = 1 << iota
	SlotIndirect
)

// slot is one entry of a Mapping's ordered sequence of slots.
type slot struct {
	frame pmm.Frame
	flags SlotFlags

	// indirectTarget/indirectOffset implement bind_indirect: resolving
	// this slot instead resolves the named slot of another mapping.
	indirectTarget *Mapping
	indirectOffset int
}

// Mapping is the shared-memory object fpage_space installs into address
// spaces.
type Mapping struct {
	mu    sync.Mutex
	slots []slot
	refs  atomic.Int32
	p     *pmm.PMM
}

// NewMapping creates a mapping of the given page count, all slots
// initially zero-on-demand, with one reference held by the caller.
func NewMapping(p *pmm.PMM, pageCount int) *Mapping {
	m := &Mapping{slots: make([]slot, pageCount), p: p}
	for i := range m.slots {
		m.slots[i].flags = SlotZeroOnDemand
	}
	m.refs.Store(1)
	return m
}

// Retain adds a reference.
func (m *Mapping) Retain() { m.refs.Add(1) }

// Release drops a reference; on the last release it frees every slot
// still owned directly (not indirect) back to PMM and reports true.
func (m *Mapping) Release() bool {
	if m.refs.Add(-1) != 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.slots {
		s := &m.slots[i]
		if s.flags&SlotIndirect == 0 && s.flags&SlotZeroOnDemand == 0 {
			m.p.Free(s.frame, 1)
		}
	}
	return true
}

// PageCount reports the number of slots in the mapping.
func (m *Mapping) PageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// Resolve materializes and returns the physical frame backing slot
// offset, following indirect binds and performing zero-fill-on-demand
// allocation the first time a slot is touched.
func (m *Mapping) Resolve(offset int) (pmm.Frame, errs.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(offset, 0)
}

func (m *Mapping) resolveLocked(offset, depth int) (pmm.Frame, errs.Status) {
	if depth > 16 {
		return 0, errs.Aborted // indirect cycle guard
	}
	if offset < 0 || offset >= len(m.slots) {
		return 0, errs.InvalidArgument
	}
	s := &m.slots[offset]
	if s.flags&SlotIndirect != 0 {
		// m's lock is dropped while the target is resolved, so a cycle
		// reaches the depth guard instead of re-locking a held mutex.
		target, off := s.indirectTarget, s.indirectOffset
		m.mu.Unlock()
		defer m.mu.Lock()
		target.mu.Lock()
		defer target.mu.Unlock()
		return target.resolveLocked(off, depth+1)
	}
	if s.flags&SlotZeroOnDemand != 0 {
		frame, _, status := m.p.Allocate(1, 0)
		if status != errs.Ok {
			return 0, status
		}
		s.frame = frame
		s.flags &^= SlotZeroOnDemand
	}
	return s.frame, errs.Ok
}

// BindIndirect installs a redirect at targetOffset..targetOffset+count
// so resolving those slots instead resolves source[sourceOffset:] —
// used to share a sub-region of an already-materialised mapping.
func (m *Mapping) BindIndirect(targetOffset int, source *Mapping, sourceOffset, count int) errs.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if targetOffset < 0 || targetOffset+count > len(m.slots) {
		return errs.InvalidArgument
	}
	source.Retain()
	for i := 0; i < count; i++ {
		m.slots[targetOffset+i] = slot{
			flags:          SlotIndirect,
			indirectTarget: source,
			indirectOffset: sourceOffset + i,
		}
	}
	return errs.Ok
}

// AdoptFrame installs an already-allocated, externally owned frame
// directly into slot offset — used by move_into_mapping to transfer
// ownership of frames that used to back a private VA range.
func (m *Mapping) AdoptFrame(offset int, frame pmm.Frame) errs.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset < 0 || offset >= len(m.slots) {
		return errs.InvalidArgument
	}
	m.slots[offset] = slot{frame: frame}
	return errs.Ok
}
