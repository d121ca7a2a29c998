// Package vmm implements the virtual memory manager: a per-address-space
// virtual range allocator, a simulated page-table entry set standing in
// for real MMU tables (the hosted model has no MMU to program — reads
// and writes fault through Space.Access instead), mapping sharing, and
// TLB-shootdown broadcast over archx.Bus.
package vmm

import (
	"sync/atomic"

	"github.com/anillo-os/anillo-os-sub007/internal/archx"
	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/pmm"
	"github.com/anillo-os/anillo-os-sub007/internal/spinlock"
)

const PageSize = pmm.PageSize

// EntryFlags mirrors the page-table-entry flag bits: writable,
// user/privileged, no-cache, plus the private "inactive" bit that forces
// a fault even when a frame is already known (copy-on-fault, on-demand
// zero-fill).
type EntryFlags uint32

const (
	FlagWritable EntryFlags = 1 << iota
	FlagUser
	FlagNoCache
	FlagInactive
)

// entry is one simulated page-table entry: a VA-indexed record standing
// in for what a real MMU walk would produce.
type entry struct {
	frame   pmm.Frame
	flags   EntryFlags
	mapping *Mapping
	slot    int
}

// Space is one address space: a virtual range allocator plus the
// installed entries backing it, a PMM to draw frames from, and a bus to
// broadcast TLB shootdowns across CPUs sharing this space.
type Space struct {
	lock spinlock.IntSafe

	userRange *vrange
	pmm       *pmm.PMM
	bus       *archx.Bus

	entries map[uintptr]*entry // VA page index -> entry
	refs    int32

	smpActive atomic.Bool
}

// NewSpace creates an address space covering [0, userMaxPages) pages of
// user virtual range, drawing frames from p and broadcasting shootdowns
// over bus.
func NewSpace(p *pmm.PMM, bus *archx.Bus, userMaxPages uintptr) *Space {
	return &Space{
		userRange: newVrange(0, userMaxPages),
		pmm:       p,
		bus:       bus,
		entries:   make(map[uintptr]*entry),
		refs:      1,
	}
}

func pageIndex(va uintptr) uintptr { return va / PageSize }

// Allocate reserves pageCount pages of VA space and installs
// zero-fill-on-demand entries. prefault eagerly allocates PMM frames
// instead of deferring to fault-in.
func (s *Space) Allocate(pageCount int, alignmentPower uint, flags EntryFlags, prefault bool) (uintptr, errs.Status) {
	s.lock.Lock(nil)
	defer s.lock.Unlock(nil)

	base, status := s.userRange.allocate(uintptr(pageCount), alignmentPower)
	if status != errs.Ok {
		return 0, status
	}
	va := base * PageSize
	for i := 0; i < pageCount; i++ {
		idx := base + uintptr(i)
		e := &entry{flags: flags | FlagInactive}
		if prefault {
			frame, _, st := s.pmm.Allocate(1, 0)
			if st != errs.Ok {
				s.userRange.release(base, uintptr(pageCount))
				return 0, st
			}
			e.frame = frame
			e.flags &^= FlagInactive
		}
		s.entries[idx] = e
	}
	return va, errs.Ok
}

// MapPhysical installs entries pointing at an externally owned physical
// range starting at phys, the spec's map_physical(phys, virt, page_count,
// flags) operation. phys is a page index, matching every other Frame in
// this module — subsequent pages are phys+1, phys+2, ... (page-index
// arithmetic), not phys.Addr()+i*PageSize (byte arithmetic); the two
// only coincide when phys is 0, which is exactly the case that let this
// bug hide in single-region hosted runs.
func (s *Space) MapPhysical(phys pmm.Frame, pageCount int, flags EntryFlags) (uintptr, errs.Status) {
	s.lock.Lock(nil)
	defer s.lock.Unlock(nil)

	base, status := s.userRange.allocate(uintptr(pageCount), 0)
	if status != errs.Ok {
		return 0, status
	}
	for i := 0; i < pageCount; i++ {
		s.entries[base+uintptr(i)] = &entry{frame: phys + pmm.Frame(i), flags: flags}
	}
	return base * PageSize, errs.Ok
}

// InsertMapping reserves a VA range and points it at mapping starting at
// offset; faults on the range resolve against the mapping on first
// access.
func (s *Space) InsertMapping(mapping *Mapping, offset, pageCount int, alignmentPower uint, flags EntryFlags) (uintptr, errs.Status) {
	s.lock.Lock(nil)
	defer s.lock.Unlock(nil)

	base, status := s.userRange.allocate(uintptr(pageCount), alignmentPower)
	if status != errs.Ok {
		return 0, status
	}
	mapping.Retain()
	for i := 0; i < pageCount; i++ {
		s.entries[base+uintptr(i)] = &entry{
			flags:   flags | FlagInactive,
			mapping: mapping,
			slot:    offset + i,
		}
	}
	return base * PageSize, errs.Ok
}

// RemoveMapping tears down entries covering a previously inserted
// mapping's VA range, decrementing the mapping's refcount. va must be a
// range returned by InsertMapping.
func (s *Space) RemoveMapping(va uintptr, pageCount int) errs.Status {
	s.lock.Lock(nil)
	defer s.lock.Unlock(nil)

	base := pageIndex(va)
	var mapping *Mapping
	for i := 0; i < pageCount; i++ {
		e, ok := s.entries[base+uintptr(i)]
		if !ok {
			return errs.NoSuchResource
		}
		mapping = e.mapping
		delete(s.entries, base+uintptr(i))
	}
	s.userRange.release(base, uintptr(pageCount))
	s.shootdown(va, pageCount)
	if mapping != nil {
		mapping.Release()
	}
	return errs.Ok
}

// Free unmaps a VA range this space owns directly (not via a Mapping)
// and returns its backing frames to PMM.
func (s *Space) Free(va uintptr, pageCount int) errs.Status {
	s.lock.Lock(nil)
	defer s.lock.Unlock(nil)

	base := pageIndex(va)
	for i := 0; i < pageCount; i++ {
		e, ok := s.entries[base+uintptr(i)]
		if !ok {
			return errs.NoSuchResource
		}
		if e.mapping == nil && e.flags&FlagInactive == 0 {
			s.pmm.Free(e.frame, 1)
		}
		delete(s.entries, base+uintptr(i))
	}
	s.userRange.release(base, uintptr(pageCount))
	s.shootdown(va, pageCount)
	return errs.Ok
}

// BindIndirect shares a sub-range of va (which must already resolve
// through a Mapping) into a target Mapping — a thin wrapper over
// Mapping.BindIndirect that resolves the source mapping and offset from
// va's existing entry.
func (s *Space) BindIndirect(va uintptr, pageCount int, target *Mapping, targetOffset int) errs.Status {
	s.lock.Lock(nil)
	base := pageIndex(va)
	var source *Mapping
	var sourceOffset int
	if e, ok := s.entries[base]; ok && e.mapping != nil {
		source = e.mapping
		sourceOffset = e.slot
	}
	s.lock.Unlock(nil)
	if source == nil {
		return errs.InvalidArgument
	}
	return target.BindIndirect(targetOffset, source, sourceOffset, pageCount)
}

// MoveIntoMapping transfers ownership of the frames currently backing a
// privately-owned VA range into slots of mapping at offset; subsequent
// faults on va resolve via the mapping.
func (s *Space) MoveIntoMapping(va uintptr, pageCount, offset int, mapping *Mapping) errs.Status {
	s.lock.Lock(nil)
	defer s.lock.Unlock(nil)

	base := pageIndex(va)
	for i := 0; i < pageCount; i++ {
		e, ok := s.entries[base+uintptr(i)]
		if !ok || e.mapping != nil {
			return errs.InvalidArgument
		}
		if e.flags&FlagInactive != 0 {
			// Fault the page in first so there's a frame to transfer.
			frame, _, status := s.pmm.Allocate(1, 0)
			if status != errs.Ok {
				return status
			}
			e.frame = frame
			e.flags &^= FlagInactive
		}
		if status := mapping.AdoptFrame(offset+i, e.frame); status != errs.Ok {
			return status
		}
		e.mapping = mapping
		e.slot = offset + i
	}
	mapping.Retain()
	s.shootdown(va, pageCount)
	return errs.Ok
}

// Access simulates a load from va: it resolves the backing frame,
// materialising it on first touch, and returns that frame. Real frame
// contents aren't modeled byte-for-byte in the
// hosted build — PMM.Allocate returning a Frame is the only observable
// side effect, so Access reports a frame for callers to assert
// frame-identity properties against.
func (s *Space) Access(va uintptr) (pmm.Frame, errs.Status) {
	s.lock.Lock(nil)
	idx := pageIndex(va)
	e, ok := s.entries[idx]
	s.lock.Unlock(nil)
	if !ok {
		return 0, errs.NoSuchResource
	}
	if e.mapping != nil {
		return e.mapping.Resolve(e.slot)
	}
	s.lock.Lock(nil)
	defer s.lock.Unlock(nil)
	if e.flags&FlagInactive != 0 {
		frame, _, status := s.pmm.Allocate(1, 0)
		if status != errs.Ok {
			return 0, status
		}
		e.frame = frame
		e.flags &^= FlagInactive
	}
	return e.frame, errs.Ok
}

// shootdown broadcasts a TLB invalidation for the given VA range to
// every CPU sharing this space. With no bus configured (single-CPU
// tests), this is a no-op — there is nothing to shoot down.
func (s *Space) shootdown(va uintptr, pageCount int) {
	if s.bus == nil {
		return
	}
	s.bus.Broadcast(func() {
		// A real backend would invalidate [va, va+pageCount*PageSize);
		// the hosted model has no TLB to flush.
		_ = va
		_ = pageCount
	})
}

// ActivateSMP marks the space as shared across more than one CPU. Once
// called, EarlyTranslator.Translate for this space panics instead of
// bypassing the space lock — the lock-free early path is only sound while
// a single CPU can possibly touch the space. Calling it twice panics: it
// is meant to run exactly once, at the point the second CPU comes online.
func (s *Space) ActivateSMP() {
	if !s.smpActive.CompareAndSwap(false, true) {
		panic("vmm: ActivateSMP called more than once")
	}
}

// Retain/Release model the address space's own reference count.
func (s *Space) Retain() {
	s.lock.Lock(nil)
	s.refs++
	s.lock.Unlock(nil)
}

// Release drops a reference, returning true if this was the last one. A
// fully released space does not reclaim its still-installed frames here
// — callers are expected to Free/RemoveMapping every range before the
// last release.
func (s *Space) Release() bool {
	s.lock.Lock(nil)
	s.refs--
	done := s.refs == 0
	s.lock.Unlock(nil)
	return done
}
