// Package pmm is the physical memory manager: a buddy frame allocator
// built over the regions handed to the kernel in the boot memory map. It
// hands out Frame identifiers, never raw host memory — this is a hosted
// accounting model of physical frames, keeping "frame" bookkeeping
// separate from the bytes a frame represents.
package pmm

import (
	"sync/atomic"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/spinlock"
)

// PageSize is the primary page size.
const PageSize = 4096

// Frame identifies one physical page by its page index: physical address
// divided by PageSize, not the address itself. All of the buddy math in
// this file (addRegion's base/blockPages arithmetic, allocateLocked's
// buddy-xor coalescing) is expressed in page units, and every Frame a
// caller holds is a page index in that same space. Frame 0 is a valid
// identifier; callers distinguish "no frame" with a separate ok/error
// return rather than a sentinel zero value.
type Frame uintptr

// Addr returns the physical byte address the frame's page index
// corresponds to — the one place a Frame's unit crosses from page index
// to bytes. Conversions in the other direction (byte address -> Frame)
// must divide by PageSize; see boot.Handoff.Regions and
// vmm.Space.MapFramebuffer for the two boundary points that do this.
func (f Frame) Addr() uintptr { return uintptr(f) * PageSize }

// Region describes one span of usable physical memory from the boot
// memory map.
type Region struct {
	Base      Frame
	PageCount int
}

// maxOrder bounds the buddy block size at 2^maxOrder pages: 2^18 pages
// (1 GiB blocks) comfortably covers any region this hosted model is
// given.
const maxOrder = 18

// PMM is the buddy allocator. It is protected by a single interrupt-safe
// spinlock.
type PMM struct {
	lock spinlock.IntSafe

	// free[order] is the list of free block base frames of size 2^order
	// pages, threaded as a plain slice (no freestanding intrusive list is
	// needed since this is hosted memory, not raw physical bytes).
	free [maxOrder + 1][]Frame

	// blockOrder maps an allocated block's base frame to the order it was
	// allocated at, so Free knows how large a block to coalesce.
	blockOrder map[Frame]int

	totalPages int
	inUse      atomic.Int64
	reserved   atomic.Int64
}

// New builds a PMM over the given boot memory regions.
func New(regions []Region) *PMM {
	p := &PMM{blockOrder: make(map[Frame]int)}
	for _, r := range regions {
		p.addRegion(r)
	}
	return p
}

func (p *PMM) addRegion(r Region) {
	p.totalPages += r.PageCount
	base := r.Base
	remaining := r.PageCount
	for remaining > 0 {
		order := maxOrder
		for order > 0 && (1<<order) > remaining {
			order--
		}
		// also cap order so base is suitably aligned for its block size;
		// otherwise buddy coalescing math (base ^ (1<<order)) breaks. This
		// is page-index arithmetic, not byte arithmetic — Frame.Addr()
		// does not belong here.
		for order > 0 && uintptr(base)%(1<<order) != 0 {
			order--
		}
		p.free[order] = append(p.free[order], base)
		blockPages := 1 << order
		base += Frame(blockPages)
		remaining -= blockPages
	}
}

// ReservePool sets aside pageCount pages that Allocate will never hand out
// under normal operation; a reserved pool backs allocation paths that
// must not fail under memory pressure.
func (p *PMM) ReservePool(pageCount int) errs.Status {
	p.lock.Lock(nil)
	defer p.lock.Unlock(nil)
	for pageCount > 0 {
		frame, got, status := p.allocateLocked(pageCount, 0)
		if status != errs.Ok {
			return status
		}
		p.reserved.Add(int64(got)) // reserved pages are not "in use" telemetry
		_ = frame
		pageCount -= got
	}
	return errs.Ok
}

// Allocate finds the smallest free block >= pageCount pages, splitting a
// larger block if necessary, aligned to 2^alignmentPower pages. It returns
// the frame and the number of pages actually allocated (always a power of
// two >= pageCount). When no free block is large enough it returns
// PermanentOutage; a request above the largest block order returns TooBig,
// and a non-positive pageCount returns InvalidArgument.
func (p *PMM) Allocate(pageCount int, alignmentPower uint) (Frame, int, errs.Status) {
	if pageCount <= 0 {
		return 0, 0, errs.InvalidArgument
	}
	p.lock.Lock(nil)
	defer p.lock.Unlock(nil)
	frame, got, status := p.allocateLocked(pageCount, alignmentPower)
	if status == errs.Ok {
		p.inUse.Add(int64(got))
	}
	return frame, got, status
}

func (p *PMM) allocateLocked(pageCount int, alignmentPower uint) (Frame, int, errs.Status) {
	order := 0
	for (1 << order) < pageCount {
		order++
	}
	if int(alignmentPower) > order {
		order = int(alignmentPower)
	}
	if order > maxOrder {
		return 0, 0, errs.TooBig
	}

	found := -1
	for o := order; o <= maxOrder; o++ {
		if len(p.free[o]) > 0 {
			found = o
			break
		}
	}
	if found < 0 {
		return 0, 0, errs.PermanentOutage
	}

	// pop a block of order `found`, then split down to `order`.
	n := len(p.free[found])
	block := p.free[found][n-1]
	p.free[found] = p.free[found][:n-1]

	for o := found; o > order; o-- {
		half := Frame(1 << (o - 1))
		buddy := block + half
		p.free[o-1] = append(p.free[o-1], buddy)
	}

	p.blockOrder[block] = order
	return block, 1 << order, errs.Ok
}

// Free returns a previously allocated block to the buddy lists, coalescing
// with its buddy where possible.
func (p *PMM) Free(frame Frame, pageCount int) errs.Status {
	p.lock.Lock(nil)
	defer p.lock.Unlock(nil)

	order, ok := p.blockOrder[frame]
	if !ok {
		return errs.InvalidArgument
	}
	delete(p.blockOrder, frame)
	if 1<<order != pageCount {
		return errs.InvalidArgument
	}

	p.inUse.Add(-int64(pageCount))

	block := frame
	for order < maxOrder {
		buddy := block ^ Frame(1<<order)
		idx := -1
		for i, f := range p.free[order] {
			if f == buddy {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		// remove buddy from the free list and merge upward.
		last := len(p.free[order]) - 1
		p.free[order][idx] = p.free[order][last]
		p.free[order] = p.free[order][:last]
		if buddy < block {
			block = buddy
		}
		order++
	}
	p.free[order] = append(p.free[order], block)
	return errs.Ok
}

// Stats reports telemetry counters. InUse+Free+Reserved always sums
// to the total page count.
type Stats struct {
	TotalPages    int
	InUsePages    int64
	ReservedPages int64
	FreePages     int64
}

func (p *PMM) Stats() Stats {
	p.lock.Lock(nil)
	defer p.lock.Unlock(nil)
	inUse := p.inUse.Load()
	reserved := p.reserved.Load()
	return Stats{
		TotalPages:    p.totalPages,
		InUsePages:    inUse,
		ReservedPages: reserved,
		FreePages:     int64(p.totalPages) - inUse - reserved,
	}
}
