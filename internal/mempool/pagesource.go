// Package mempool implements the kernel's two general-purpose heap
// allocators: a fixed-size-object slab with a linked free list, and
// a general mempool for arbitrary sizes with alignment and a "must be
// physically contiguous" flag. Both are thread-safe via interrupt-safe
// spinlocks.
package mempool

import (
	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/pmm"
)

// PageSource is the backing frame provider for a Mempool or Slab. In this
// hosted model a "page" of backing storage is real Go memory; PageSource
// just tracks frame identity alongside it so the rest of the kernel can
// still reason about physical addresses and contiguity, the same as it
// would over real RAM.
type PageSource interface {
	// AllocPages requests count pages and returns the frame actually
	// allocated and how many pages it spans (a power of two >= count, per
	// the buddy allocator backing it — the caller must track the returned
	// count, not its request, when later calling FreePages).
	AllocPages(count int) (frame pmm.Frame, data []byte, actualCount int, status errs.Status)
	FreePages(frame pmm.Frame, count int)
}

// pmmPageSource adapts a *pmm.PMM into a PageSource by backing each frame
// with a same-sized Go byte slice (the hosted stand-in for physical RAM).
type pmmPageSource struct {
	p *pmm.PMM
}

// NewPMMPageSource wraps p as a PageSource for mempool/slab.
func NewPMMPageSource(p *pmm.PMM) PageSource {
	return &pmmPageSource{p: p}
}

func (s *pmmPageSource) AllocPages(count int) (pmm.Frame, []byte, int, errs.Status) {
	frame, got, status := s.p.Allocate(count, 0)
	if status != errs.Ok {
		return 0, nil, 0, status
	}
	return frame, make([]byte, got*pmm.PageSize), got, errs.Ok
}

func (s *pmmPageSource) FreePages(frame pmm.Frame, count int) {
	s.p.Free(frame, count)
}
