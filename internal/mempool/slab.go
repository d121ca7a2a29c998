package mempool

import (
	"unsafe"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/pmm"
	"github.com/anillo-os/anillo-os-sub007/internal/spinlock"
)

// Slab is a fixed-size-object allocator with a singly linked free list of
// slabObj nodes. Objects come from whole pages requested from a
// PageSource as the slab grows.
type Slab struct {
	lock spinlock.IntSafe

	objSize int
	src     PageSource

	// Each free object is represented by a separately allocated slabObj
	// node (page, offset, next); nothing is written into the object
	// storage itself. The free list is not intrusive.
	pages []*slabPage
	free  *slabObj // head of the free list, across all pages
}

type slabPage struct {
	frame pmm.Frame
	data  []byte
	count int
}

// slabObj is one free object's node in the free list.
type slabObj struct {
	page *slabPage
	off  int
	next *slabObj
}

// NewSlab creates a slab allocator for fixed-size objects of objSize bytes,
// drawing backing pages from src.
func NewSlab(objSize int, src PageSource) *Slab {
	if objSize < 8 {
		objSize = 8
	}
	return &Slab{objSize: objSize, src: src}
}

// Alloc returns one zeroed object from the slab, growing the slab by one
// page if it is out of free objects.
func (s *Slab) Alloc() ([]byte, errs.Status) {
	s.lock.Lock(nil)
	defer s.lock.Unlock(nil)

	if s.free == nil {
		if status := s.grow(); status != errs.Ok {
			return nil, status
		}
	}

	obj := s.free
	s.free = obj.next
	buf := obj.page.data[obj.off : obj.off+s.objSize]
	for i := range buf {
		buf[i] = 0
	}
	return buf, errs.Ok
}

// Free returns obj, which must have been returned by Alloc on this slab, to
// the free list.
func (s *Slab) Free(obj []byte) {
	s.lock.Lock(nil)
	defer s.lock.Unlock(nil)

	addr := uintptr(unsafe.Pointer(&obj[0]))
	for _, p := range s.pages {
		base := uintptr(unsafe.Pointer(&p.data[0]))
		if addr < base || addr >= base+uintptr(len(p.data)) {
			continue
		}
		off := int(addr - base)
		node := &slabObj{page: p, off: off, next: s.free}
		s.free = node
		return
	}
	panic("mempool: Free of object not owned by this slab")
}

func (s *Slab) grow() errs.Status {
	frame, data, count, status := s.src.AllocPages(1)
	if status != errs.Ok {
		return status
	}
	page := &slabPage{frame: frame, data: data, count: count}
	s.pages = append(s.pages, page)

	perPage := len(data) / s.objSize
	if perPage == 0 {
		return errs.TooBig
	}
	for i := 0; i < perPage; i++ {
		node := &slabObj{page: page, off: i * s.objSize, next: s.free}
		s.free = node
	}
	return errs.Ok
}
