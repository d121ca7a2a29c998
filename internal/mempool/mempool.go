package mempool

import (
	"unsafe"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/pmm"
	"github.com/anillo-os/anillo-os-sub007/internal/spinlock"
)

// block is one arena region, free or allocated, in a doubly linked list
// ordered by address within its owning segment — a conventional first-fit
// heap layout.
type block struct {
	seg        *segment
	off, size  int
	free       bool
	prev, next *block
}

// segment is one contiguous run of pages obtained from a single
// PageSource.AllocPages call. Keeping each grow() call's bytes in its own,
// never-reallocated slice means a live allocation's address never moves
// out from under a caller, unlike a single arena built with append.
type segment struct {
	frame pmm.Frame
	data  []byte
	head  *block
}

// Mempool is the kernel's general-purpose allocator for arbitrary-size
// objects, supporting an alignment requirement, a
// "physically contiguous" flag, and in-place-growing realloc.
type Mempool struct {
	lock spinlock.IntSafe

	src      PageSource
	segments []*segment

	// allocated maps an allocation's Go-visible address to its block, so
	// Free/Realloc can locate it in O(1) instead of walking every segment.
	allocated map[uintptr]*block
}

// NewMempool creates a general allocator drawing pages from src.
func NewMempool(src PageSource) *Mempool {
	return &Mempool{src: src, allocated: make(map[uintptr]*block)}
}

// Alloc reserves size bytes aligned to 2^alignmentPower. contiguous
// requests that the allocation come from a single physically contiguous
// page run; every allocation in this arena already satisfies that (each
// segment is one contiguous AllocPages call), so the flag has no effect
// on the result.
func (m *Mempool) Alloc(size int, alignmentPower uint, contiguous bool) ([]byte, errs.Status) {
	if size <= 0 {
		return nil, errs.InvalidArgument
	}
	m.lock.Lock(nil)
	defer m.lock.Unlock(nil)

	align := 1 << alignmentPower
	if b := m.findFit(size, align); b != nil {
		return m.commit(b, size), errs.Ok
	}
	if status := m.grow(size + align); status != errs.Ok {
		return nil, status
	}
	if b := m.findFit(size, align); b != nil {
		return m.commit(b, size), errs.Ok
	}
	_ = contiguous
	return nil, errs.TooBig
}

func (m *Mempool) commit(b *block, size int) []byte {
	buf := b.seg.data[b.off : b.off+size]
	m.allocated[addrOf(buf)] = b
	return buf
}

func (m *Mempool) findFit(size, align int) *block {
	for _, seg := range m.segments {
		for b := seg.head; b != nil; b = b.next {
			if !b.free {
				continue
			}
			alignedOff := alignUp(b.off, align)
			pad := alignedOff - b.off
			if b.size-pad < size {
				continue
			}
			if pad > 0 {
				splitAt(b, pad)
				b = b.next
			}
			if b.size > size {
				splitAt(b, size)
			}
			b.free = false
			return b
		}
	}
	return nil
}

// splitAt splits block b into [0,at) and [at,b.size), both remaining free,
// and inserts the second half right after b in its segment's list.
func splitAt(b *block, at int) {
	if at <= 0 || at >= b.size {
		return
	}
	tail := &block{seg: b.seg, off: b.off + at, size: b.size - at, free: true, prev: b, next: b.next}
	if b.next != nil {
		b.next.prev = tail
	}
	b.next = tail
	b.size = at
}

func (m *Mempool) grow(minBytes int) errs.Status {
	pages := (minBytes + pmm.PageSize - 1) / pmm.PageSize
	frame, data, _, status := m.src.AllocPages(pages)
	if status != errs.Ok {
		return status
	}
	seg := &segment{frame: frame, data: data}
	seg.head = &block{seg: seg, off: 0, size: len(data), free: true}
	m.segments = append(m.segments, seg)
	return errs.Ok
}

// Free releases a previously allocated buffer, coalescing with free
// neighbors in the same segment.
func (m *Mempool) Free(buf []byte) errs.Status {
	m.lock.Lock(nil)
	defer m.lock.Unlock(nil)
	return m.freeLocked(buf)
}

func (m *Mempool) freeLocked(buf []byte) errs.Status {
	b, ok := m.allocated[addrOf(buf)]
	if !ok {
		return errs.InvalidArgument
	}
	delete(m.allocated, addrOf(buf))
	b.free = true
	coalesce(b)
	return errs.Ok
}

func coalesce(b *block) {
	if b.next != nil && b.next.free {
		n := b.next
		b.size += n.size
		b.next = n.next
		if n.next != nil {
			n.next.prev = b
		}
	}
	if b.prev != nil && b.prev.free {
		p := b.prev
		p.size += b.size
		p.next = b.next
		if b.next != nil {
			b.next.prev = p
		}
	}
}

// Realloc resizes buf to newSize, preferring in-place growth into a
// following free block within the same segment before falling back to
// allocate+copy+free, which may move the allocation to a different segment.
func (m *Mempool) Realloc(buf []byte, newSize int) ([]byte, errs.Status) {
	if newSize <= 0 {
		return nil, errs.InvalidArgument
	}
	m.lock.Lock(nil)
	b, ok := m.allocated[addrOf(buf)]
	if !ok {
		m.lock.Unlock(nil)
		return nil, errs.InvalidArgument
	}

	if newSize <= b.size {
		delete(m.allocated, addrOf(buf))
		if newSize < b.size {
			splitAt(b, newSize)
			b.next.free = true
			coalesce(b.next)
		}
		grown := m.commit(b, newSize)
		m.lock.Unlock(nil)
		return grown, errs.Ok
	}

	if b.next != nil && b.next.free && b.size+b.next.size >= newSize {
		extra := newSize - b.size
		n := b.next
		if n.size > extra {
			splitAt(n, extra)
		}
		b.size += n.size
		b.next = n.next
		if n.next != nil {
			n.next.prev = b
		}
		delete(m.allocated, addrOf(buf))
		grown := m.commit(b, newSize)
		m.lock.Unlock(nil)
		return grown, errs.Ok
	}
	m.lock.Unlock(nil)

	newBuf, status := m.Alloc(newSize, 0, false)
	if status != errs.Ok {
		return nil, status
	}
	copy(newBuf, buf)
	if status := m.Free(buf); status != errs.Ok {
		return nil, status
	}
	return newBuf, errs.Ok
}

func addrOf(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}

func alignUp(off, align int) int {
	if align <= 1 {
		return off
	}
	return (off + align - 1) &^ (align - 1)
}
