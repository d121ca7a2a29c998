package vmm

import "github.com/anillo-os/anillo-os-sub007/internal/errs"

// vrangeMaxOrder bounds the largest single virtual-range allocation this
// allocator hands out, mirroring pmm's buddy design.
const vrangeMaxOrder = 24 // up to 2^24 pages per single allocation

// vrange is a per-address-space virtual-page-index buddy allocator: the
// same free-list-by-order technique pmm.PMM uses for physical frames,
// applied to an abstract page-index space so fpage_space can allocate
// disjoint VA ranges without itself re-deriving buddy math.
type vrange struct {
	base       uintptr // first page index this allocator covers
	pageCount  uintptr
	free       [vrangeMaxOrder + 1][]uintptr // free block starts, by order, relative to base
	blockOrder map[uintptr]int
}

func newVrange(base, pageCount uintptr) *vrange {
	v := &vrange{base: base, pageCount: pageCount, blockOrder: make(map[uintptr]int)}
	off := uintptr(0)
	for off < pageCount {
		order := vrangeMaxOrder
		for order > 0 && (uintptr(1)<<uint(order) > pageCount-off || off&((uintptr(1)<<uint(order))-1) != 0) {
			order--
		}
		v.free[order] = append(v.free[order], off)
		v.blockOrder[off] = order
		off += uintptr(1) << uint(order)
	}
	return v
}

func orderFor(pages uintptr) int {
	order := 0
	for (uintptr(1) << uint(order)) < pages {
		order++
	}
	return order
}

// allocate reserves a contiguous run of at least pageCount pages aligned
// to 2^alignmentPower pages, returning the base virtual page index.
func (v *vrange) allocate(pageCount uintptr, alignmentPower uint) (uintptr, errs.Status) {
	order := orderFor(pageCount)
	if uintptr(alignmentPower) > uintptr(order) {
		order = int(alignmentPower)
	}
	for o := order; o <= vrangeMaxOrder; o++ {
		if len(v.free[o]) == 0 {
			continue
		}
		n := len(v.free[o])
		block := v.free[o][n-1]
		v.free[o] = v.free[o][:n-1]
		delete(v.blockOrder, block)
		for o > order {
			o--
			buddy := block + (uintptr(1) << uint(o))
			v.free[o] = append(v.free[o], buddy)
			v.blockOrder[buddy] = o
		}
		v.blockOrder[block] = order
		return v.base + block, errs.Ok
	}
	return 0, errs.TooBig
}

// release returns a previously allocated block to the free lists,
// coalescing with its buddy where possible.
func (v *vrange) release(vaPageIdx uintptr, pageCount uintptr) {
	block := vaPageIdx - v.base
	order := orderFor(pageCount)
	for order < vrangeMaxOrder {
		buddy := block ^ (uintptr(1) << uint(order))
		idx := -1
		for i, b := range v.free[order] {
			if b == buddy {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		v.free[order] = append(v.free[order][:idx], v.free[order][idx+1:]...)
		if buddy < block {
			block = buddy
		}
		order++
	}
	v.free[order] = append(v.free[order], block)
	v.blockOrder[block] = order
}
