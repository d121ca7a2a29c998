package vmm

import (
	"github.com/anillo-os/anillo-os-sub007/internal/boot"
	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/pmm"
)

// MapFramebuffer maps a boot handoff's linear framebuffer into space as
// an uncached, user-writable MapPhysical range sized to cover every row
// the handoff reports, and returns the VA the framebuffer starts at. This
// is the real caller map_physical exists for: device memory a driver
// needs addressable in a process, as opposed to PMM-backed pages a space
// already owns.
func (s *Space) MapFramebuffer(fb boot.FramebufferInfo) (uintptr, errs.Status) {
	byteLen := fb.PitchBytes * fb.Height
	pageCount := (byteLen + PageSize - 1) / PageSize
	if pageCount == 0 {
		return 0, errs.InvalidArgument
	}
	phys := pmm.Frame(fb.PhysicalBase / PageSize)
	return s.MapPhysical(phys, pageCount, FlagWritable|FlagUser|FlagNoCache)
}
