// Package boot implements the boot handoff data model: a tagged array of
// entries passed into the kernel before any subsystem is up, describing
// memory regions, the kernel image, and optional peripherals. Only
// memory-map and kernel-image entries are required.
package boot

import (
	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/pmm"
)

// EntryTag identifies the kind of data one Handoff entry carries.
type EntryTag int

const (
	TagMemoryMap EntryTag = iota
	TagKernelImage
	TagEarlyPool
	TagFramebuffer
	TagACPIRSDP
	TagRamdisk
	TagConfigBlob
)

// MemoryMapEntry describes one physical region from the boot memory map.
type MemoryMapEntry struct {
	Base      uintptr
	PageCount int
	Usable    bool
}

// KernelImageInfo describes where the kernel's own segments were loaded.
type KernelImageInfo struct {
	PhysicalBase uintptr
	VirtualBase  uintptr
	SegmentPages int
}

// FramebufferInfo is carried through untouched — this kernel drives no
// display hardware, but the handoff slot still exists so a real
// bootstrap's data passes through unmodified.
type FramebufferInfo struct {
	PhysicalBase uintptr
	Width        int
	Height       int
	PitchBytes   int
}

// Entry is one tagged handoff record; exactly one of the typed fields is
// meaningful, selected by Tag.
type Entry struct {
	Tag EntryTag

	MemoryMap    *MemoryMapEntry
	KernelImage  *KernelImageInfo
	EarlyPool    *MemoryMapEntry
	Framebuffer  *FramebufferInfo
	ACPIRSDP     uintptr
	RamdiskBytes []byte
	ConfigBlob   []byte
}

// Handoff is the full tagged array passed into the kernel.
type Handoff []Entry

// MemoryMap returns every memory-map entry in the handoff.
func (h Handoff) MemoryMap() []MemoryMapEntry {
	var out []MemoryMapEntry
	for _, e := range h {
		if e.Tag == TagMemoryMap && e.MemoryMap != nil {
			out = append(out, *e.MemoryMap)
		}
	}
	return out
}

// KernelImage returns the kernel-image entry, if present.
func (h Handoff) KernelImage() (KernelImageInfo, bool) {
	for _, e := range h {
		if e.Tag == TagKernelImage && e.KernelImage != nil {
			return *e.KernelImage, true
		}
	}
	return KernelImageInfo{}, false
}

// EarlyPool returns the pre-PMM early allocation pool entry, if present.
func (h Handoff) EarlyPool() (MemoryMapEntry, bool) {
	for _, e := range h {
		if e.Tag == TagEarlyPool && e.EarlyPool != nil {
			return *e.EarlyPool, true
		}
	}
	return MemoryMapEntry{}, false
}

// Validate reports InvalidArgument unless the handoff carries at least
// one memory-map entry (of any type) and a kernel-image entry; every
// other entry kind is optional.
func (h Handoff) Validate() errs.Status {
	if len(h.MemoryMap()) == 0 {
		return errs.InvalidArgument
	}
	if _, ok := h.KernelImage(); !ok {
		return errs.InvalidArgument
	}
	return errs.Ok
}

// Regions converts the handoff's usable memory-map entries into the
// pmm.Region slice PMM initialization expects, wiring this package
// directly into the bring-up path PMM sits at the bottom of.
// MemoryMapEntry.Base is a physical byte address (as the boot memory map
// reports it); pmm.Frame is a page index, so every entry's base is
// divided down to a page index here rather than handed across raw — the
// one boundary conversion this package is responsible for.
func (h Handoff) Regions() []pmm.Region {
	var out []pmm.Region
	for _, e := range h.MemoryMap() {
		if !e.Usable {
			continue
		}
		out = append(out, pmm.Region{Base: pmm.Frame(e.Base / pmm.PageSize), PageCount: e.PageCount})
	}
	return out
}
