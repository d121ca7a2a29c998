package vmm

import "github.com/anillo-os/anillo-os-sub007/internal/pmm"

// EarlyTranslator is a boot-phase-only capability for resolving
// virtual-to-physical translations before the space lock is safe to rely
// on for exclusion — specifically, before any CPU beyond the one running
// Handoff processing could possibly touch the space. It is obtained once
// from a fresh Space and goes stale the moment Space.ActivateSMP runs.
type EarlyTranslator struct {
	space *Space
}

// NewEarlyTranslator wraps space for lock-free early lookups. Callers
// must not retain the value past the point they bring up a second CPU.
func NewEarlyTranslator(space *Space) *EarlyTranslator {
	return &EarlyTranslator{space: space}
}

// Translate resolves va's backing frame directly against the entry
// table, skipping the space lock a concurrent CPU would otherwise need
// to contend for. It panics if the space has since been activated for
// SMP — the single-CPU assumption this type depends on no longer holds,
// and a caller still using it at that point has a bug, not a race to
// paper over.
func (e *EarlyTranslator) Translate(va uintptr) (pmm.Frame, bool) {
	if e.space.smpActive.Load() {
		panic("vmm: EarlyTranslator used after ActivateSMP")
	}
	idx := pageIndex(va)
	ent, ok := e.space.entries[idx]
	if !ok || ent.mapping != nil || ent.flags&FlagInactive != 0 {
		return 0, false
	}
	return ent.frame, true
}
