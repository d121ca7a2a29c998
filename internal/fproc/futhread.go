package fproc

import (
	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/fthread"
)

// SyscallArgs is the positional-argument view of a trapped syscall,
// standing in for the up-to-six ABI argument registers (rdi, rsi, rdx,
// r10, r8, r9 on x86_64; the equivalent general-purpose registers on
// aarch64). Dispatch moves them into positional call arguments per the
// architecture's calling convention.
type SyscallArgs [6]uint64

// Handler implements one syscall number's behavior. It receives the
// owning process and thread implicitly via the Dispatcher that invoked
// it, plus the raw argument registers, and returns a status to write
// into the ABI return register.
type Handler func(p *Process, t *fthread.Thread, args SyscallArgs) errs.Status

// notFoundHandler is table index 0.
func notFoundHandler(p *Process, t *fthread.Thread, args SyscallArgs) errs.Status {
	return errs.NoSuchResource
}

// Table is a per-architecture syscall table indexed by syscall number.
type Table struct {
	handlers []Handler
}

// NewTable creates a syscall table of the given size; every slot starts
// as the not-found handler until Set installs a real one.
func NewTable(size int) *Table {
	t := &Table{handlers: make([]Handler, size)}
	for i := range t.handlers {
		t.handlers[i] = notFoundHandler
	}
	return t
}

// Set installs handler at syscall number num.
func (t *Table) Set(num int, h Handler) {
	t.handlers[num] = h
}

// UserThreadData is the attached user-mode context a kernel thread
// carries once registered via Register.
type UserThreadData struct {
	Process           *Process
	Table             *Table
	UserStack         uintptr
	EntryPoint        uintptr
	savedArgRegisters SyscallArgs
}

// Register installs user context on t, associating it with process p
// and syscall table table; the first return to user mode would jump to
// entryPoint with userStack as the stack pointer. The hosted model has
// no actual "return to user" trampoline — Dispatch below is the entry
// point a trap handler would call instead.
func Register(t *fthread.Thread, p *Process, table *Table, userStack, entryPoint uintptr) *UserThreadData {
	u := &UserThreadData{Process: p, Table: table, UserStack: userStack, EntryPoint: entryPoint}
	p.AttachThread(t)
	return u
}

// Dispatch implements the per-architecture trap entry's dispatcher: look
// up num in the table (falling back to the not-found handler for an
// out-of-range number, same as slot 0), invoke it with the given thread
// and args, and return its status — standing in for writing the status
// into the ABI return register and restoring user context, which the
// hosted model has no actual trap frame to do.
func (u *UserThreadData) Dispatch(t *fthread.Thread, num int, args SyscallArgs) errs.Status {
	if num < 0 || num >= len(u.Table.handlers) {
		return notFoundHandler(u.Process, t, args)
	}
	u.savedArgRegisters = args
	return u.Table.handlers[num](u.Process, t, args)
}
