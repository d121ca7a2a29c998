// Package fproc implements processes: address-space ownership, a dense
// descriptor table, thread attachment, and the userspace syscall ABI
// boundary (see futhread.go).
//
// Kill vs. Detach. Kill is unconditional and asynchronous: every attached
// thread is marked to die, every installed descriptor is released, and
// the call is idempotent — a second Kill on an already-killed process is
// a no-op reporting AlreadyInProgress. Detach is weaker and does not
// terminate anything; it severs the caller's own visibility into the
// process (clearing each attached thread's backpointer) the way a
// supervisor gives up ownership of a child it no longer wants to track,
// without killing it. A detached process keeps running until its own
// threads exit or some other holder calls Kill on it.
package fproc
