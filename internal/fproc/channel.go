package fproc

import (
	"sync/atomic"

	"github.com/anillo-os/anillo-os-sub007/internal/fchannel"
)

// ChannelDescriptor adapts one fchannel.Channel half-end to the
// Descriptor interface so Process.Install can hold it in the descriptor
// table; the half-end closes once the last descriptor-table reference
// (and any extra Retain a syscall handler took out mid-call) drops.
type ChannelDescriptor struct {
	Channel *fchannel.Channel
	refs    atomic.Int32
}

// NewChannelDescriptor wraps ch with one reference already held by the
// caller (mirroring fthread.New/vmm.NewSpace's "caller owns the first
// ref" convention).
func NewChannelDescriptor(ch *fchannel.Channel) *ChannelDescriptor {
	d := &ChannelDescriptor{Channel: ch}
	d.refs.Store(1)
	return d
}

func (d *ChannelDescriptor) Retain() { d.refs.Add(1) }

func (d *ChannelDescriptor) Release() {
	if d.refs.Add(-1) == 0 {
		d.Channel.Close()
	}
}
