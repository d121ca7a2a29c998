package fproc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/fproc"
	"github.com/anillo-os/anillo-os-sub007/internal/fthread"
	"github.com/anillo-os/anillo-os-sub007/internal/pmm"
	"github.com/anillo-os/anillo-os-sub007/internal/vmm"
)

type noopManager struct{}

func (noopManager) Resume(t *fthread.Thread)  {}
func (noopManager) Suspend(t *fthread.Thread) {}

type fakeDescriptor struct {
	retains, releases int
}

func (d *fakeDescriptor) Retain()  { d.retains++ }
func (d *fakeDescriptor) Release() { d.releases++ }

func newProcess() *fproc.Process {
	p := pmm.New([]pmm.Region{{Base: 0, PageCount: 16}})
	space := vmm.NewSpace(p, nil, 1<<20)
	return fproc.New(space)
}

func TestInstallLookupUninstall(t *testing.T) {
	proc := newProcess()
	d := &fakeDescriptor{}

	id := proc.Install(d)
	require.Equal(t, 1, d.retains)

	got, status := proc.Lookup(id)
	require.Equal(t, errs.Ok, status)
	require.Same(t, d, got)

	require.Equal(t, errs.Ok, proc.Uninstall(id))
	require.Equal(t, 1, d.releases)

	_, status = proc.Lookup(id)
	require.Equal(t, errs.NoSuchResource, status)
}

func TestKillTerminatesThreadsAndReleasesDescriptors(t *testing.T) {
	proc := newProcess()
	th := fthread.New(1, noopManager{})
	proc.AttachThread(th)

	d := &fakeDescriptor{}
	proc.Install(d)

	require.Equal(t, errs.Ok, proc.Kill())
	require.True(t, th.DiePending())
	require.Equal(t, 1, d.releases)

	require.Equal(t, errs.AlreadyInProgress, proc.Kill())
}

func TestDetachClearsBackpointerWithoutKilling(t *testing.T) {
	proc := newProcess()
	th := fthread.New(1, noopManager{})
	proc.AttachThread(th)

	proc.Detach()
	require.Nil(t, th.Process)
	require.False(t, th.DiePending())
	require.False(t, proc.Killed())
}

func TestThreadsSnapshotIsIndependent(t *testing.T) {
	proc := newProcess()
	proc.AttachThread(fthread.New(1, noopManager{}))
	snap := proc.Threads()
	proc.AttachThread(fthread.New(2, noopManager{}))

	require.Len(t, snap, 1)
	require.Len(t, proc.Threads(), 2)
}
