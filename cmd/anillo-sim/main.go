// Command anillo-sim is the hosted boot harness: it assembles a boot
// handoff, brings up the frame allocator, a CPU set, the scheduler and
// worker pool, attaches a couple of demo processes/threads over a
// channel, and runs until interrupted. There is no bare-metal bring-up
// here — this is the goroutine-hosted backend every internal/* package
// is written against.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/anillo-os/anillo-os-sub007/internal/archx"
	"github.com/anillo-os/anillo-os-sub007/internal/boot"
	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/fchannel"
	"github.com/anillo-os/anillo-os-sub007/internal/fproc"
	"github.com/anillo-os/anillo-os-sub007/internal/fsched"
	"github.com/anillo-os/anillo-os-sub007/internal/fthread"
	"github.com/anillo-os/anillo-os-sub007/internal/pmm"
	"github.com/anillo-os/anillo-os-sub007/internal/timer"
	"github.com/anillo-os/anillo-os-sub007/internal/vmm"
	"github.com/anillo-os/anillo-os-sub007/internal/worker"
)

// hostCPUCount asks the OS affinity mask for the real core count the host
// offers, used as the default simulated CPU count when -cpus is not
// given explicitly.
func hostCPUCount() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return runtime.NumCPU()
	}
	return set.Count()
}

func main() {
	var (
		cpuCount  = pflag.IntP("cpus", "c", hostCPUCount(), "number of simulated CPUs")
		poolPages = pflag.IntP("pool-pages", "m", 65536, "physical frame pool size, in pages")
		arch      = pflag.StringP("arch", "a", "x86_64", "architecture personality (x86_64, aarch64)")
		scenario  = pflag.StringP("scenario", "s", "ping-pong", "demo scenario to run (ping-pong, syscall-demo, noop)")
		logPretty = pflag.Bool("pretty", true, "use zerolog's human-readable console writer instead of JSON")
		verbose   = pflag.BoolP("verbose", "v", false, "enable debug-level logging")
	)
	pflag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if *logPretty {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		log = zerolog.New(writer).With().Timestamp().Logger()
	}
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	personality := archx.ArchX86_64
	if *arch == "aarch64" {
		personality = archx.ArchAArch64
	}

	log.Info().
		Int("cpus", *cpuCount).
		Int("pool_pages", *poolPages).
		Str("arch", personality.String()).
		Str("scenario", *scenario).
		Msg("anillo-sim booting")

	handoff := syntheticHandoff(*poolPages)
	if status := handoff.Validate(); status != errs.Ok {
		log.Fatal().Str("status", status.String()).Msg("boot handoff failed validation")
	}

	frames := pmm.New(handoff.Regions())
	if early, ok := handoff.EarlyPool(); ok {
		if status := frames.ReservePool(early.PageCount); status != errs.Ok {
			log.Fatal().Str("status", status.String()).Msg("failed to reserve early allocation pool")
		}
	}
	image, _ := handoff.KernelImage()
	log.Debug().
		Uint64("phys_base", uint64(image.PhysicalBase)).
		Uint64("virt_base", uint64(image.VirtualBase)).
		Msg("kernel image located")

	bus := archx.NewBus()
	cpus := make([]*archx.CPU, *cpuCount)
	stop := make(chan struct{})
	for i := range cpus {
		cpus[i] = archx.NewCPU(i, personality, bus)
		inbox, ack := bus.Attach()
		go archx.Serve(inbox, ack, stop)
	}

	sched := fsched.New(*cpuCount)
	pool := worker.NewPool(*cpuCount)
	defer pool.Stop()

	if err := runScenario(log, *scenario, frames, bus, sched); err != nil {
		log.Fatal().Err(err).Msg("scenario failed")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log.Info().Msg("anillo-sim running, press ctrl-c to stop")
	<-ctx.Done()
	close(stop)
	log.Info().Msg("anillo-sim shut down")
}

// syntheticHandoff builds a plausible boot handoff for the hosted model:
// one usable memory-map region sized to poolPages, an early pool carved
// out of its front, and a kernel-image entry describing nothing in
// particular (there is no real ELF image loaded in this harness).
func syntheticHandoff(poolPages int) boot.Handoff {
	const earlyPages = 256
	return boot.Handoff{
		{
			Tag: boot.TagMemoryMap,
			MemoryMap: &boot.MemoryMapEntry{
				Base:      0,
				PageCount: poolPages,
				Usable:    true,
			},
		},
		{
			Tag: boot.TagEarlyPool,
			EarlyPool: &boot.MemoryMapEntry{
				Base:      0,
				PageCount: earlyPages,
				Usable:    true,
			},
		},
		{
			Tag: boot.TagKernelImage,
			KernelImage: &boot.KernelImageInfo{
				PhysicalBase: 0x100000,
				VirtualBase:  0xffffffff80000000,
				SegmentPages: 64,
			},
		},
	}
}

// runScenario exercises the process/channel/thread machinery for one of
// the built-in demo scenarios, logging along the way. It returns once the
// scenario's own threads have finished.
func runScenario(log zerolog.Logger, name string, frames *pmm.PMM, bus *archx.Bus, sched *fsched.Scheduler) error {
	switch name {
	case "noop":
		log.Info().Msg("noop scenario: nothing to do")
		return nil
	case "ping-pong":
		return runPingPong(log, frames, bus, sched)
	case "syscall-demo":
		return runSyscallDemo(log, frames, bus, sched)
	default:
		return fmt.Errorf("unknown scenario %q", name)
	}
}

// runPingPong spins up two processes joined by a channel pair and has
// them trade a handful of messages, demonstrating fchannel/fproc/fthread
// wired together end to end.
func runPingPong(log zerolog.Logger, frames *pmm.PMM, bus *archx.Bus, sched *fsched.Scheduler) error {
	const userMaxPages = 1 << 20

	spaceA := vmm.NewSpace(frames, bus, userMaxPages)
	spaceB := vmm.NewSpace(frames, bus, userMaxPages)
	procA := fproc.New(spaceA)
	procB := fproc.New(spaceB)

	chA, chB := fchannel.NewPair()

	// Receive never blocks, so each side yields until a message arrives
	// or the peer goes away.
	recv := func(ch *fchannel.Channel) (*fchannel.Message, errs.Status) {
		for {
			msg, status := ch.Receive()
			if status != errs.NoWait {
				return msg, status
			}
			runtime.Gosched()
		}
	}

	done := make(chan struct{})
	threadA := fthread.New(1, sched)
	threadB := fthread.New(2, sched)
	procA.AttachThread(threadA)
	procB.AttachThread(threadB)

	go func() {
		for i := 0; i < 5; i++ {
			msg := &fchannel.Message{Body: []byte(fmt.Sprintf("ping-%d", i))}
			if status := chA.Send(msg, false); status != errs.Ok {
				log.Error().Str("status", status.String()).Msg("ping send failed")
				return
			}
			reply, status := recv(chA)
			if status != errs.Ok {
				log.Error().Str("status", status.String()).Msg("ping receive failed")
				return
			}
			log.Debug().Str("body", string(reply.Body)).Msg("ping got reply")
		}
		chA.Close()
	}()

	go func() {
		for i := 0; i < 5; i++ {
			msg, status := recv(chB)
			if status != errs.Ok {
				break
			}
			reply := &fchannel.Message{Body: []byte(fmt.Sprintf("pong-%s", msg.Body))}
			chB.Send(reply, false)
		}
		chB.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("ping-pong scenario timed out")
	}

	log.Info().Msg("ping-pong scenario complete")
	procA.Kill()
	procB.Kill()
	return nil
}

// runSyscallDemo is the scenario that drives channel messaging, monitor
// readiness, and a futex timeout entirely through the syscall dispatch
// boundary (fproc.Table/Dispatch) instead of calling fchannel/futex
// directly, with a real timer.Queue driven by a ticking goroutine
// backing the timeout. ping-pong above shows fchannel/fthread/fproc
// wired directly; this scenario shows the same machinery reached the way
// a trapped syscall would reach it.
func runSyscallDemo(log zerolog.Logger, frames *pmm.PMM, bus *archx.Bus, sched *fsched.Scheduler) error {
	const userMaxPages = 1 << 20

	space := vmm.NewSpace(frames, bus, userMaxPages)
	proc := fproc.New(space)

	timers := timer.New(archx.SystemClock{})
	stopTimers := make(chan struct{})
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				timers.Fire()
			case <-stopTimers:
				return
			}
		}
	}()
	defer close(stopTimers)

	table := fproc.NewTable(8)
	fproc.InstallCoreSyscalls(table, timers)

	thread := fthread.New(1, sched)
	u := fproc.Register(thread, proc, table, 0, 0)

	client, server := fchannel.NewPair()
	descClient := proc.Install(fproc.NewChannelDescriptor(client))
	descServer := proc.Install(fproc.NewChannelDescriptor(server))
	proc.Monitor.NewChannelItem(server, true)

	status := u.Dispatch(thread, fproc.SyscallChannelSend, fproc.SyscallArgs{uint64(descClient), 0x2a, 0})
	if status != errs.Ok {
		return fmt.Errorf("syscall channel send failed: %s", status)
	}

	status = u.Dispatch(thread, fproc.SyscallMonitorPoll, fproc.SyscallArgs{uint64(time.Second.Nanoseconds())})
	if status != errs.Ok {
		return fmt.Errorf("syscall monitor poll failed: %s", status)
	}
	log.Info().Uint64("item_id", proc.LastEvent().ItemID).Msg("monitor observed channel arrival dispatched as a syscall")

	status = u.Dispatch(thread, fproc.SyscallChannelReceive, fproc.SyscallArgs{uint64(descServer)})
	if status != errs.Ok {
		return fmt.Errorf("syscall channel receive failed: %s", status)
	}
	log.Info().Bytes("body", proc.LastReceived().Body).Msg("received message dispatched as a syscall")

	status = u.Dispatch(thread, fproc.SyscallFutexWaitTimeout, fproc.SyscallArgs{0x9000, 0, 0, uint64(20 * time.Millisecond)})
	if status != errs.TimedOut {
		return fmt.Errorf("expected futex wait-timeout syscall to time out, got %s", status)
	}
	log.Info().Msg("futex wait-timeout syscall timed out through the timer subsystem")

	proc.Kill()
	log.Info().Msg("syscall-demo scenario complete")
	return nil
}
