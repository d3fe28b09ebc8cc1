package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Blodus/2025-ikt218-osdev/kernel/proc"
	"github.com/google/subcommands"
)

// runCmd creates a single process on a simulated machine, prints its layout
// and tears it down again.
type runCmd struct {
	config    string
	dumpTrace bool
}

// Name implements subcommands.Command.
func (*runCmd) Name() string { return "run" }

// Synopsis implements subcommands.Command.
func (*runCmd) Synopsis() string { return "create and destroy a process on a simulated machine" }

// Usage implements subcommands.Command.
func (*runCmd) Usage() string { return "run [-config machine.toml] [-trace] <elf>\n" }

// SetFlags implements subcommands.Command.
func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "config", "", "TOML machine description")
	f.BoolVar(&c.dumpTrace, "trace", false, "print the kernel trace buffer after teardown")
}

// Execute implements subcommands.Command.
func (c *runCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	log := loggerFrom(args)
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	s, err := newSession(c.config, f.Arg(0), log)
	if err != nil {
		log.WithError(err).Error("booting machine")
		return subcommands.ExitFailure
	}
	defer s.close()

	if err := s.runOnce(os.Stdout); err != nil {
		log.WithError(err).Error("run failed")
		return subcommands.ExitFailure
	}

	if c.dumpTrace {
		fmt.Println()
		_, _ = io.Copy(os.Stdout, s.ring)
	}
	return subcommands.ExitSuccess
}

// runOnce creates the session executable, reports its layout to w and
// destroys it. It fails if any frame is not returned.
func (s *session) runOnce(w io.Writer) error {
	baseline := s.machine.Frames.FreeCount()

	p, kerr := s.mgr.Create(s.path)
	if kerr != nil {
		return fmt.Errorf("creating %s: %w (%s)", s.path, kerr, kerr.Kind)
	}

	if err := s.printProcess(w, p); err != nil {
		s.mgr.Destroy(p)
		return err
	}

	s.mgr.Destroy(p)
	if got := s.machine.Frames.FreeCount(); got != baseline {
		return fmt.Errorf("frame leak: %d frames free after teardown, %d before", got, baseline)
	}

	fmt.Fprintf(w, "\ndestroyed pid %d, %d frames free\n", p.PID, baseline)
	return nil
}

func (s *session) printProcess(w io.Writer, p *proc.Process) error {
	fmt.Fprintf(w, "pid:           %d\n", p.PID)
	fmt.Fprintf(w, "path:          %s\n", p.Path)
	fmt.Fprintf(w, "page dir:      0x%08x\n", p.PageDirectory.Address())
	fmt.Fprintf(w, "entry:         0x%08x\n", p.EntryPoint)
	fmt.Fprintf(w, "brk:           0x%08x\n", p.AddressSpace.BrkStart)
	fmt.Fprintf(w, "kernel stack:  0x%08x (phys 0x%08x)\n", p.KernelStackTop, p.KernelStackPhysBase)
	fmt.Fprintf(w, "kernel esp:    0x%08x\n", p.KernelESPForSwitch)
	fmt.Fprintf(w, "user stack:    0x%08x\n", p.UserStackTop)
	fmt.Fprintf(w, "tss esp0:      0x%08x\n\nVMAs:\n", s.machine.TSS.KernelStack())

	for _, vma := range p.AddressSpace.VMAs() {
		fmt.Fprintf(w, "  [0x%08x, 0x%08x) %s prot=0x%03x\n", vma.Start, vma.End, vma.Flags, uint32(vma.Prot))
	}

	frame, kerr := proc.ReadEntryFrame(s.machine.Paging, p.KernelESPForSwitch)
	if kerr != nil {
		return fmt.Errorf("reading entry frame: %w", kerr)
	}

	fmt.Fprintln(w, "\nentry frame:")
	frame.DumpTo(w)
	return nil
}
