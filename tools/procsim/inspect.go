package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/Blodus/2025-ikt218-osdev/kernel/proc"
	"github.com/google/subcommands"
)

// inspectCmd validates an executable and lists its loadable segments without
// booting a machine.
type inspectCmd struct {
	kernelBase uint64
}

// Name implements subcommands.Command.
func (*inspectCmd) Name() string { return "inspect" }

// Synopsis implements subcommands.Command.
func (*inspectCmd) Synopsis() string { return "validate an executable and list its segments" }

// Usage implements subcommands.Command.
func (*inspectCmd) Usage() string { return "inspect [-kernel-base addr] <elf>\n" }

// SetFlags implements subcommands.Command.
func (c *inspectCmd) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&c.kernelBase, "kernel-base", uint64(proc.DefaultConfig().KernelBase), "first kernel virtual address")
}

// Execute implements subcommands.Command.
func (c *inspectCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	log := loggerFrom(args)
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	data, err := os.ReadFile(f.Arg(0))
	if err != nil {
		log.WithError(err).Error("reading executable")
		return subcommands.ExitFailure
	}

	img, kerr := proc.InspectImage(data, uintptr(c.kernelBase))
	if kerr != nil {
		log.WithError(kerr).WithField("kind", kerr.Kind.String()).Error("invalid executable")
		return subcommands.ExitFailure
	}

	printImage(os.Stdout, img)
	return subcommands.ExitSuccess
}

func printImage(w io.Writer, img *proc.Image) {
	fmt.Fprintf(w, "entry: 0x%08x\n", img.Entry)
	fmt.Fprintf(w, "program headers: %d (%d loadable)\n\n", img.Header.Phnum, len(img.Segments))

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "VADDR\tMEMSZ\tFILESZ\tOFFSET\tFLAGS\tPAGES")
	for _, seg := range img.Segments {
		start, end := seg.Cover()
		fmt.Fprintf(tw, "0x%08x\t0x%x\t0x%x\t0x%x\t%s\t[0x%08x, 0x%08x)\n",
			seg.VirtAddr, seg.MemSize, seg.FileSize, seg.Offset, seg.FlagString(), start, end)
	}
	_ = tw.Flush()
}
