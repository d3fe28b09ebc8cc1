package proc

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
)

// ArenaPolicy selects how the kernel stack arena hands out windows.
type ArenaPolicy uint8

const (
	// ArenaRecycle keeps released windows on a free list and reuses them
	// before growing the arena.
	ArenaRecycle ArenaPolicy = iota

	// ArenaBump never reuses the window of a destroyed process. Only a
	// reservation that failed before its window was used is rolled back.
	ArenaBump
)

var arenaPolicyNames = [...]string{
	ArenaRecycle: "recycle",
	ArenaBump:    "bump",
}

// String implements fmt.Stringer.
func (p ArenaPolicy) String() string {
	if int(p) < len(arenaPolicyNames) {
		return arenaPolicyNames[p]
	}
	return "unknown"
}

// ParseArenaPolicy converts the output of ArenaPolicy.String back into a
// policy.
func ParseArenaPolicy(name string) (ArenaPolicy, *kernel.Error) {
	for policy, policyName := range arenaPolicyNames {
		if policyName == name {
			return ArenaPolicy(policy), nil
		}
	}
	return 0, errUnknownArenaPolicy
}

// Config holds the layout constants used when building processes.
type Config struct {
	// KernelBase is the first virtual address of the kernel half. It must
	// be aligned to a page directory entry (4 MiB).
	KernelBase uintptr

	// KernelStackSize is the size of each per-process kernel stack.
	KernelStackSize mem.Size

	// StackArenaStart and StackArenaEnd bound the kernel virtual range
	// that kernel stacks are mapped into.
	StackArenaStart uintptr
	StackArenaEnd   uintptr

	StackArenaPolicy ArenaPolicy

	// UserStackBottom and UserStackTop bound the user stack VMA. Only the
	// page right below UserStackTop is populated at creation time.
	UserStackBottom uintptr
	UserStackTop    uintptr

	// MaxProcesses caps the number of live processes.
	MaxProcesses int
}

// DefaultConfig returns the layout used by the kernel.
func DefaultConfig() Config {
	return Config{
		KernelBase:       0xc0000000,
		KernelStackSize:  16 * mem.Kb,
		StackArenaStart:  0xe0000000,
		StackArenaEnd:    0xf0000000,
		StackArenaPolicy: ArenaRecycle,
		UserStackBottom:  0xbfeff000,
		UserStackTop:     0xbffff000,
		MaxProcesses:     64,
	}
}

// Validate checks that the configuration describes a usable layout.
func (c Config) Validate() *kernel.Error {
	const pdeSpan = uintptr(4 * mem.Mb)

	switch {
	case c.KernelBase == 0 || c.KernelBase&(pdeSpan-1) != 0:
		return errConfigKernelBase
	case !c.KernelStackSize.IsPageMultiple():
		return errKernelStackSize
	case !mem.IsPageAligned(c.StackArenaStart) || !mem.IsPageAligned(c.StackArenaEnd),
		c.StackArenaStart < c.KernelBase,
		c.StackArenaEnd <= c.StackArenaStart,
		uint64(c.StackArenaEnd-c.StackArenaStart) < uint64(c.KernelStackSize):
		return errConfigStackArena
	case c.StackArenaPolicy.String() == "unknown":
		return errUnknownArenaPolicy
	case !mem.IsPageAligned(c.UserStackBottom) || !mem.IsPageAligned(c.UserStackTop),
		c.UserStackTop <= c.UserStackBottom,
		c.UserStackTop > c.KernelBase:
		return errConfigUserStack
	case c.MaxProcesses <= 0:
		return errConfigMaxProcesses
	}

	return nil
}
