package proc

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
)

// FileReader loads whole files into memory.
type FileReader interface {
	ReadFile(path string) ([]byte, *kernel.Error)
}

// KernelMemory gives access to kernel virtual memory that is not necessarily
// mapped in the active address space.
type KernelMemory interface {
	KernelDirectory() pmm.Frame
	Translate(dir pmm.Frame, virtAddr uintptr) (uintptr, *kernel.Error)
	MapTemporary(frame pmm.Frame) (uintptr, *kernel.Error)
	UnmapTemporary(addr uintptr)
}

// Paging is the set of paging primitives used to build and tear down
// address spaces. *vmm.Paging implements it.
type Paging interface {
	KernelMemory

	NXSupported() bool
	CopyKernelEntries(dirAddr uintptr)
	Map(dir pmm.Frame, virtAddr uintptr, frame pmm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error
	UnmapRange(dir pmm.Frame, virtAddr uintptr, length mem.Size)
	ReleaseRange(dir pmm.Frame, start, end uintptr) int
	ReleaseTables(dir pmm.Frame) int
	Deactivate(dir pmm.Frame)
}

// Scheduler reports which process is currently running.
type Scheduler interface {
	CurrentPID() (PID, bool)
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func() (PID, bool)

// CurrentPID implements Scheduler.
func (fn SchedulerFunc) CurrentPID() (PID, bool) { return fn() }

// PrivilegedStack installs the stack used on ring 3 to ring 0 transitions.
// *gate.TaskState implements it.
type PrivilegedStack interface {
	SetKernelStack(top uintptr)
}
