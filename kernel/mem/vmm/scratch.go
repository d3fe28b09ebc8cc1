package vmm

import (
	"unsafe"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
)

// tempMappingPTEAddr is the address of the page table entry for
// TempMappingAddr as seen through the recursive window of the active
// directory (0xffffeffc).
const tempMappingPTEAddr = recursiveWindowAddr + (TempMappingAddr>>pteShift)<<2

var (
	// ptePtrFn returns a pointer to the supplied entry address. It is
	// used by tests to override the generated page table entry pointers
	// so they point into memory owned by the test.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// Scratch makes a physical frame addressable by the kernel. Only a single
// frame may be mapped at any time; Map must be paired with Unmap before the
// next Map.
type Scratch interface {
	// Map returns a kernel virtual address through which the contents
	// of frame can be read and written.
	Map(frame pmm.Frame) (uintptr, *kernel.Error)

	// Unmap removes the mapping returned by Map.
	Unmap(addr uintptr)
}

// RecursiveScratch implements Scratch on the target by pointing the reserved
// TempMappingAddr page at the requested frame. The entry is reached through
// the recursive directory entry so the active directory does not have to be
// mapped anywhere else.
type RecursiveScratch struct {
	busy bool
}

// Map implements Scratch.
func (s *RecursiveScratch) Map(frame pmm.Frame) (uintptr, *kernel.Error) {
	if s.busy {
		return 0, errTempMappingBusy
	}

	pte := (*pageTableEntry)(ptePtrFn(tempMappingPTEAddr))
	*pte = makeEntry(frame, FlagPresent|FlagRW)
	flushTLBEntryFn(TempMappingAddr)
	s.busy = true

	return TempMappingAddr, nil
}

// Unmap implements Scratch.
func (s *RecursiveScratch) Unmap(addr uintptr) {
	if !s.busy || addr != TempMappingAddr {
		return
	}

	pte := (*pageTableEntry)(ptePtrFn(tempMappingPTEAddr))
	*pte = 0
	flushTLBEntryFn(TempMappingAddr)
	s.busy = false
}
