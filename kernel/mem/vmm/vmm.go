// Package vmm implements i386 two-level paging: page directory and page table
// manipulation for any address space, a temporary mapping slot for reaching
// frames that are not mapped in the active address space, and teardown helpers
// that return page-table-owned frames to the frame allocator.
package vmm

import "github.com/Blodus/2025-ikt218-osdev/kernel"

const (
	// entriesPerTable is the number of 32-bit entries in a page directory
	// or page table.
	entriesPerTable = 1024

	// pdeShift is the shift that extracts the page directory index from a
	// virtual address.
	pdeShift = 22

	// pteShift is the shift that extracts the page table index from a
	// virtual address.
	pteShift = 12

	// tableSpan is the amount of virtual memory covered by one page table.
	tableSpan = uintptr(1) << pdeShift

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. On i386 without PAE, bits
	// 12-31 contain the physical memory address.
	ptePhysPageMask = uint32(0xfffff000)

	// RecursiveIndex is the page directory entry that points back to the
	// directory itself.
	RecursiveIndex = entriesPerTable - 1

	// TempMappingAddr is a reserved virtual page address used for
	// temporary physical page mappings (e.g. when initializing inactive
	// page directories). It uses directory index 1022 and table index 1023.
	TempMappingAddr = uintptr(0xffbff000)

	// recursiveWindowAddr is where the recursive entry exposes every page
	// table of the active directory as one contiguous 4 MiB window.
	recursiveWindowAddr = uintptr(RecursiveIndex) << pdeShift
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page", Kind: kernel.KindMappingFailure}

	errAlreadyMapped       = &kernel.Error{Module: "vmm", Message: "virtual page is already mapped", Kind: kernel.KindMappingFailure}
	errReservedAddress     = &kernel.Error{Module: "vmm", Message: "virtual address is reserved by the paging code", Kind: kernel.KindMappingFailure}
	errKernelTableMissing  = &kernel.Error{Module: "vmm", Message: "kernel page tables must be allocated when the kernel directory is set up", Kind: kernel.KindMappingFailure}
	errTempMappingBusy     = &kernel.Error{Module: "vmm", Message: "temporary mapping slot is in use", Kind: kernel.KindMappingFailure}
	errKernelDirNotReady   = &kernel.Error{Module: "vmm", Message: "kernel page directory has not been initialized", Kind: kernel.KindMappingFailure}
	errInvalidKernelBase   = &kernel.Error{Module: "vmm", Message: "kernel base must be aligned to a page directory entry", Kind: kernel.KindInvalidArgument}
	errKernelDirAlreadySet = &kernel.Error{Module: "vmm", Message: "kernel page directory is already initialized", Kind: kernel.KindInvalidArgument}
)

// pdeIndex returns the page directory index for virtAddr.
func pdeIndex(virtAddr uintptr) uint32 {
	return uint32(virtAddr>>pdeShift) & (entriesPerTable - 1)
}

// pteIndex returns the page table index for virtAddr.
func pteIndex(virtAddr uintptr) uint32 {
	return uint32(virtAddr>>pteShift) & (entriesPerTable - 1)
}
