package vmm

import (
	"unsafe"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/sync"
)

// pageTable overlays a mapped page directory or page table.
type pageTable [entriesPerTable]pageTableEntry

// Paging manipulates i386 page directories. Directories and page tables are
// never accessed directly; every read and write goes through the single
// Scratch slot, so a directory does not need to be active to be edited.
//
// The kernel half of every address space points at a fixed set of page
// tables that are allocated when the kernel directory is set up. Mapping a
// kernel page into the kernel directory therefore makes it visible in every
// address space that copied the kernel entries.
type Paging struct {
	scratch Scratch
	alloc   pmm.Allocator
	nx      bool

	// slot serializes access to the scratch slot. It is held between
	// MapTemporary and UnmapTemporary.
	slot sync.Spinlock

	kernelDir     pmm.Frame
	kernelBase    uintptr
	kernelEntries pageTable
}

// NewPaging returns a Paging instance that reaches physical frames through
// scratch and allocates page tables from alloc. nxSupported controls whether
// FlagNoExecute is kept in the entries installed by Map.
func NewPaging(scratch Scratch, alloc pmm.Allocator, nxSupported bool) *Paging {
	return &Paging{
		scratch:   scratch,
		alloc:     alloc,
		nx:        nxSupported,
		kernelDir: pmm.InvalidFrame,
	}
}

// InitKernelDirectory allocates and installs a fresh kernel page directory
// whose kernel half ([kernelBase, 4GiB) minus the recursive slot) is fully
// backed by zeroed page tables.
func (p *Paging) InitKernelDirectory(kernelBase uintptr) *kernel.Error {
	if p.kernelDir.Valid() {
		return errKernelDirAlreadySet
	}

	dir, err := pmm.Reserve(p.alloc)
	if err != nil {
		return err
	}

	if err = p.withTable(dir.Frame(), func(table *pageTable) {
		mem.Memset(uintptr(unsafe.Pointer(table)), 0, mem.PageSize)
		table[RecursiveIndex] = recursiveEntry(dir.Frame(), p.nx)
	}); err != nil {
		_ = dir.Release()
		return err
	}

	if err = p.AdoptKernelDirectory(dir.Frame(), kernelBase); err != nil {
		_ = dir.Release()
		return err
	}

	dir.Commit()
	return nil
}

// AdoptKernelDirectory registers an existing directory (e.g. the one built
// by the boot code) as the kernel directory. Missing kernel-half page tables
// are allocated and installed so that the kernel half never changes shape
// afterwards.
func (p *Paging) AdoptKernelDirectory(dir pmm.Frame, kernelBase uintptr) *kernel.Error {
	if p.kernelDir.Valid() {
		return errKernelDirAlreadySet
	}

	if kernelBase == 0 || kernelBase&(tableSpan-1) != 0 {
		return errInvalidKernelBase
	}

	var (
		entries pageTable
		tables  []*pmm.Owned
		err     *kernel.Error
	)

	if err = p.withTable(dir, func(table *pageTable) {
		entries = *table
	}); err != nil {
		return err
	}

	for index := pdeIndex(kernelBase); index < RecursiveIndex; index++ {
		if entries[index].HasFlags(FlagPresent) {
			continue
		}

		var table *pmm.Owned
		if table, err = p.newTable(); err != nil {
			break
		}

		tables = append(tables, table)
		entries[index] = makeEntry(table.Frame(), FlagPresent|FlagRW)
	}

	if err == nil {
		err = p.withTable(dir, func(table *pageTable) {
			for index := pdeIndex(kernelBase); index < RecursiveIndex; index++ {
				table[index] = entries[index]
			}
		})
	}

	if err != nil {
		for _, table := range tables {
			_ = table.Release()
		}
		return err
	}

	for _, table := range tables {
		table.Commit()
	}

	p.kernelEntries = entries
	p.kernelBase = kernelBase
	p.kernelDir = dir
	return nil
}

// KernelDirectory returns the kernel page directory frame.
func (p *Paging) KernelDirectory() pmm.Frame {
	return p.kernelDir
}

// KernelBase returns the first kernel-half virtual address.
func (p *Paging) KernelBase() uintptr {
	return p.kernelBase
}

// NXSupported reports whether the platform honours FlagNoExecute.
func (p *Paging) NXSupported() bool {
	return p.nx
}

// MapTemporary maps frame into the temporary mapping slot and returns its
// address. The slot stays reserved for the caller until UnmapTemporary is
// called; other users of this Paging instance wait until then. The caller
// must not call any other Paging method while holding the slot.
func (p *Paging) MapTemporary(frame pmm.Frame) (uintptr, *kernel.Error) {
	p.slot.Acquire()
	addr, err := p.scratch.Map(frame)
	if err != nil {
		p.slot.Release()
		return 0, err
	}

	return addr, nil
}

// UnmapTemporary releases the slot obtained by MapTemporary.
func (p *Paging) UnmapTemporary(addr uintptr) {
	p.scratch.Unmap(addr)
	p.slot.Release()
}

// CopyKernelEntries copies the kernel-half directory entries into the
// directory that is currently mapped at dirAddr.
func (p *Paging) CopyKernelEntries(dirAddr uintptr) {
	if !p.kernelDir.Valid() {
		return
	}

	table := (*pageTable)(unsafe.Pointer(dirAddr))
	for index := pdeIndex(p.kernelBase); index < RecursiveIndex; index++ {
		table[index] = p.kernelEntries[index]
	}
}

// SetRecursiveEntry points the last entry of the directory mapped at dirAddr
// back at the directory frame itself.
func SetRecursiveEntry(dirAddr uintptr, dir pmm.Frame, nxSupported bool) {
	table := (*pageTable)(unsafe.Pointer(dirAddr))
	table[RecursiveIndex] = recursiveEntry(dir, nxSupported)
}

func recursiveEntry(dir pmm.Frame, nxSupported bool) pageTableEntry {
	flags := FlagPresent | FlagRW
	if nxSupported {
		flags |= FlagNoExecute
	}
	return makeEntry(dir, flags)
}

// newTable allocates a frame for a page table and clears it.
func (p *Paging) newTable() (*pmm.Owned, *kernel.Error) {
	table, err := pmm.Reserve(p.alloc)
	if err != nil {
		return nil, err
	}

	if err = p.withTable(table.Frame(), func(t *pageTable) {
		mem.Memset(uintptr(unsafe.Pointer(t)), 0, mem.PageSize)
	}); err != nil {
		_ = table.Release()
		return nil, err
	}

	return table, nil
}

// withTable maps frame through the scratch slot, invokes fn with the mapped
// table and removes the mapping. fn must not use the scratch slot.
func (p *Paging) withTable(frame pmm.Frame, fn func(*pageTable)) *kernel.Error {
	p.slot.Acquire()
	defer p.slot.Release()

	addr, err := p.scratch.Map(frame)
	if err != nil {
		return err
	}

	fn((*pageTable)(unsafe.Pointer(addr)))
	p.scratch.Unmap(addr)
	return nil
}

// directoryEntry returns the entry of dir that covers virtAddr.
func (p *Paging) directoryEntry(dir pmm.Frame, virtAddr uintptr) (pageTableEntry, *kernel.Error) {
	var pde pageTableEntry
	err := p.withTable(dir, func(table *pageTable) {
		pde = table[pdeIndex(virtAddr)]
	})
	return pde, err
}

// flushIfVisible invalidates the TLB entry for virtAddr when the change can
// be observed by the active directory. Kernel-half tables are shared, so
// kernel addresses are always flushed.
func (p *Paging) flushIfVisible(dir pmm.Frame, virtAddr uintptr) {
	if virtAddr >= p.kernelBase || isActive(dir) {
		flushTLBEntryFn(virtAddr)
	}
}
