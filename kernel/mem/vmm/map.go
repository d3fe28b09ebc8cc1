package vmm

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
)

// Map establishes a mapping between the page containing virtAddr and a
// physical frame in directory dir. A missing user-half page table is
// allocated on demand; kernel-half tables are never created here because
// they must stay shared with every other address space.
func (p *Paging) Map(dir pmm.Frame, virtAddr uintptr, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if !p.kernelDir.Valid() {
		return errKernelDirNotReady
	}

	page := PageFromAddress(virtAddr)
	if page.DirectoryIndex() == RecursiveIndex || page.Address() == TempMappingAddr {
		return errReservedAddress
	}

	if !p.nx {
		flags &^= FlagNoExecute
	}

	pde, err := p.directoryEntry(dir, page.Address())
	if err != nil {
		return err
	}

	// Next table does not yet exist; we need to allocate a physical frame
	// for it, clear its contents and hook it into the directory.
	if !pde.HasFlags(FlagPresent) {
		if page.Address() >= p.kernelBase {
			return errKernelTableMissing
		}

		table, err := p.newTable()
		if err != nil {
			return err
		}

		pde = makeEntry(table.Frame(), FlagPresent|FlagRW|FlagUserAccessible)
		if err = p.withTable(dir, func(t *pageTable) {
			t[page.DirectoryIndex()] = pde
		}); err != nil {
			_ = table.Release()
			return err
		}

		table.Commit()
	}

	var mapErr *kernel.Error
	if err = p.withTable(pde.Frame(), func(t *pageTable) {
		pte := &t[page.TableIndex()]
		if pte.HasFlags(FlagPresent) {
			mapErr = errAlreadyMapped
			return
		}

		*pte = makeEntry(frame, FlagPresent|flags)
	}); err != nil {
		return err
	}

	if mapErr != nil {
		return mapErr
	}

	p.flushIfVisible(dir, page.Address())
	return nil
}

// UnmapRange removes every mapping in [virtAddr, virtAddr+length) from dir.
// Unmapped pages are skipped. The frames behind the removed mappings are not
// released.
func (p *Paging) UnmapRange(dir pmm.Frame, virtAddr uintptr, length mem.Size) {
	p.walkRange(dir, virtAddr, virtAddr+uintptr(length), func(pageAddr uintptr, pte *pageTableEntry) {
		if !pte.HasFlags(FlagPresent) {
			return
		}

		*pte = 0
		p.flushIfVisible(dir, pageAddr)
	})
}

// Translate returns the physical address that corresponds to the supplied
// virtual address in dir or ErrInvalidMapping if the virtual address does
// not correspond to a mapped physical address.
func (p *Paging) Translate(dir pmm.Frame, virtAddr uintptr) (uintptr, *kernel.Error) {
	if pdeIndex(virtAddr) == RecursiveIndex {
		return 0, ErrInvalidMapping
	}

	pde, err := p.directoryEntry(dir, virtAddr)
	if err != nil {
		return 0, err
	}

	if !pde.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	var pte pageTableEntry
	if err = p.withTable(pde.Frame(), func(t *pageTable) {
		pte = t[pteIndex(virtAddr)]
	}); err != nil {
		return 0, err
	}

	if !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return pte.Frame().Address() + (virtAddr & uintptr(mem.PageSize-1)), nil
}

// EntryFlags returns the flags of the page table entry that maps virtAddr in
// dir or ErrInvalidMapping if the page is not mapped.
func (p *Paging) EntryFlags(dir pmm.Frame, virtAddr uintptr) (PageTableEntryFlag, *kernel.Error) {
	var (
		flags PageTableEntryFlag
		found bool
	)

	page := mem.PageAlignDown(virtAddr)
	p.walkRange(dir, page, page+uintptr(mem.PageSize), func(_ uintptr, pte *pageTableEntry) {
		if pte.HasFlags(FlagPresent) {
			flags, found = pte.Flags(), true
		}
	})

	if !found {
		return 0, ErrInvalidMapping
	}
	return flags, nil
}

// walkRange invokes fn for every page table entry in [start, end) whose page
// table is present in dir. Regions without a page table are skipped. fn runs
// while the scratch slot is held.
func (p *Paging) walkRange(dir pmm.Frame, start, end uintptr, fn func(pageAddr uintptr, pte *pageTableEntry)) {
	for addr := mem.PageAlignDown(start); addr < end; {
		next := (addr &^ (tableSpan - 1)) + tableSpan
		if next <= addr || next > end {
			next = end
		}

		if pdeIndex(addr) != RecursiveIndex {
			pde, err := p.directoryEntry(dir, addr)
			if err != nil {
				return
			}

			if pde.HasFlags(FlagPresent) {
				if err = p.withTable(pde.Frame(), func(t *pageTable) {
					for pageAddr := addr; pageAddr < next; pageAddr += uintptr(mem.PageSize) {
						fn(pageAddr, &t[pteIndex(pageAddr)])
					}
				}); err != nil {
					return
				}
			}
		}

		addr = next
	}
}
