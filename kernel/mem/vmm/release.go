package vmm

import "github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"

// ReleaseRange unmaps every page in [start, end) from dir and returns the
// backing frames to the frame allocator. It returns the number of frames
// released. Pages that are not mapped are skipped.
func (p *Paging) ReleaseRange(dir pmm.Frame, start, end uintptr) int {
	released := 0
	p.walkRange(dir, start, end, func(pageAddr uintptr, pte *pageTableEntry) {
		if !pte.HasFlags(FlagPresent) {
			return
		}

		frame := pte.Frame()
		*pte = 0
		p.flushIfVisible(dir, pageAddr)

		if p.alloc.FreeFrame(frame) == nil {
			released++
		}
	})

	return released
}

// ReleaseTables frees every user-half page table of dir and clears the
// matching directory entries. Kernel-half tables are shared and are left
// untouched. It returns the number of tables released.
func (p *Paging) ReleaseTables(dir pmm.Frame) int {
	var tables []pmm.Frame

	if err := p.withTable(dir, func(t *pageTable) {
		for index := uint32(0); index < pdeIndex(p.kernelBase); index++ {
			if !t[index].HasFlags(FlagPresent) {
				continue
			}

			tables = append(tables, t[index].Frame())
			t[index] = 0
		}
	}); err != nil {
		return 0
	}

	released := 0
	for _, table := range tables {
		if p.alloc.FreeFrame(table) == nil {
			released++
		}
	}

	return released
}
