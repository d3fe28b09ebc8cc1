package proc

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
	"github.com/google/btree"
)

// vmaTreeDegree is the btree degree used for VMA sets. Processes have a
// handful of VMAs so a small degree keeps nodes compact.
const vmaTreeDegree = 4

// AddressSpace tracks the user half of a process address space: its page
// directory and the set of VMAs describing valid user memory.
type AddressSpace struct {
	PageDirectory pmm.Frame

	// BrkStart and BrkEnd delimit the heap. Both start at the page-aligned
	// end of the highest loaded segment.
	BrkStart uintptr
	BrkEnd   uintptr

	kernelBase uintptr
	vmas       *btree.BTreeG[*VMA]
}

// newAddressSpace returns an empty address space backed by dir. VMAs end at
// or below kernelBase; a marker may sit exactly at kernelBase.
func newAddressSpace(dir pmm.Frame, kernelBase uintptr) *AddressSpace {
	return &AddressSpace{
		PageDirectory: dir,
		kernelBase:    kernelBase,
		vmas:          btree.NewG(vmaTreeDegree, vmaLess),
	}
}

// InsertVMA records [start, end) with the given flags and page protection.
// start == end creates a marker VMA.
func (as *AddressSpace) InsertVMA(start, end uintptr, flags VMFlags, prot vmm.PageTableEntryFlag) (*VMA, *kernel.Error) {
	switch {
	case !mem.IsPageAligned(start) || !mem.IsPageAligned(end):
		return nil, errVMAUnaligned
	case start > end:
		return nil, errVMAInverted
	case end > as.kernelBase:
		return nil, errVMAKernelSpace
	}

	vma := &VMA{Start: start, End: end, Flags: flags, Prot: prot}
	if as.conflicts(vma) {
		return nil, errVMAOverlap
	}

	as.vmas.ReplaceOrInsert(vma)
	return vma, nil
}

// conflicts checks vma against every existing VMA that could overlap it.
// Non-empty VMAs are disjoint and sorted, so the scan stops at the first
// non-empty VMA that ends at or below vma.Start.
func (as *AddressSpace) conflicts(vma *VMA) bool {
	pivot := &VMA{Start: vma.End}
	if vma.Empty() {
		pivot.End = vma.End
	}

	found := false
	as.vmas.DescendLessOrEqual(pivot, func(other *VMA) bool {
		if vmaConflict(vma, other) {
			found = true
			return false
		}

		return other.Empty() || other.End > vma.Start
	})

	return found
}

// RemoveVMA deletes the VMA that exactly matches [start, end) and returns
// it, or nil if no such VMA exists.
func (as *AddressSpace) RemoveVMA(start, end uintptr) *VMA {
	vma, found := as.vmas.Delete(&VMA{Start: start, End: end})
	if !found {
		return nil
	}
	return vma
}

// FindVMA returns the non-empty VMA containing addr or nil.
func (as *AddressSpace) FindVMA(addr uintptr) *VMA {
	var match *VMA
	as.vmas.DescendLessOrEqual(&VMA{Start: addr, End: ^uintptr(0)}, func(other *VMA) bool {
		if other.Empty() {
			return true
		}

		if other.Contains(addr) {
			match = other
		}
		return false
	})

	return match
}

// VMAs returns a copy of every VMA in ascending address order.
func (as *AddressSpace) VMAs() []VMA {
	list := make([]VMA, 0, as.vmas.Len())
	as.vmas.Ascend(func(vma *VMA) bool {
		list = append(list, *vma)
		return true
	})
	return list
}

// Len returns the number of VMAs, markers included.
func (as *AddressSpace) Len() int {
	return as.vmas.Len()
}

// clear drops every VMA.
func (as *AddressSpace) clear() {
	as.vmas.Clear(false)
	as.BrkStart, as.BrkEnd = 0, 0
}
