package proc

import "github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"

// VMFlags describe how a VMA may be used.
type VMFlags uint8

// The supported VMA flags.
const (
	VMRead VMFlags = 1 << iota
	VMWrite
	VMExec
	VMUser
	VMGrowsDown
	VMAnonymous
)

// String renders the flags in the "rwxu" style used by /proc maps listings.
func (f VMFlags) String() string {
	var buf = [...]byte{'-', '-', '-', '-', '-', '-'}
	for i, spec := range []struct {
		flag VMFlags
		char byte
	}{
		{VMRead, 'r'},
		{VMWrite, 'w'},
		{VMExec, 'x'},
		{VMUser, 'u'},
		{VMGrowsDown, 'g'},
		{VMAnonymous, 'a'},
	} {
		if f&spec.flag != 0 {
			buf[i] = spec.char
		}
	}
	return string(buf[:])
}

// VMA describes a contiguous range of user virtual memory [Start, End) with
// uniform protection. Prot is applied to every page mapped in the range.
type VMA struct {
	Start uintptr
	End   uintptr
	Flags VMFlags
	Prot  vmm.PageTableEntryFlag
}

// Empty returns true for zero-length marker VMAs such as the initial heap.
func (v *VMA) Empty() bool {
	return v.Start == v.End
}

// Contains returns true if addr falls inside the VMA.
func (v *VMA) Contains(addr uintptr) bool {
	return v.Start <= addr && addr < v.End
}

// vmaLess orders VMAs by start address and then by end address so that a
// marker sorts before a non-empty VMA starting at the same address.
func vmaLess(a, b *VMA) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.End < b.End
}

// vmaConflict reports whether two VMAs cannot coexist. Non-empty VMAs
// conflict when they overlap. A marker conflicts with an identical marker and
// with any non-empty VMA that strictly contains it.
func vmaConflict(a, b *VMA) bool {
	switch {
	case a.Empty() && b.Empty():
		return a.Start == b.Start
	case a.Empty():
		return b.Start < a.Start && a.Start < b.End
	case b.Empty():
		return a.Start < b.Start && b.Start < a.End
	default:
		return a.Start < b.End && b.Start < a.End
	}
}
