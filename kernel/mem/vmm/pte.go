package vmm

import "github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"

// PageTableEntryFlag describes a flag that can be applied to a page table
// or page directory entry.
type PageTableEntryFlag uint32

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set in a directory entry that maps a 4 MiB page.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagNoExecute marks a page as non-executable. Without PAE the MMU has
	// no NX bit, so this lives in the first software-available bit and is
	// only set when the platform reports NX support.
	FlagNoExecute
)

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags.
type pageTableEntry uint32

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint32(pte) & uint32(flags)) == uint32(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint32(pte) & uint32(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint32(*pte) | uint32(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint32(*pte) &^ uint32(flags))
}

// Flags returns the flag bits of the entry.
func (pte pageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uint32(pte) &^ ptePhysPageMask)
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() pmm.Frame {
	return pmm.FrameFromAddress(uintptr(uint32(pte) & ptePhysPageMask))
}

// SetFrame updates the page table entry to point the the given physical frame .
func (pte *pageTableEntry) SetFrame(frame pmm.Frame) {
	*pte = (pageTableEntry)((uint32(*pte) &^ ptePhysPageMask) | uint32(frame.Address()))
}

// makeEntry returns an entry pointing at frame with the given flags.
func makeEntry(frame pmm.Frame, flags PageTableEntryFlag) pageTableEntry {
	var pte pageTableEntry
	pte.SetFrame(frame)
	pte.SetFlags(flags)
	return pte
}
