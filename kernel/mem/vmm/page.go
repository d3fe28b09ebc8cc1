package vmm

import "github.com/Blodus/2025-ikt218-osdev/kernel/mem"

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual address of the first byte in this Page.
func (p Page) Address() uintptr {
	return uintptr(p << mem.PageShift)
}

// DirectoryIndex returns the page directory entry that covers this Page.
func (p Page) DirectoryIndex() uint32 {
	return pdeIndex(p.Address())
}

// TableIndex returns the page table entry that maps this Page.
func (p Page) TableIndex() uint32 {
	return pteIndex(p.Address())
}

// PageFromAddress returns the Page that contains virtAddr. Unaligned
// addresses are rounded down.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(mem.PageAlignDown(virtAddr) >> mem.PageShift)
}
