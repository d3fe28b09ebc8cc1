// Package mem contains the page geometry and raw memory helpers shared by the
// physical and virtual memory managers.
package mem

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a frame number (shift right by
	// PageShift) and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// PointerShift is equal to log2(unsafe.Sizeof(uint32)) and is used to
	// turn a page table index into a byte offset.
	PointerShift = 2

	// WordSize is the size of a native machine word on the target.
	WordSize = Size(1 << PointerShift)
)

// PageAlignDown returns addr rounded down to the start of its page.
func PageAlignDown(addr uintptr) uintptr {
	return addr &^ (uintptr(PageSize) - 1)
}

// PageAlignUp returns addr rounded up to the next page boundary. Addresses
// that are already aligned are returned unchanged.
func PageAlignUp(addr uintptr) uintptr {
	return (addr + uintptr(PageSize) - 1) &^ (uintptr(PageSize) - 1)
}

// IsPageAligned returns true if addr is a multiple of PageSize.
func IsPageAligned(addr uintptr) bool {
	return addr&(uintptr(PageSize)-1) == 0
}
