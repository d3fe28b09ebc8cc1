package mem

import "unsafe"

// Memset sets size bytes at the given address to the supplied value. Instead
// of using a for loop, this function uses log2(size) copy calls which should
// give us a speed boost as page addresses are always aligned.
func Memset(addr uintptr, value byte, size Size) {
	if size == 0 {
		return
	}

	// overlay a slice on top of this address region
	target := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))

	// Set first element and make log2(size) optimized copies
	target[0] = value
	for index := Size(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies size bytes from src to dst. The regions may not overlap.
func Memcopy(src, dst uintptr, size Size) {
	if size == 0 {
		return
	}

	srcSlice := unsafe.Slice((*byte)(unsafe.Pointer(src)), int(size))
	dstSlice := unsafe.Slice((*byte)(unsafe.Pointer(dst)), int(size))
	copy(dstSlice, srcSlice)
}
