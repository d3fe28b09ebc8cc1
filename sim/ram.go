// Package sim hosts the process construction code on a development machine.
// Physical memory is a single anonymous host mapping, the temporary mapping
// slot is a pointer into it and the kernel page directory is built with the
// same paging code the kernel uses.
package sim

import (
	"unsafe"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/sync"
)

// maxRAMSize keeps every simulated physical address within 32 bits.
const maxRAMSize = 1 * mem.Gb

var (
	errRAMSize      = &kernel.Error{Module: "sim", Message: "RAM size must be a page multiple no larger than 1GiB", Kind: kernel.KindInvalidArgument}
	errRAMAlloc     = &kernel.Error{Module: "sim", Message: "could not reserve host memory for RAM", Kind: kernel.KindOutOfMemory}
	errSlotBusy     = &kernel.Error{Module: "sim", Message: "temporary mapping slot is in use", Kind: kernel.KindMappingFailure}
	errFrameOutside = &kernel.Error{Module: "sim", Message: "frame is outside simulated RAM", Kind: kernel.KindMappingFailure}
)

// RAM is simulated physical memory. It also implements vmm.Scratch: mapping a
// frame returns the host address of its bytes.
type RAM struct {
	buf     []byte
	release func() error

	// slot is held while a frame is mapped.
	slot sync.Spinlock
}

// NewRAM reserves size bytes of zeroed simulated physical memory.
func NewRAM(size mem.Size) (*RAM, *kernel.Error) {
	if !size.IsPageMultiple() || size > maxRAMSize {
		return nil, errRAMSize
	}

	buf, release, err := allocRAM(int(size))
	if err != nil {
		return nil, errRAMAlloc
	}

	return &RAM{buf: buf, release: release}, nil
}

// Size returns the amount of simulated memory.
func (r *RAM) Size() mem.Size {
	return mem.Size(len(r.buf))
}

// Map implements vmm.Scratch.
func (r *RAM) Map(frame pmm.Frame) (uintptr, *kernel.Error) {
	if !r.contains(frame.Address(), uintptr(mem.PageSize)) {
		return 0, errFrameOutside
	}

	if !r.slot.TryToAcquire() {
		return 0, errSlotBusy
	}
	return uintptr(unsafe.Pointer(&r.buf[frame.Address()])), nil
}

// Unmap implements vmm.Scratch.
func (r *RAM) Unmap(_ uintptr) {
	r.slot.Release()
}

// Bytes returns the length bytes starting at physAddr. The returned slice
// aliases simulated memory. It returns nil if the range is outside RAM.
func (r *RAM) Bytes(physAddr uintptr, length int) []byte {
	if length < 0 || !r.contains(physAddr, uintptr(length)) {
		return nil
	}
	return r.buf[physAddr : physAddr+uintptr(length) : physAddr+uintptr(length)]
}

// Close returns the host memory backing RAM. The RAM must not be used
// afterwards.
func (r *RAM) Close() error {
	if r.release == nil {
		return nil
	}

	release := r.release
	r.release, r.buf = nil, nil
	return release()
}

func (r *RAM) contains(physAddr, length uintptr) bool {
	size := uintptr(len(r.buf))
	return physAddr <= size && length <= size-physAddr
}
