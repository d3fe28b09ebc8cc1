// Package allocator provides a physical frame allocator that tracks frame
// reservations with per-pool bitmaps.
package allocator

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/sync"
)

var (
	errBitmapAllocOutOfMemory     = &kernel.Error{Module: "bitmap_alloc", Message: "out of memory", Kind: kernel.KindOutOfMemory}
	errBitmapAllocFrameNotManaged = &kernel.Error{Module: "bitmap_alloc", Message: "frame not managed by this allocator", Kind: kernel.KindInvalidArgument}
	errBitmapAllocDoubleFree      = &kernel.Error{Module: "bitmap_alloc", Message: "frame is already free", Kind: kernel.KindInvalidArgument}
	errBitmapAllocNoRegions       = &kernel.Error{Module: "bitmap_alloc", Message: "no usable memory regions", Kind: kernel.KindInvalidArgument}
)

type markAs bool

const (
	markReserved markAs = false
	markFree     markAs = true
)

// Region describes a block of available physical memory. Addresses do not
// need to be page-aligned; partial pages at either end are ignored.
type Region struct {
	PhysAddress uint64
	Length      uint64
}

type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	// each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame pmm.Frame

	// endFrame tracks the last frame in the pool. The total number of
	// frames is given by: (endFrame - startFrame) + 1
	endFrame pmm.Frame

	// freeCount tracks the available pages in this pool. The allocator
	// can use this field to skip fully allocated pools without the need
	// to scan the free bitmap.
	freeCount uint32

	// freeBitmap tracks used/free pages in the pool.
	freeBitmap []uint64
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the available memory pools using bitmaps. It is safe
// for concurrent use.
type BitmapAllocator struct {
	mu sync.Spinlock

	// totalPages tracks the total number of pages across all pools.
	totalPages uint32

	// reservedPages tracks the number of reserved pages across all pools.
	reservedPages uint32

	pools []framePool
}

// NewBitmapAllocator creates an allocator that manages the frames contained
// in the supplied regions.
func NewBitmapAllocator(regions []Region) (*BitmapAllocator, *kernel.Error) {
	var (
		alloc          BitmapAllocator
		pageSizeMinus1 = uint64(mem.PageSize - 1)
	)

	for _, region := range regions {
		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame
		regionStartFrame := pmm.Frame(((region.PhysAddress + pageSizeMinus1) & ^pageSizeMinus1) >> mem.PageShift)
		regionEnd := (region.PhysAddress + region.Length) & ^pageSizeMinus1
		if regionEnd>>mem.PageShift <= uint64(regionStartFrame) {
			continue
		}
		regionEndFrame := pmm.Frame(regionEnd>>mem.PageShift) - 1
		pageCount := uint32(regionEndFrame - regionStartFrame + 1)

		// To represent the free page bitmap we need pageCount bits. Since our
		// slice uses uint64 for storing the bitmap we need to round up the
		// required bits so they are a multiple of 64 bits
		alloc.pools = append(alloc.pools, framePool{
			startFrame: regionStartFrame,
			endFrame:   regionEndFrame,
			freeCount:  pageCount,
			freeBitmap: make([]uint64, (pageCount+63)>>6),
		})
		alloc.totalPages += pageCount
	}

	if len(alloc.pools) == 0 {
		return nil, errBitmapAllocNoRegions
	}

	return &alloc, nil
}

// markFrame updates the reservation flag for the bitmap entry that corresponds
// to the supplied frame.
func (alloc *BitmapAllocator) markFrame(poolIndex int, frame pmm.Frame, flag markAs) {
	if poolIndex < 0 || frame > alloc.pools[poolIndex].endFrame {
		return
	}

	// The offset in the block is given by: frame % 64. As the bitmap uses a
	// big-ending representation we need to set the bit at index: 63 - offset
	relFrame := frame - alloc.pools[poolIndex].startFrame
	block := relFrame >> 6
	mask := uint64(1 << (63 - (relFrame - block<<6)))
	switch flag {
	case markFree:
		alloc.pools[poolIndex].freeBitmap[block] &^= mask
		alloc.pools[poolIndex].freeCount++
		alloc.reservedPages--
	case markReserved:
		alloc.pools[poolIndex].freeBitmap[block] |= mask
		alloc.pools[poolIndex].freeCount--
		alloc.reservedPages++
	}
}

// poolForFrame returns the index of the pool that contains frame or -1 if
// the frame is not contained in any of the available memory pools (e.g it
// points to a reserved memory region).
func (alloc *BitmapAllocator) poolForFrame(frame pmm.Frame) int {
	for poolIndex, pool := range alloc.pools {
		if frame >= pool.startFrame && frame <= pool.endFrame {
			return poolIndex
		}
	}

	return -1
}

func (alloc *BitmapAllocator) isReserved(poolIndex int, frame pmm.Frame) bool {
	relFrame := frame - alloc.pools[poolIndex].startFrame
	block := relFrame >> 6
	mask := uint64(1 << (63 - (relFrame - block<<6)))
	return alloc.pools[poolIndex].freeBitmap[block]&mask != 0
}

// ReserveFrame flags a specific frame as used, e.g. because it holds firmware
// data or the kernel image. Reserving an already reserved or unmanaged frame
// has no effect.
func (alloc *BitmapAllocator) ReserveFrame(frame pmm.Frame) {
	alloc.mu.Acquire()
	defer alloc.mu.Release()

	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 || alloc.isReserved(poolIndex, frame) {
		return
	}
	alloc.markFrame(poolIndex, frame, markReserved)
}

// AllocFrame reserves and returns a physical memory frame. An error will be
// returned if no more memory can be allocated.
func (alloc *BitmapAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	alloc.mu.Acquire()
	defer alloc.mu.Release()

	for poolIndex := 0; poolIndex < len(alloc.pools); poolIndex++ {
		if alloc.pools[poolIndex].freeCount == 0 {
			continue
		}

		fullBlock := uint64(1<<64 - 1)
		for blockIndex, block := range alloc.pools[poolIndex].freeBitmap {
			if block == fullBlock {
				continue
			}

			// Block has at least one free slot; we need to scan its bits
			for blockOffset, mask := 0, uint64(1<<63); mask > 0; blockOffset, mask = blockOffset+1, mask>>1 {
				if block&mask != 0 {
					continue
				}

				frame := alloc.pools[poolIndex].startFrame + pmm.Frame((blockIndex<<6)+blockOffset)
				if frame > alloc.pools[poolIndex].endFrame {
					break
				}

				alloc.markFrame(poolIndex, frame, markReserved)
				return frame, nil
			}
		}
	}

	return pmm.InvalidFrame, errBitmapAllocOutOfMemory
}

// FreeFrame releases a frame previously allocated via a call to AllocFrame.
// Trying to release a frame not part of the allocator pools or a frame that
// is already marked as free will cause an error to be returned.
func (alloc *BitmapAllocator) FreeFrame(frame pmm.Frame) *kernel.Error {
	alloc.mu.Acquire()
	defer alloc.mu.Release()

	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return errBitmapAllocFrameNotManaged
	}

	if !alloc.isReserved(poolIndex, frame) {
		return errBitmapAllocDoubleFree
	}

	alloc.markFrame(poolIndex, frame, markFree)
	return nil
}

// FreeCount returns the number of frames that can still be allocated.
func (alloc *BitmapAllocator) FreeCount() uint32 {
	alloc.mu.Acquire()
	defer alloc.mu.Release()

	return alloc.totalPages - alloc.reservedPages
}

// TotalCount returns the number of frames managed by the allocator.
func (alloc *BitmapAllocator) TotalCount() uint32 {
	return alloc.totalPages
}
