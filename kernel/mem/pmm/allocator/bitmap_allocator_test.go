package allocator

import (
	"runtime"
	"strconv"
	"sync"
	"testing"

	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/google/go-cmp/cmp"
)

func TestNewBitmapAllocator(t *testing.T) {
	t.Run("unaligned regions", func(t *testing.T) {
		alloc, err := NewBitmapAllocator([]Region{
			// 0x100 bytes into frame 1 up to the end of frame 9
			{PhysAddress: 0x1100, Length: 0x9000 - 0x100},
			// too small to hold a full frame
			{PhysAddress: 0x20010, Length: 0x800},
			{PhysAddress: 0x100000, Length: 128 * uint64(mem.PageSize)},
		})
		if err != nil {
			t.Fatal(err)
		}

		type poolSummary struct {
			Start, End pmm.Frame
			Free       uint32
			Blocks     int
		}

		var got []poolSummary
		for _, pool := range alloc.pools {
			got = append(got, poolSummary{pool.startFrame, pool.endFrame, pool.freeCount, len(pool.freeBitmap)})
		}

		exp := []poolSummary{
			{Start: 2, End: 9, Free: 8, Blocks: 1},
			{Start: 256, End: 383, Free: 128, Blocks: 2},
		}
		if diff := cmp.Diff(exp, got); diff != "" {
			t.Fatalf("unexpected pools (-want +got):\n%s", diff)
		}

		if exp, got := uint32(136), alloc.TotalCount(); got != exp {
			t.Fatalf("expected total count %d; got %d", exp, got)
		}
		if exp, got := uint32(136), alloc.FreeCount(); got != exp {
			t.Fatalf("expected free count %d; got %d", exp, got)
		}
	})

	t.Run("no usable regions", func(t *testing.T) {
		if _, err := NewBitmapAllocator([]Region{{PhysAddress: 0x10, Length: 0x100}}); err != errBitmapAllocNoRegions {
			t.Fatalf("expected errBitmapAllocNoRegions; got %v", err)
		}
	})
}

func TestBitmapAllocatorMarkFrame(t *testing.T) {
	var alloc = BitmapAllocator{
		pools: []framePool{
			{
				startFrame: pmm.Frame(0),
				endFrame:   pmm.Frame(127),
				freeCount:  128,
				freeBitmap: make([]uint64, 2),
			},
		},
		totalPages: 128,
	}

	lastFrame := pmm.Frame(alloc.totalPages)
	for frame := pmm.Frame(0); frame < lastFrame; frame++ {
		alloc.markFrame(0, frame, markReserved)

		block := uint64(frame / 64)
		blockOffset := uint64(frame % 64)
		bitIndex := (63 - blockOffset)
		bitMask := uint64(1 << bitIndex)

		if alloc.pools[0].freeBitmap[block]&bitMask != bitMask {
			t.Errorf("[frame %d] expected block[%d], bit %d to be set", frame, block, bitIndex)
		}

		alloc.markFrame(0, frame, markFree)

		if alloc.pools[0].freeBitmap[block]&bitMask != 0 {
			t.Errorf("[frame %d] expected block[%d], bit %d to be unset", frame, block, bitIndex)
		}
	}

	// Calling markFrame with a frame not part of the pool should be a no-op
	alloc.markFrame(0, pmm.Frame(0xbadf00d), markReserved)
	for blockIndex, block := range alloc.pools[0].freeBitmap {
		if block != 0 {
			t.Errorf("expected all blocks to be set to 0; block %d is set to %d", blockIndex, block)
		}
	}

	// Calling markFrame with a negative pool index should be a no-op
	alloc.markFrame(-1, pmm.Frame(0), markReserved)
	for blockIndex, block := range alloc.pools[0].freeBitmap {
		if block != 0 {
			t.Errorf("expected all blocks to be set to 0; block %d is set to %d", blockIndex, block)
		}
	}
}

func TestBitmapAllocatorPoolForFrame(t *testing.T) {
	var alloc = BitmapAllocator{
		pools: []framePool{
			{
				startFrame: pmm.Frame(0),
				endFrame:   pmm.Frame(63),
				freeCount:  64,
				freeBitmap: make([]uint64, 1),
			},
			{
				startFrame: pmm.Frame(128),
				endFrame:   pmm.Frame(191),
				freeCount:  64,
				freeBitmap: make([]uint64, 1),
			},
		},
		totalPages: 128,
	}

	specs := []struct {
		frame    pmm.Frame
		expIndex int
	}{
		{pmm.Frame(0), 0},
		{pmm.Frame(63), 0},
		{pmm.Frame(64), -1},
		{pmm.Frame(128), 1},
		{pmm.Frame(192), -1},
	}

	for specIndex, spec := range specs {
		if got := alloc.poolForFrame(spec.frame); got != spec.expIndex {
			t.Errorf("[spec %d] expected to get pool index %d; got %d", specIndex, spec.expIndex, got)
		}
	}
}

func TestBitmapAllocatorReserveFrame(t *testing.T) {
	alloc, err := NewBitmapAllocator([]Region{{PhysAddress: uint64(64 * mem.PageSize), Length: uint64(128 * mem.PageSize)}})
	if err != nil {
		t.Fatal(err)
	}

	// reserve the first 16 frames of the pool
	for frame := pmm.Frame(64); frame < 80; frame++ {
		alloc.ReserveFrame(frame)
		// reserving twice must not change the counters
		alloc.ReserveFrame(frame)
	}
	// frames outside the pool are ignored
	alloc.ReserveFrame(pmm.Frame(1))

	if exp, got := uint32(16), alloc.reservedPages; got != exp {
		t.Fatalf("expected reserved page counter to be %d; got %d", exp, got)
	}

	if exp, got := uint64(((1<<16)-1)<<48), alloc.pools[0].freeBitmap[0]; got != exp {
		t.Fatalf("expected block 0 to be:\n%064s\ngot:\n%064s",
			strconv.FormatUint(exp, 2),
			strconv.FormatUint(got, 2),
		)
	}

	got, err := alloc.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}
	if exp := pmm.Frame(80); got != exp {
		t.Fatalf("expected the first allocation to skip reserved frames and return %d; got %d", exp, got)
	}
}

func TestBitmapAllocatorAllocAndFreeFrame(t *testing.T) {
	var alloc = BitmapAllocator{
		pools: []framePool{
			{
				startFrame: pmm.Frame(0),
				endFrame:   pmm.Frame(7),
				freeCount:  8,
				// only the first 8 bits of block 0 are used
				freeBitmap: make([]uint64, 1),
			},
			{
				startFrame: pmm.Frame(64),
				endFrame:   pmm.Frame(191),
				freeCount:  128,
				freeBitmap: make([]uint64, 2),
			},
		},
		totalPages: 136,
	}

	// Test Alloc
	for poolIndex, pool := range alloc.pools {
		for expFrame := pool.startFrame; expFrame <= pool.endFrame; expFrame++ {
			got, err := alloc.AllocFrame()
			if err != nil {
				t.Fatalf("[pool %d] unexpected error: %v", poolIndex, err)
			}

			if got != expFrame {
				t.Errorf("[pool %d] expected allocated frame to be %d; got %d", poolIndex, expFrame, got)
			}
		}

		if alloc.pools[poolIndex].freeCount != 0 {
			t.Errorf("[pool %d] expected free count to be 0; got %d", poolIndex, alloc.pools[poolIndex].freeCount)
		}
	}

	if alloc.reservedPages != alloc.totalPages {
		t.Errorf("expected reservedPages to match totalPages(%d); got %d", alloc.totalPages, alloc.reservedPages)
	}

	if got := alloc.FreeCount(); got != 0 {
		t.Errorf("expected FreeCount to be 0; got %d", got)
	}

	if _, err := alloc.AllocFrame(); err != errBitmapAllocOutOfMemory {
		t.Fatalf("expected error errBitmapAllocOutOfMemory; got %v", err)
	}

	// Test Free
	expFreeCount := []uint32{8, 128}
	for poolIndex, pool := range alloc.pools {
		for frame := pool.startFrame; frame <= pool.endFrame; frame++ {
			if err := alloc.FreeFrame(frame); err != nil {
				t.Fatalf("[pool %d] unexpected error: %v", poolIndex, err)
			}
		}

		if alloc.pools[poolIndex].freeCount != expFreeCount[poolIndex] {
			t.Errorf("[pool %d] expected free count to be %d; got %d", poolIndex, expFreeCount[poolIndex], alloc.pools[poolIndex].freeCount)
		}
	}

	if alloc.reservedPages != 0 {
		t.Errorf("expected reservedPages to be 0; got %d", alloc.reservedPages)
	}

	// Test Free errors
	if err := alloc.FreeFrame(pmm.Frame(0)); err != errBitmapAllocDoubleFree {
		t.Fatalf("expected error errBitmapAllocDoubleFree; got %v", err)
	}

	if err := alloc.FreeFrame(pmm.Frame(0xbadf00d)); err != errBitmapAllocFrameNotManaged {
		t.Fatalf("expected error errBitmapFrameNotManaged; got %v", err)
	}
}

func TestBitmapAllocatorConcurrentAlloc(t *testing.T) {
	alloc, err := NewBitmapAllocator([]Region{{PhysAddress: 0, Length: uint64(256 * mem.PageSize)}})
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg         sync.WaitGroup
		numWorkers = 8
		results    = make([][]pmm.Frame, numWorkers)
	)

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 32; j++ {
				frame, err := alloc.AllocFrame()
				if err != nil {
					return
				}
				results[worker] = append(results[worker], frame)
				runtime.Gosched()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[pmm.Frame]bool)
	for _, frames := range results {
		for _, frame := range frames {
			if seen[frame] {
				t.Fatalf("frame %d handed out twice", frame)
			}
			seen[frame] = true
		}
	}

	if exp := 256; len(seen) != exp {
		t.Fatalf("expected %d distinct frames; got %d", exp, len(seen))
	}
	if got := alloc.FreeCount(); got != 0 {
		t.Fatalf("expected FreeCount to be 0; got %d", got)
	}
}
