package proc

import (
	"unsafe"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/trace"
)

// LoadEnv bundles the collaborators used by LoadExecutable.
type LoadEnv struct {
	Paging     Paging
	Frames     pmm.Allocator
	KernelBase uintptr
	Tracer     trace.Tracer
}

// LoadExecutable validates image, then maps every loadable segment into as.
// For each segment a VMA covering its pages is inserted and every page is
// backed by a fresh frame holding the file bytes, with the remainder of the
// page zeroed. It returns the entry point and the initial program break (the
// page-aligned end of the highest segment).
//
// If loading segment i fails, the pages of segment i mapped so far are
// released and its VMA is removed. Segments loaded before i are left in
// place for the caller to tear down with the rest of the address space.
func LoadExecutable(image []byte, as *AddressSpace, env LoadEnv) (entry, brk uintptr, err *kernel.Error) {
	tracer := trace.Or(env.Tracer)

	img, err := InspectImage(image, env.KernelBase)
	if err != nil {
		return 0, 0, err
	}

	for index, seg := range img.Segments {
		start, end := seg.Cover()
		tracer.Trace(trace.Event{
			Level:   trace.LevelDebug,
			Module:  "elf",
			Message: "loading segment",
			Fields: []trace.Field{
				trace.Uint("index", uint64(index)),
				trace.Addr("vaddr", seg.VirtAddr),
				trace.Uint("memsz", uint64(seg.MemSize)),
				trace.Uint("filesz", uint64(seg.FileSize)),
				trace.Str("flags", seg.FlagString()),
			},
		})

		if err = loadSegment(image, as, env, seg); err != nil {
			tracer.Trace(trace.Event{
				Level:   trace.LevelWarn,
				Module:  "elf",
				Message: "segment load failed",
				Fields:  []trace.Field{trace.Uint("index", uint64(index)), trace.Str("err", err.Message)},
			})
			return 0, 0, err
		}

		if end > brk {
			brk = end
		}

		tracer.Trace(trace.Event{
			Level:   trace.LevelDebug,
			Module:  "mm",
			Message: "inserted VMA",
			Fields:  []trace.Field{trace.Addr("start", start), trace.Addr("end", end), trace.Str("flags", seg.VMFlags().String())},
		})
	}

	return img.Entry, mem.PageAlignUp(brk), nil
}

// loadSegment inserts the VMA for seg and populates its pages. On failure
// the segment is fully unwound.
func loadSegment(image []byte, as *AddressSpace, env LoadEnv, seg Segment) *kernel.Error {
	start, end := seg.Cover()
	prot := seg.Prot(env.Paging.NXSupported())

	if _, err := as.InsertVMA(start, end, seg.VMFlags(), prot); err != nil {
		return err
	}

	populated := start
	for page := start; page < end; page += uintptr(mem.PageSize) {
		frame, err := pmm.Reserve(env.Frames)
		if err == nil {
			if err = populatePage(env.Paging, frame.Frame(), page, seg, image); err == nil {
				err = env.Paging.Map(as.PageDirectory, page, frame.Frame(), prot)
			}

			if err != nil {
				_ = frame.Release()
			}
		}

		if err != nil {
			env.Paging.ReleaseRange(as.PageDirectory, start, populated)
			as.RemoveVMA(start, end)
			return err
		}

		frame.Commit()
		populated = page + uintptr(mem.PageSize)
	}

	return nil
}

// populatePage fills frame with the contents of the page at virtual address
// page: the part of the segment's file data that falls into the page, and
// zeroes everywhere else.
func populatePage(paging Paging, frame pmm.Frame, page uintptr, seg Segment, image []byte) *kernel.Error {
	addr, err := paging.MapTemporary(frame)
	if err != nil {
		return err
	}
	defer paging.UnmapTemporary(addr)

	mem.Memset(addr, 0, mem.PageSize)

	var (
		pageEnd   = page + uintptr(mem.PageSize)
		fileStart = seg.VirtAddr
		fileEnd   = seg.VirtAddr + seg.FileSize
		copyStart = page
		copyEnd   = pageEnd
	)

	if fileStart > copyStart {
		copyStart = fileStart
	}
	if fileEnd < copyEnd {
		copyEnd = fileEnd
	}

	if copyStart < copyEnd {
		fileOffset := seg.Offset + (copyStart - seg.VirtAddr)
		mem.Memcopy(
			uintptr(unsafe.Pointer(&image[fileOffset])),
			addr+(copyStart-page),
			mem.Size(copyEnd-copyStart),
		)
	}

	return nil
}
