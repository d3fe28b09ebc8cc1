package proc

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/sync"
	"github.com/Blodus/2025-ikt218-osdev/kernel/trace"
)

// kernelStackProt is applied to kernel stack pages. The no-execute bit is
// dropped by the paging code when the platform lacks support.
const kernelStackProt = vmm.FlagRW | vmm.FlagNoExecute

// StackArena hands out page-aligned windows of kernel virtual memory for
// kernel stacks. It is safe for concurrent use.
type StackArena struct {
	mu sync.Spinlock

	start, end uintptr
	next       uintptr
	policy     ArenaPolicy

	// free holds released windows keyed by their size.
	free map[mem.Size][]uintptr
}

// NewStackArena returns an arena covering [start, end).
func NewStackArena(start, end uintptr, policy ArenaPolicy) *StackArena {
	return &StackArena{
		start:  start,
		end:    end,
		next:   start,
		policy: policy,
		free:   make(map[mem.Size][]uintptr),
	}
}

// Reserve returns the base address of a window of size bytes.
func (a *StackArena) Reserve(size mem.Size) (uintptr, *kernel.Error) {
	a.mu.Acquire()
	defer a.mu.Release()

	if windows := a.free[size]; len(windows) != 0 {
		base := windows[len(windows)-1]
		a.free[size] = windows[:len(windows)-1]
		return base, nil
	}

	if uint64(a.end-a.next) < uint64(size) {
		return 0, errArenaExhausted
	}

	base := a.next
	a.next += uintptr(size)
	return base, nil
}

// Return gives the window of a destroyed process back to the arena. Under
// ArenaRecycle the window is reused by later reservations; under ArenaBump it
// is abandoned.
func (a *StackArena) Return(base uintptr, size mem.Size) {
	if a.policy != ArenaRecycle {
		return
	}

	a.mu.Acquire()
	defer a.mu.Release()

	if base+uintptr(size) == a.next {
		a.next = base
		return
	}
	a.free[size] = append(a.free[size], base)
}

// unreserve undoes a Reserve whose window was never used. The bump pointer
// rolls back when base is the newest window under either policy.
func (a *StackArena) unreserve(base uintptr, size mem.Size) {
	a.mu.Acquire()
	defer a.mu.Release()

	switch {
	case base+uintptr(size) == a.next:
		a.next = base
	case a.policy == ArenaRecycle:
		a.free[size] = append(a.free[size], base)
	}
}

// Next returns the address of the next window the bump pointer would hand
// out.
func (a *StackArena) Next() uintptr {
	a.mu.Acquire()
	defer a.mu.Release()

	return a.next
}

// provisionKernelStack allocates and maps a kernel stack of size bytes into
// the kernel directory. Because kernel-half page tables are shared, the stack
// is visible from every address space. It returns the stack top and the
// physical address of its first frame.
func (m *Manager) provisionKernelStack(size mem.Size) (top, physBase uintptr, err *kernel.Error) {
	if !size.IsPageMultiple() {
		return 0, 0, errKernelStackSize
	}

	frames := make([]*pmm.Owned, 0, size.Pages())
	releaseFrames := func() {
		for _, frame := range frames {
			_ = frame.Release()
		}
	}

	for page := uint32(0); page < size.Pages(); page++ {
		frame, err := pmm.Reserve(m.frames)
		if err != nil {
			releaseFrames()
			return 0, 0, err
		}
		frames = append(frames, frame)
	}

	base, err := m.arena.Reserve(size)
	if err != nil {
		releaseFrames()
		return 0, 0, err
	}

	kernelDir := m.paging.KernelDirectory()
	for index, frame := range frames {
		pageAddr := base + uintptr(index)*uintptr(mem.PageSize)
		if err = m.paging.Map(kernelDir, pageAddr, frame.Frame(), kernelStackProt); err != nil {
			m.paging.UnmapRange(kernelDir, base, mem.Size(index)*mem.PageSize)
			releaseFrames()
			m.arena.unreserve(base, size)
			return 0, 0, err
		}
	}

	for _, frame := range frames {
		frame.Commit()
	}

	m.tracer.Trace(trace.Event{
		Level:   trace.LevelDebug,
		Module:  "kstack",
		Message: "kernel stack mapped",
		Fields: []trace.Field{
			trace.Addr("base", base),
			trace.Addr("top", base+uintptr(size)),
			trace.Addr("phys", frames[0].Frame().Address()),
		},
	})

	return base + uintptr(size), frames[0].Frame().Address(), nil
}

// releaseKernelStack returns the frames behind the stack ending at top to the
// frame allocator, unmaps it and returns its window to the arena. Pages that
// are unexpectedly unmapped are reported and skipped.
func (m *Manager) releaseKernelStack(top uintptr, size mem.Size) {
	var (
		kernelDir = m.paging.KernelDirectory()
		base      = top - uintptr(size)
	)

	for pageAddr := base; pageAddr < top; pageAddr += uintptr(mem.PageSize) {
		physAddr, err := m.paging.Translate(kernelDir, pageAddr)
		if err != nil {
			m.warn("kstack", "kernel stack page is not mapped", trace.Addr("vaddr", pageAddr))
			continue
		}

		if err = m.frames.FreeFrame(pmm.FrameFromAddress(physAddr)); err != nil {
			m.warn("kstack", "could not free kernel stack frame", trace.Addr("phys", physAddr), trace.Str("err", err.Message))
		}
	}

	m.paging.UnmapRange(kernelDir, base, size)
	m.arena.Return(base, size)
}
