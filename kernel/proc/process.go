// Package proc turns ELF32 executables into schedulable processes. It builds
// the per-process page directory, loads the image, provisions a kernel stack
// shared through the kernel half of every address space, prepares the first
// ring 3 entry frame, and tears all of it down again without leaking frames
// or mappings.
package proc

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/cleanup"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/sync"
	"github.com/Blodus/2025-ikt218-osdev/kernel/trace"
)

// step records a completed stage of process creation.
type step uint8

const (
	stepSlot step = 1 << iota
	stepDirectory
	stepKernelStack
	stepAddressSpace
)

// destroyOrder lists the stages in the order they are undone.
var destroyOrder = [...]step{stepAddressSpace, stepKernelStack, stepDirectory, stepSlot}

// Process is the control block of a user process.
type Process struct {
	PID           PID
	PageDirectory pmm.Frame
	AddressSpace  *AddressSpace

	// KernelStackTop is one past the highest byte of the kernel stack.
	KernelStackTop uintptr

	// KernelStackPhysBase is the physical address of the first kernel
	// stack frame. It is only used for diagnostics.
	KernelStackPhysBase uintptr

	EntryPoint   uintptr
	UserStackTop uintptr

	// KernelESPForSwitch is the kernel stack pointer to load before the
	// first IRET into user mode.
	KernelESPForSwitch uintptr

	Path string

	kernelStackSize mem.Size
	steps           step
}

// Deps holds the collaborators of a Manager. Scheduler, Stack and Tracer
// are optional.
type Deps struct {
	Paging    Paging
	Frames    pmm.Allocator
	Files     FileReader
	Scheduler Scheduler
	Stack     PrivilegedStack
	Tracer    trace.Tracer
}

// Manager creates and destroys processes.
type Manager struct {
	cfg    Config
	paging Paging
	frames pmm.Allocator
	files  FileReader
	sched  Scheduler
	stack  PrivilegedStack
	tracer trace.Tracer

	pids  PIDAllocator
	arena *StackArena
	table *processTable

	// createLock serializes Create; every creation step funnels through
	// the single temporary mapping slot.
	createLock sync.Spinlock
}

// NewManager returns a Manager for the given configuration.
func NewManager(cfg Config, deps Deps) (*Manager, *kernel.Error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if deps.Paging == nil || deps.Frames == nil || deps.Files == nil {
		return nil, errMissingDependency
	}

	return &Manager{
		cfg:    cfg,
		paging: deps.Paging,
		frames: deps.Frames,
		files:  deps.Files,
		sched:  deps.Scheduler,
		stack:  deps.Stack,
		tracer: trace.Or(deps.Tracer),
		arena:  NewStackArena(cfg.StackArenaStart, cfg.StackArenaEnd, cfg.StackArenaPolicy),
		table:  newProcessTable(cfg.MaxProcesses),
	}, nil
}

// Config returns the configuration the manager was created with.
func (m *Manager) Config() Config {
	return m.cfg
}

// Create builds a process from the executable at path. On failure every
// completed step is undone before the error is returned.
func (m *Manager) Create(path string) (*Process, *kernel.Error) {
	m.createLock.Acquire()
	defer m.createLock.Release()

	p := &Process{Path: path, PageDirectory: pmm.InvalidFrame}
	m.trace(trace.LevelInfo, "creating process", trace.Str("path", path))

	cu := cleanup.Make(nil)
	defer func() {
		if cu.Len() != 0 {
			m.trace(trace.LevelInfo, "rolling back process creation", trace.Str("path", path), trace.Uint("pid", uint64(p.PID)))
			cu.Clean()
		}
	}()

	// 1. process table slot and PID
	if !m.table.reserve() {
		return nil, errProcessTableFull
	}
	m.complete(p, stepSlot, &cu)

	pid, err := m.pids.Next()
	if err != nil {
		return nil, err
	}
	p.PID = pid

	// 2. page directory
	if p.PageDirectory, err = m.buildAddressSpace(); err != nil {
		return nil, err
	}
	m.complete(p, stepDirectory, &cu)

	// 3. kernel stack
	if p.KernelStackTop, p.KernelStackPhysBase, err = m.provisionKernelStack(m.cfg.KernelStackSize); err != nil {
		return nil, err
	}
	p.kernelStackSize = m.cfg.KernelStackSize
	m.complete(p, stepKernelStack, &cu)

	// 4. VMA container
	p.AddressSpace = newAddressSpace(p.PageDirectory, m.cfg.KernelBase)
	m.complete(p, stepAddressSpace, &cu)

	// 5. executable image
	image, err := m.files.ReadFile(path)
	if err != nil {
		if err.Kind != kernel.KindIOFailure {
			err = errReadExecutable
		}
		return nil, err
	}

	entry, brk, err := LoadExecutable(image, p.AddressSpace, LoadEnv{
		Paging:     m.paging,
		Frames:     m.frames,
		KernelBase: m.cfg.KernelBase,
		Tracer:     m.tracer,
	})
	if err != nil {
		return nil, err
	}
	p.EntryPoint = entry
	p.AddressSpace.BrkStart, p.AddressSpace.BrkEnd = brk, brk

	// 6. heap marker. Without it the process still runs; growing the heap
	// fails later.
	dataProt := m.userDataProt()
	if _, heapErr := p.AddressSpace.InsertVMA(brk, brk, VMRead|VMWrite|VMUser|VMAnonymous, dataProt); heapErr != nil {
		m.warn("proc", "heap VMA not recorded", trace.Addr("brk", brk), trace.Str("err", heapErr.Message))
	}

	// 7. user stack
	if _, err = p.AddressSpace.InsertVMA(m.cfg.UserStackBottom, m.cfg.UserStackTop, VMRead|VMWrite|VMUser|VMGrowsDown|VMAnonymous, dataProt); err != nil {
		return nil, err
	}

	// 8. first user stack page
	if err = m.mapZeroedPage(p.PageDirectory, m.cfg.UserStackTop-uintptr(mem.PageSize), dataProt); err != nil {
		return nil, err
	}
	p.UserStackTop = m.cfg.UserStackTop

	// 9. first entry frame
	if p.KernelESPForSwitch, err = PrepareEntryFrame(m.paging, p.KernelStackTop, p.EntryPoint, p.UserStackTop); err != nil {
		return nil, err
	}

	// 10. ring 0 stack for the first trap
	if m.stack != nil {
		m.stack.SetKernelStack(p.KernelStackTop)
	}

	// 11. publish
	m.table.publish(p)
	cu.Release()

	m.trace(trace.LevelInfo, "process created",
		trace.Uint("pid", uint64(p.PID)),
		trace.Addr("entry", p.EntryPoint),
		trace.Addr("kstack_top", p.KernelStackTop),
		trace.Addr("esp", p.KernelESPForSwitch),
		trace.Uint("vmas", uint64(p.AddressSpace.Len())),
	)

	return p, nil
}

// Destroy tears down p. The process must not be running. Teardown problems
// are reported through the tracer and never stop the remaining steps.
func (m *Manager) Destroy(p *Process) {
	if p == nil {
		return
	}

	if m.sched != nil {
		if pid, ok := m.sched.CurrentPID(); ok && pid == p.PID {
			m.warn("proc", "destroying the running process", trace.Uint("pid", uint64(pid)))
		}
	}

	m.trace(trace.LevelInfo, "destroying process", trace.Uint("pid", uint64(p.PID)))
	for _, s := range destroyOrder {
		m.undo(p, s)
	}
	m.trace(trace.LevelInfo, "process destroyed", trace.Uint("pid", uint64(p.PID)))
}

// Current returns the PCB of the running process or nil when no process is
// running.
func (m *Manager) Current() *Process {
	if m.sched == nil {
		return nil
	}

	pid, ok := m.sched.CurrentPID()
	if !ok {
		return nil
	}
	return m.table.lookup(pid)
}

// Lookup returns the live process with the given PID or nil.
func (m *Manager) Lookup(pid PID) *Process {
	return m.table.lookup(pid)
}

// Len returns the number of live processes.
func (m *Manager) Len() int {
	return m.table.len()
}

// Processes returns the live processes ordered by PID.
func (m *Manager) Processes() []*Process {
	return m.table.snapshot()
}

// complete marks s as done and registers its undo with cu.
func (m *Manager) complete(p *Process, s step, cu *cleanup.Cleanup) {
	p.steps |= s
	cu.Add(func() { m.undo(p, s) })
}

// undo reverts a single completed creation step. Steps that did not
// complete, or were already undone, are skipped.
func (m *Manager) undo(p *Process, s step) {
	if p.steps&s == 0 {
		return
	}
	p.steps &^= s

	switch s {
	case stepAddressSpace:
		m.releaseAddressSpace(p)
	case stepKernelStack:
		m.releaseKernelStack(p.KernelStackTop, p.kernelStackSize)
		p.KernelStackTop, p.KernelStackPhysBase = 0, 0
	case stepDirectory:
		m.paging.Deactivate(p.PageDirectory)
		if err := m.frames.FreeFrame(p.PageDirectory); err != nil {
			m.warn("proc", "could not free page directory", trace.Uint("pid", uint64(p.PID)), trace.Str("err", err.Message))
		}
		p.PageDirectory = pmm.InvalidFrame
	case stepSlot:
		m.table.release(p)
	}
}

// buildAddressSpace allocates a page directory that shares the kernel half
// with every other address space and maps itself through the recursive slot.
func (m *Manager) buildAddressSpace() (pmm.Frame, *kernel.Error) {
	dir, err := pmm.Reserve(m.frames)
	if err != nil {
		return pmm.InvalidFrame, err
	}

	addr, err := m.paging.MapTemporary(dir.Frame())
	if err != nil {
		_ = dir.Release()
		return pmm.InvalidFrame, err
	}

	mem.Memset(addr, 0, mem.PageSize)
	m.paging.CopyKernelEntries(addr)
	vmm.SetRecursiveEntry(addr, dir.Frame(), m.paging.NXSupported())
	m.paging.UnmapTemporary(addr)

	return dir.Commit(), nil
}

// releaseAddressSpace frees every page mapped in a VMA, the user page
// tables and the VMA set. The directory itself is released separately.
func (m *Manager) releaseAddressSpace(p *Process) {
	as := p.AddressSpace
	if as == nil {
		return
	}

	released := 0
	for _, vma := range as.VMAs() {
		if !vma.Empty() {
			released += m.paging.ReleaseRange(as.PageDirectory, vma.Start, vma.End)
		}
	}

	tables := m.paging.ReleaseTables(as.PageDirectory)
	as.clear()

	m.trace(trace.LevelDebug, "address space released",
		trace.Uint("pid", uint64(p.PID)),
		trace.Uint("frames", uint64(released)),
		trace.Uint("tables", uint64(tables)),
	)
}

// mapZeroedPage backs the page at virtAddr in dir with a zeroed frame.
func (m *Manager) mapZeroedPage(dir pmm.Frame, virtAddr uintptr, prot vmm.PageTableEntryFlag) *kernel.Error {
	frame, err := pmm.Reserve(m.frames)
	if err != nil {
		return err
	}

	addr, err := m.paging.MapTemporary(frame.Frame())
	if err != nil {
		_ = frame.Release()
		return err
	}
	mem.Memset(addr, 0, mem.PageSize)
	m.paging.UnmapTemporary(addr)

	if err = m.paging.Map(dir, virtAddr, frame.Frame(), prot); err != nil {
		_ = frame.Release()
		return err
	}

	frame.Commit()
	return nil
}

// userDataProt is the protection used for the heap and the user stack.
func (m *Manager) userDataProt() vmm.PageTableEntryFlag {
	prot := vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible
	if m.paging.NXSupported() {
		prot |= vmm.FlagNoExecute
	}
	return prot
}

func (m *Manager) trace(level trace.Level, msg string, fields ...trace.Field) {
	m.tracer.Trace(trace.Event{Level: level, Module: "proc", Message: msg, Fields: fields})
}

func (m *Manager) warn(module, msg string, fields ...trace.Field) {
	m.tracer.Trace(trace.Event{Level: trace.LevelWarn, Module: module, Message: msg, Fields: fields})
}
