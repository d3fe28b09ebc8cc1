package vmm

import (
	"testing"
	"unsafe"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
)

const testKernelBase = uintptr(0xc0000000)

var errFakeRAMBadFrame = &kernel.Error{Module: "test", Message: "frame outside fake RAM", Kind: kernel.KindMappingFailure}

// fakeRAM backs physical frames with Go arrays and hands out frames from a
// simple free list. Frame 0 is never handed out.
type fakeRAM struct {
	pages    []pageTable
	free     []pmm.Frame
	inUse    map[pmm.Frame]bool
	mapped   bool
	mapCalls int

	failMapAfter int
}

func newFakeRAM(frames int) *fakeRAM {
	ram := &fakeRAM{
		pages: make([]pageTable, frames),
		inUse: make(map[pmm.Frame]bool),
	}
	for frame := frames - 1; frame > 0; frame-- {
		ram.free = append(ram.free, pmm.Frame(frame))
	}
	return ram
}

func (r *fakeRAM) AllocFrame() (pmm.Frame, *kernel.Error) {
	if len(r.free) == 0 {
		return pmm.InvalidFrame, &kernel.Error{Module: "test", Message: "out of frames", Kind: kernel.KindOutOfMemory}
	}

	frame := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	r.inUse[frame] = true

	// Hand out junk so tests catch missing initialization.
	for i := range r.pages[frame] {
		r.pages[frame][i] = 0xdeadbeef
	}
	return frame, nil
}

func (r *fakeRAM) FreeFrame(frame pmm.Frame) *kernel.Error {
	if !r.inUse[frame] {
		return &kernel.Error{Module: "test", Message: "double free", Kind: kernel.KindInvalidArgument}
	}
	delete(r.inUse, frame)
	r.free = append(r.free, frame)
	return nil
}

func (r *fakeRAM) Map(frame pmm.Frame) (uintptr, *kernel.Error) {
	if r.mapped {
		return 0, errTempMappingBusy
	}
	if int(frame) >= len(r.pages) {
		return 0, errFakeRAMBadFrame
	}
	if r.failMapAfter > 0 && r.mapCalls >= r.failMapAfter {
		return 0, errFakeRAMBadFrame
	}

	r.mapCalls++
	r.mapped = true
	return uintptr(unsafe.Pointer(&r.pages[frame][0])), nil
}

func (r *fakeRAM) Unmap(uintptr) {
	r.mapped = false
}

func newTestPaging(t *testing.T, frames int, nx bool) (*Paging, *fakeRAM) {
	ram := newFakeRAM(frames)
	p := NewPaging(ram, ram, nx)
	if err := p.InitKernelDirectory(testKernelBase); err != nil {
		t.Fatal(err)
	}
	return p, ram
}

// newUserDirectory builds a directory the way process creation does.
func newUserDirectory(t *testing.T, p *Paging, ram *fakeRAM) pmm.Frame {
	frame, err := ram.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	addr, err := p.MapTemporary(frame)
	if err != nil {
		t.Fatal(err)
	}
	mem.Memset(addr, 0, mem.PageSize)
	p.CopyKernelEntries(addr)
	SetRecursiveEntry(addr, frame, p.NXSupported())
	p.UnmapTemporary(addr)

	return frame
}

func TestInitKernelDirectory(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		p, ram := newTestPaging(t, 512, true)

		dir := p.KernelDirectory()
		if !dir.Valid() {
			t.Fatal("expected kernel directory to be set")
		}

		// directory + one table for every kernel PDE except the recursive one
		if exp, got := 1+(RecursiveIndex-768), len(ram.inUse); got != exp {
			t.Fatalf("expected %d frames in use; got %d", exp, got)
		}

		table := ram.pages[dir]
		for index := 0; index < 768; index++ {
			if table[index] != 0 {
				t.Fatalf("expected user entry %d to be cleared; got 0x%x", index, uint32(table[index]))
			}
		}

		for index := 768; index < RecursiveIndex; index++ {
			pde := table[index]
			if !pde.HasFlags(FlagPresent|FlagRW) || pde.HasFlags(FlagUserAccessible) {
				t.Fatalf("unexpected kernel entry %d flags 0x%x", index, uint32(pde.Flags()))
			}
			for _, pte := range ram.pages[pde.Frame()] {
				if pte != 0 {
					t.Fatalf("expected kernel table for entry %d to be cleared", index)
				}
			}
		}

		if rec := table[RecursiveIndex]; rec.Frame() != dir || !rec.HasFlags(FlagPresent|FlagRW|FlagNoExecute) {
			t.Fatalf("unexpected recursive entry 0x%x", uint32(rec))
		}

		if got := p.KernelBase(); got != testKernelBase {
			t.Fatalf("expected kernel base 0x%x; got 0x%x", testKernelBase, got)
		}

		if err := p.InitKernelDirectory(testKernelBase); err != errKernelDirAlreadySet {
			t.Fatalf("expected errKernelDirAlreadySet; got %v", err)
		}
	})

	t.Run("misaligned kernel base", func(t *testing.T) {
		ram := newFakeRAM(16)
		p := NewPaging(ram, ram, false)
		if err := p.InitKernelDirectory(0xc0001000); err != errInvalidKernelBase {
			t.Fatalf("expected errInvalidKernelBase; got %v", err)
		}
		if len(ram.inUse) != 0 {
			t.Fatalf("expected all frames to be returned; %d still in use", len(ram.inUse))
		}
	})

	t.Run("out of frames", func(t *testing.T) {
		ram := newFakeRAM(64)
		p := NewPaging(ram, ram, false)
		if err := p.InitKernelDirectory(testKernelBase); err == nil || err.Kind != kernel.KindOutOfMemory {
			t.Fatalf("expected an out of memory error; got %v", err)
		}
		if len(ram.inUse) != 0 {
			t.Fatalf("expected all frames to be returned; %d still in use", len(ram.inUse))
		}
		if p.KernelDirectory().Valid() {
			t.Fatal("expected kernel directory to remain unset")
		}
	})

	t.Run("map before init", func(t *testing.T) {
		ram := newFakeRAM(16)
		p := NewPaging(ram, ram, false)
		if err := p.Map(pmm.Frame(1), 0x1000, pmm.Frame(2), FlagRW); err != errKernelDirNotReady {
			t.Fatalf("expected errKernelDirNotReady; got %v", err)
		}
	})
}

func TestMapAndTranslate(t *testing.T) {
	defer func(origFlush func(uintptr), origActive func() uintptr) {
		flushTLBEntryFn = origFlush
		activePDTFn = origActive
	}(flushTLBEntryFn, activePDTFn)

	var flushed []uintptr
	flushTLBEntryFn = func(addr uintptr) { flushed = append(flushed, addr) }

	p, ram := newTestPaging(t, 512, false)
	dir := newUserDirectory(t, p, ram)
	activePDTFn = func() uintptr { return dir.Address() }

	frame, _ := ram.AllocFrame()
	tablesBefore := len(ram.inUse)
	if err := p.Map(dir, 0x08048123, frame, FlagRW|FlagUserAccessible|FlagNoExecute); err != nil {
		t.Fatal(err)
	}

	if exp, got := tablesBefore+1, len(ram.inUse); got != exp {
		t.Fatalf("expected Map to allocate one page table; in use went from %d to %d", tablesBefore, got)
	}

	pde := ram.pages[dir][pdeIndex(0x08048000)]
	if !pde.HasFlags(FlagPresent | FlagRW | FlagUserAccessible) {
		t.Fatalf("expected user table entry to be present, writable and user accessible; got 0x%x", uint32(pde))
	}

	got, err := p.Translate(dir, 0x08048abc)
	if err != nil {
		t.Fatal(err)
	}
	if exp := frame.Address() + 0xabc; got != exp {
		t.Fatalf("expected translation 0x%x; got 0x%x", exp, got)
	}

	flags, err := p.EntryFlags(dir, 0x08048000)
	if err != nil {
		t.Fatal(err)
	}
	if exp := FlagPresent | FlagRW | FlagUserAccessible; flags != exp {
		t.Fatalf("expected NX to be dropped without platform support; flags 0x%x", uint32(flags))
	}

	if len(flushed) != 1 || flushed[0] != 0x08048000 {
		t.Fatalf("expected a single TLB flush for the active directory; got %v", flushed)
	}

	if err := p.Map(dir, 0x08048000, frame, FlagRW); err != errAlreadyMapped {
		t.Fatalf("expected errAlreadyMapped; got %v", err)
	}

	if _, err := p.Translate(dir, 0x08049000); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping for a missing entry; got %v", err)
	}
	if _, err := p.Translate(dir, 0x40000000); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping for a missing table; got %v", err)
	}
	if _, err := p.Translate(dir, 0xffc00000); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping for the recursive window; got %v", err)
	}
	if _, err := p.EntryFlags(dir, 0x40000000); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping; got %v", err)
	}

	for _, addr := range []uintptr{TempMappingAddr, 0xffc00000, 0xfffff000} {
		if err := p.Map(dir, addr, frame, FlagRW); err != errReservedAddress {
			t.Errorf("expected errReservedAddress for 0x%x; got %v", addr, err)
		}
	}
}

func TestMapNoExecute(t *testing.T) {
	p, ram := newTestPaging(t, 512, true)
	dir := newUserDirectory(t, p, ram)
	frame, _ := ram.AllocFrame()

	if err := p.Map(dir, 0x1000, frame, FlagUserAccessible|FlagNoExecute); err != nil {
		t.Fatal(err)
	}

	flags, err := p.EntryFlags(dir, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if !flags.hasAll(FlagPresent | FlagUserAccessible | FlagNoExecute) {
		t.Fatalf("expected NX to be kept; flags 0x%x", uint32(flags))
	}
}

func (f PageTableEntryFlag) hasAll(flags PageTableEntryFlag) bool {
	return f&flags == flags
}

func TestKernelHalfIsShared(t *testing.T) {
	p, ram := newTestPaging(t, 512, false)
	dirA := newUserDirectory(t, p, ram)
	dirB := newUserDirectory(t, p, ram)

	frame, _ := ram.AllocFrame()
	const stackPage = uintptr(0xe0000000)
	if err := p.Map(p.KernelDirectory(), stackPage, frame, FlagRW); err != nil {
		t.Fatal(err)
	}

	for _, dir := range []pmm.Frame{p.KernelDirectory(), dirA, dirB} {
		got, err := p.Translate(dir, stackPage+0x10)
		if err != nil {
			t.Fatalf("expected kernel page to be visible through directory %d: %v", dir, err)
		}
		if exp := frame.Address() + 0x10; got != exp {
			t.Fatalf("expected translation 0x%x; got 0x%x", exp, got)
		}
	}

	// Removing a kernel entry from one directory must not allocate tables.
	dirC, _ := ram.AllocFrame()
	addr, _ := p.MapTemporary(dirC)
	mem.Memset(addr, 0, mem.PageSize)
	p.UnmapTemporary(addr)
	if err := p.Map(dirC, 0xd0000000, frame, FlagRW); err != errKernelTableMissing {
		t.Fatalf("expected errKernelTableMissing; got %v", err)
	}
}

func TestUnmapRange(t *testing.T) {
	p, ram := newTestPaging(t, 512, false)
	dir := newUserDirectory(t, p, ram)

	var frames []pmm.Frame
	for page := uintptr(0); page < 4; page++ {
		frame, _ := ram.AllocFrame()
		frames = append(frames, frame)
		if err := p.Map(dir, 0x3fe000+page*uintptr(mem.PageSize), frame, FlagRW|FlagUserAccessible); err != nil {
			t.Fatal(err)
		}
	}

	inUse := len(ram.inUse)

	// The range crosses a page table boundary at 0x400000 and extends
	// into a region without a table.
	p.UnmapRange(dir, 0x3fe000, 64*mem.PageSize)

	for page := uintptr(0); page < 4; page++ {
		if _, err := p.Translate(dir, 0x3fe000+page*uintptr(mem.PageSize)); err != ErrInvalidMapping {
			t.Fatalf("expected page %d to be unmapped; got %v", page, err)
		}
	}

	if got := len(ram.inUse); got != inUse {
		t.Fatalf("expected UnmapRange to leave frames allocated; in use went from %d to %d", inUse, got)
	}
}

func TestReleaseRangeAndTables(t *testing.T) {
	p, ram := newTestPaging(t, 512, false)
	baseline := len(ram.inUse)
	dir := newUserDirectory(t, p, ram)

	mapped := []uintptr{0x1000, 0x2000, 0x400000, 0xbffff000}
	for _, addr := range mapped {
		frame, _ := ram.AllocFrame()
		if err := p.Map(dir, addr, frame, FlagRW|FlagUserAccessible); err != nil {
			t.Fatal(err)
		}
	}

	if got := p.ReleaseRange(dir, 0x1000, 0x3000); got != 2 {
		t.Fatalf("expected 2 frames to be released; got %d", got)
	}
	if got := p.ReleaseRange(dir, 0x1000, 0x3000); got != 0 {
		t.Fatalf("expected a second release to find nothing; got %d", got)
	}
	if got := p.ReleaseRange(dir, 0x400000, 0xc0000000); got != 2 {
		t.Fatalf("expected 2 frames to be released; got %d", got)
	}

	// three user tables: 0x0, 0x400000 and 0xbfc00000
	if got := p.ReleaseTables(dir); got != 3 {
		t.Fatalf("expected 3 tables to be released; got %d", got)
	}

	// kernel tables survive
	for index := 768; index < RecursiveIndex; index++ {
		if !ram.pages[dir][index].HasFlags(FlagPresent) {
			t.Fatalf("expected kernel entry %d to be kept", index)
		}
	}

	if err := ram.FreeFrame(dir); err != nil {
		t.Fatal(err)
	}
	if got := len(ram.inUse); got != baseline {
		t.Fatalf("expected frame usage to return to %d; got %d", baseline, got)
	}
}

func TestScratchFailures(t *testing.T) {
	p, ram := newTestPaging(t, 512, false)
	dir := newUserDirectory(t, p, ram)
	frame, _ := ram.AllocFrame()

	inUse := len(ram.inUse)
	// allow the directory lookup and the table allocation, fail on the
	// directory update
	ram.failMapAfter = ram.mapCalls + 2

	if err := p.Map(dir, 0x1000, frame, FlagRW); err != errFakeRAMBadFrame {
		t.Fatalf("expected errFakeRAMBadFrame; got %v", err)
	}
	if got := len(ram.inUse); got != inUse {
		t.Fatalf("expected the new page table to be released; in use went from %d to %d", inUse, got)
	}

	ram.failMapAfter = ram.mapCalls
	if _, err := p.MapTemporary(frame); err != errFakeRAMBadFrame {
		t.Fatalf("expected errFakeRAMBadFrame; got %v", err)
	}

	// the slot must have been released by the failing MapTemporary
	ram.failMapAfter = 0
	addr, err := p.MapTemporary(frame)
	if err != nil {
		t.Fatal(err)
	}
	p.UnmapTemporary(addr)
}

func TestActivate(t *testing.T) {
	defer func(origSwitch func(uintptr)) {
		switchPDTFn = origSwitch
	}(switchPDTFn)

	var got uintptr
	switchPDTFn = func(addr uintptr) { got = addr }

	Activate(pmm.Frame(42))
	if exp := pmm.Frame(42).Address(); got != exp {
		t.Fatalf("expected CR3 to be loaded with 0x%x; got 0x%x", exp, got)
	}
}

func TestDeactivate(t *testing.T) {
	defer func(origSwitch func(uintptr), origActive func() uintptr) {
		switchPDTFn = origSwitch
		activePDTFn = origActive
	}(switchPDTFn, activePDTFn)

	p, ram := newTestPaging(t, 512, true)
	dir := newUserDirectory(t, p, ram)

	var (
		active   uintptr
		switched []uintptr
	)
	activePDTFn = func() uintptr { return active }
	switchPDTFn = func(addr uintptr) {
		active = addr
		switched = append(switched, addr)
	}

	t.Run("inactive directory", func(t *testing.T) {
		active = p.KernelDirectory().Address()
		p.Deactivate(dir)
		if len(switched) != 0 {
			t.Fatalf("expected no CR3 reload; got %d", len(switched))
		}
	})

	t.Run("active directory", func(t *testing.T) {
		active = dir.Address()
		p.Deactivate(dir)
		if exp := p.KernelDirectory().Address(); len(switched) != 1 || switched[0] != exp {
			t.Fatalf("expected a single switch to 0x%x; got %v", exp, switched)
		}
	})

	t.Run("kernel directory", func(t *testing.T) {
		switched = nil
		p.Deactivate(p.KernelDirectory())
		if len(switched) != 0 {
			t.Fatalf("expected the kernel directory to stay loaded; got %v", switched)
		}
	})
}
