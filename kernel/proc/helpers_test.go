package proc

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/trace"
	"github.com/Blodus/2025-ikt218-osdev/sim"
)

// testSegment describes a program header for buildELF.
type testSegment struct {
	typ   elf.ProgType
	vaddr uint32
	data  []byte
	memsz uint32
	flags elf.ProgFlag
}

func loadSeg(vaddr uint32, data []byte, memsz uint32, flags elf.ProgFlag) testSegment {
	return testSegment{typ: elf.PT_LOAD, vaddr: vaddr, data: data, memsz: memsz, flags: flags}
}

// buildELF assembles an i386 executable: the ELF header, the program header
// table and then the data of every segment. Mutators can patch the header
// before it is encoded.
func buildELF(entry uint32, segs []testSegment, mutators ...func(*elf.Header32, []elf.Prog32)) []byte {
	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_386),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     elfHeaderSize,
		Ehsize:    elfHeaderSize,
		Phentsize: elfPhdrSize,
		Phnum:     uint16(len(segs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var (
		phdrs  = make([]elf.Prog32, len(segs))
		offset = uint32(elfHeaderSize + elfPhdrSize*len(segs))
	)
	for i, seg := range segs {
		phdrs[i] = elf.Prog32{
			Type:   uint32(seg.typ),
			Off:    offset,
			Vaddr:  seg.vaddr,
			Paddr:  seg.vaddr,
			Filesz: uint32(len(seg.data)),
			Memsz:  seg.memsz,
			Flags:  uint32(seg.flags),
			Align:  uint32(mem.PageSize),
		}
		offset += uint32(len(seg.data))
	}

	for _, mutate := range mutators {
		mutate(&hdr, phdrs)
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, &hdr)
	_ = binary.Write(&buf, binary.LittleEndian, phdrs)
	for _, seg := range segs {
		buf.Write(seg.data)
	}
	return buf.Bytes()
}

func pattern(length int, seed byte) []byte {
	data := make([]byte, length)
	for i := range data {
		data[i] = seed + byte(i*7)
	}
	return data
}

// twoSegmentImage returns an executable with a 0x200 byte R+X text segment
// at 0x1000 and a R+W data segment at 0x2000 with 0x10 file bytes and 0x30
// bytes in memory.
func twoSegmentImage() []byte {
	return buildELF(0x1000, []testSegment{
		loadSeg(0x1000, pattern(0x200, 1), 0x200, elf.PF_R|elf.PF_X),
		loadSeg(0x2000, pattern(0x10, 2), 0x30, elf.PF_R|elf.PF_W),
	})
}

// countingAllocator forwards to a real allocator and fails every allocation
// from the failAt-th one onwards when failAt is non-zero.
type countingAllocator struct {
	pmm.Allocator

	mu     sync.Mutex
	allocs int
	failAt int
}

var errTestOutOfFrames = &kernel.Error{Module: "test", Message: "out of frames", Kind: kernel.KindOutOfMemory}

func (a *countingAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	a.mu.Lock()
	a.allocs++
	fail := a.failAt != 0 && a.allocs >= a.failAt
	a.mu.Unlock()

	if fail {
		return pmm.InvalidFrame, errTestOutOfFrames
	}
	return a.Allocator.AllocFrame()
}

// faultyPaging forwards to a real Paging and fails the failMapAt-th call to
// Map when failMapAt is non-zero.
type faultyPaging struct {
	Paging

	maps      int
	failMapAt int
}

var errTestMapFailed = &kernel.Error{Module: "test", Message: "map failed", Kind: kernel.KindMappingFailure}

func (p *faultyPaging) Map(dir pmm.Frame, virtAddr uintptr, frame pmm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
	p.maps++
	if p.failMapAt != 0 && p.maps == p.failMapAt {
		return errTestMapFailed
	}
	return p.Paging.Map(dir, virtAddr, frame, flags)
}

// recorder keeps every trace event.
type recorder struct {
	mu     sync.Mutex
	events []trace.Event
}

func (r *recorder) Trace(ev trace.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(level trace.Level, module string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, ev := range r.events {
		if ev.Level == level && ev.Module == module {
			n++
		}
	}
	return n
}

// testEnv is a simulated machine with a Manager wired to it.
type testEnv struct {
	machine  *sim.Machine
	frames   *countingAllocator
	paging   *faultyPaging
	files    fstest.MapFS
	tracer   *recorder
	mgr      *Manager
	baseline uint32
}

type envOption func(*sim.MachineConfig, *Config, *Deps)

func withNX(nx bool) envOption {
	return func(mc *sim.MachineConfig, _ *Config, _ *Deps) { mc.NX = nx }
}

func withConfig(fn func(*Config)) envOption {
	return func(_ *sim.MachineConfig, cfg *Config, _ *Deps) { fn(cfg) }
}

func withDeps(fn func(*Deps)) envOption {
	return func(_ *sim.MachineConfig, _ *Config, deps *Deps) { fn(deps) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	var (
		mcfg = sim.DefaultMachineConfig()
		cfg  = DefaultConfig()
		deps Deps
	)
	for _, opt := range opts {
		opt(&mcfg, &cfg, &deps)
	}

	machine, err := sim.NewMachine(mcfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = machine.Close() })

	// Page tables for user mappings come out of the counted pool too, so
	// exhaustion can hit in the middle of Map.
	frames := &countingAllocator{Allocator: machine.Frames}
	paging := vmm.NewPaging(machine.RAM, frames, mcfg.NX)
	if err = paging.AdoptKernelDirectory(machine.Paging.KernelDirectory(), mcfg.KernelBase()); err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		machine: machine,
		frames:  frames,
		paging:  &faultyPaging{Paging: paging},
		files: fstest.MapFS{
			"bin/init": &fstest.MapFile{Data: twoSegmentImage()},
		},
		tracer: &recorder{},
	}

	if deps.Paging == nil {
		deps.Paging = env.paging
	}
	if deps.Frames == nil {
		deps.Frames = env.frames
	}
	if deps.Files == nil {
		deps.Files = sim.FSReader{FS: env.files}
	}
	if deps.Stack == nil {
		deps.Stack = &machine.TSS
	}
	if deps.Tracer == nil {
		deps.Tracer = env.tracer
	}

	if env.mgr, err = NewManager(cfg, deps); err != nil {
		t.Fatal(err)
	}

	env.baseline = machine.Frames.FreeCount()
	return env
}

func (env *testEnv) addFile(path string, data []byte) {
	env.files[path] = &fstest.MapFile{Data: data}
}

// checkBaseline fails the test if any frame allocated since the
// environment was created has not been returned.
func (env *testEnv) checkBaseline(t *testing.T) {
	t.Helper()

	if got := env.machine.Frames.FreeCount(); got != env.baseline {
		t.Fatalf("expected %d free frames; got %d", env.baseline, got)
	}
}

func (env *testEnv) read(t *testing.T, dir pmm.Frame, virtAddr uintptr, length int) []byte {
	t.Helper()

	buf := make([]byte, length)
	if err := env.machine.ReadVirtual(dir, virtAddr, buf); err != nil {
		t.Fatalf("reading %d bytes at 0x%x: %v", length, virtAddr, err)
	}
	return buf
}
