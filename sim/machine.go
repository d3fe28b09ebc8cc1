package sim

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/gate"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm/allocator"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
)

var errReservedLow = &kernel.Error{Module: "sim", Message: "reserved low memory must be page-aligned and smaller than RAM", Kind: kernel.KindInvalidArgument}

// Machine is a booted simulated machine: RAM, a frame allocator over
// everything above the reserved low memory, a kernel page directory and a
// TSS.
type Machine struct {
	RAM    *RAM
	Frames *allocator.BitmapAllocator
	Paging *vmm.Paging
	TSS    gate.TaskState
}

// NewMachine boots a machine described by cfg.
func NewMachine(cfg MachineConfig) (*Machine, *kernel.Error) {
	if cfg.ReservedLow >= cfg.RAMSize || !mem.IsPageAligned(uintptr(cfg.ReservedLow)) {
		return nil, errReservedLow
	}

	ram, err := NewRAM(mem.Size(cfg.RAMSize))
	if err != nil {
		return nil, err
	}

	frames, err := allocator.NewBitmapAllocator([]allocator.Region{
		{PhysAddress: cfg.ReservedLow, Length: cfg.RAMSize - cfg.ReservedLow},
	})
	if err != nil {
		_ = ram.Close()
		return nil, err
	}

	paging := vmm.NewPaging(ram, frames, cfg.NX)
	if err = paging.InitKernelDirectory(cfg.KernelBase()); err != nil {
		_ = ram.Close()
		return nil, err
	}

	return &Machine{RAM: ram, Frames: frames, Paging: paging}, nil
}

// Close releases the simulated RAM.
func (m *Machine) Close() error {
	return m.RAM.Close()
}

// ReadVirtual copies len(buf) bytes from virtAddr in dir into buf. Every page
// in the range must be mapped.
func (m *Machine) ReadVirtual(dir pmm.Frame, virtAddr uintptr, buf []byte) *kernel.Error {
	for done := 0; done < len(buf); {
		addr := virtAddr + uintptr(done)
		physAddr, err := m.Paging.Translate(dir, addr)
		if err != nil {
			return err
		}

		count := int(mem.PageAlignDown(addr) + uintptr(mem.PageSize) - addr)
		if count > len(buf)-done {
			count = len(buf) - done
		}

		src := m.RAM.Bytes(physAddr, count)
		if src == nil {
			return errFrameOutside
		}

		done += copy(buf[done:], src)
	}

	return nil
}
