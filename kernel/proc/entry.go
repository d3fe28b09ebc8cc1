package proc

import (
	"unsafe"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/gate"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
)

// PrepareEntryFrame writes the IRET frame that drops a new process into ring
// 3 at entry with its stack pointer at userStackTop. The frame is pushed
// below kernelStackTop in the order SS, ESP, EFLAGS, CS, EIP and the
// resulting kernel stack pointer is returned. The stack is reached through
// the kernel directory so it does not need to be mapped in the active
// address space.
func PrepareEntryFrame(km KernelMemory, kernelStackTop, entry, userStackTop uintptr) (uintptr, *kernel.Error) {
	if kernelStackTop == 0 || entry == 0 || userStackTop == 0 {
		return 0, errEntryFrameArgs
	}

	if kernelStackTop&3 != 0 || kernelStackTop < gate.IretFrameSize {
		return 0, errEntryFrameTop
	}

	var buf [gate.IretFrameSize]byte
	gate.UserEntryFrame(uint32(entry), uint32(userStackTop)).Encode(buf[:])

	esp := kernelStackTop - gate.IretFrameSize
	if err := copyToKernel(km, esp, buf[:]); err != nil {
		return 0, err
	}

	return esp, nil
}

// ReadEntryFrame decodes the IRET frame stored at esp.
func ReadEntryFrame(km KernelMemory, esp uintptr) (gate.IretFrame, *kernel.Error) {
	var buf [gate.IretFrameSize]byte
	if err := copyFromKernel(km, esp, buf[:]); err != nil {
		return gate.IretFrame{}, err
	}

	return gate.DecodeIretFrame(buf[:]), nil
}

// copyToKernel writes data to kernel virtual memory starting at virtAddr,
// one page at a time.
func copyToKernel(km KernelMemory, virtAddr uintptr, data []byte) *kernel.Error {
	return walkKernelPages(km, virtAddr, len(data), func(mapped uintptr, done, count int) {
		mem.Memcopy(uintptr(unsafe.Pointer(&data[done])), mapped, mem.Size(count))
	})
}

// copyFromKernel fills data from kernel virtual memory starting at virtAddr.
func copyFromKernel(km KernelMemory, virtAddr uintptr, data []byte) *kernel.Error {
	return walkKernelPages(km, virtAddr, len(data), func(mapped uintptr, done, count int) {
		mem.Memcopy(mapped, uintptr(unsafe.Pointer(&data[done])), mem.Size(count))
	})
}

// walkKernelPages translates [virtAddr, virtAddr+length) page by page through
// the kernel directory and invokes fn with a temporary mapping of each chunk.
func walkKernelPages(km KernelMemory, virtAddr uintptr, length int, fn func(mapped uintptr, done, count int)) *kernel.Error {
	kernelDir := km.KernelDirectory()

	for done := 0; done < length; {
		addr := virtAddr + uintptr(done)
		physAddr, err := km.Translate(kernelDir, addr)
		if err != nil {
			return err
		}

		count := int(mem.PageAlignDown(addr) + uintptr(mem.PageSize) - addr)
		if count > length-done {
			count = length - done
		}

		mapped, err := km.MapTemporary(pmm.FrameFromAddress(physAddr))
		if err != nil {
			return err
		}

		fn(mapped+(physAddr&uintptr(mem.PageSize-1)), done, count)
		km.UnmapTemporary(mapped)

		done += count
	}

	return nil
}
