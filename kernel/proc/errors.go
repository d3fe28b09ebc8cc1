package proc

import "github.com/Blodus/2025-ikt218-osdev/kernel"

var (
	errConfigKernelBase   = &kernel.Error{Module: "proc", Message: "kernel base must be a non-zero multiple of 4MiB", Kind: kernel.KindInvalidArgument}
	errConfigStackArena   = &kernel.Error{Module: "proc", Message: "kernel stack arena must be a page-aligned kernel range that fits at least one stack", Kind: kernel.KindInvalidArgument}
	errConfigUserStack    = &kernel.Error{Module: "proc", Message: "user stack must be a non-empty page-aligned range below the kernel base", Kind: kernel.KindInvalidArgument}
	errConfigMaxProcesses = &kernel.Error{Module: "proc", Message: "process limit must be positive", Kind: kernel.KindInvalidArgument}
	errUnknownArenaPolicy = &kernel.Error{Module: "proc", Message: "unknown kernel stack arena policy", Kind: kernel.KindInvalidArgument}
	errMissingDependency  = &kernel.Error{Module: "proc", Message: "paging, frame allocator and file reader are required", Kind: kernel.KindInvalidArgument}

	errProcessTableFull = &kernel.Error{Module: "proc", Message: "process table is full", Kind: kernel.KindOutOfMemory}
	errPIDExhausted     = &kernel.Error{Module: "proc", Message: "process id space exhausted", Kind: kernel.KindOutOfMemory}
	errReadExecutable   = &kernel.Error{Module: "proc", Message: "could not read executable", Kind: kernel.KindIOFailure}

	errKernelStackSize = &kernel.Error{Module: "kstack", Message: "kernel stack size must be a non-zero multiple of the page size", Kind: kernel.KindInvalidArgument}
	errArenaExhausted  = &kernel.Error{Module: "kstack", Message: "kernel stack arena exhausted", Kind: kernel.KindAddressSpaceExhausted}

	errEntryFrameArgs = &kernel.Error{Module: "entry", Message: "kernel stack top, entry point and user stack top must be non-zero", Kind: kernel.KindInvalidArgument}
	errEntryFrameTop  = &kernel.Error{Module: "entry", Message: "kernel stack top must be word-aligned and leave room for the return frame", Kind: kernel.KindInvalidArgument}

	errVMAUnaligned   = &kernel.Error{Module: "mm", Message: "VMA bounds must be page-aligned", Kind: kernel.KindAddressSpaceExhausted}
	errVMAInverted    = &kernel.Error{Module: "mm", Message: "VMA start is above its end", Kind: kernel.KindAddressSpaceExhausted}
	errVMAOverlap     = &kernel.Error{Module: "mm", Message: "VMA overlaps an existing area", Kind: kernel.KindAddressSpaceExhausted}
	errVMAKernelSpace = &kernel.Error{Module: "mm", Message: "VMA reaches into kernel space", Kind: kernel.KindAddressSpaceExhausted}

	errImageTooSmall       = &kernel.Error{Module: "elf", Message: "image is smaller than an ELF header", Kind: kernel.KindInvalidImage}
	errImageBadMagic       = &kernel.Error{Module: "elf", Message: "bad ELF magic", Kind: kernel.KindInvalidImage}
	errImageBadClass       = &kernel.Error{Module: "elf", Message: "not a 32-bit ELF image", Kind: kernel.KindInvalidImage}
	errImageBadData        = &kernel.Error{Module: "elf", Message: "not a little-endian ELF image", Kind: kernel.KindInvalidImage}
	errImageBadType        = &kernel.Error{Module: "elf", Message: "not an executable ELF image", Kind: kernel.KindInvalidImage}
	errImageBadMachine     = &kernel.Error{Module: "elf", Message: "not an i386 ELF image", Kind: kernel.KindInvalidImage}
	errImageBadVersion     = &kernel.Error{Module: "elf", Message: "unsupported ELF version", Kind: kernel.KindInvalidImage}
	errImageBadPhentsize   = &kernel.Error{Module: "elf", Message: "unexpected program header entry size", Kind: kernel.KindInvalidImage}
	errImageNoPhdrs        = &kernel.Error{Module: "elf", Message: "image has no program headers", Kind: kernel.KindInvalidImage}
	errImagePhdrsTruncated = &kernel.Error{Module: "elf", Message: "program header table extends past the end of the image", Kind: kernel.KindInvalidImage}
	errImageBadEntry       = &kernel.Error{Module: "elf", Message: "entry point is zero or in kernel space", Kind: kernel.KindInvalidImage}
	errSegmentWraps        = &kernel.Error{Module: "elf", Message: "segment wraps around the address space", Kind: kernel.KindInvalidImage}
	errSegmentInKernel     = &kernel.Error{Module: "elf", Message: "segment reaches into kernel space", Kind: kernel.KindInvalidImage}
	errSegmentFileSize     = &kernel.Error{Module: "elf", Message: "segment file size exceeds its memory size", Kind: kernel.KindInvalidImage}
	errSegmentTruncated    = &kernel.Error{Module: "elf", Message: "segment data extends past the end of the image", Kind: kernel.KindInvalidImage}
)
