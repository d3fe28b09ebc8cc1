package proc

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/vmm"
)

const (
	elfHeaderSize  = 52
	elfPhdrSize    = 32
	maxUserAddress = uint64(1) << 32
)

// Segment is a validated PT_LOAD program header with a non-zero memory size.
type Segment struct {
	VirtAddr uintptr
	MemSize  uintptr
	FileSize uintptr
	Offset   uintptr
	Flags    elf.ProgFlag
}

// Cover returns the page-aligned range that holds the segment.
func (s Segment) Cover() (start, end uintptr) {
	return mem.PageAlignDown(s.VirtAddr), mem.PageAlignUp(s.VirtAddr + s.MemSize)
}

// VMFlags returns the VMA flags for the segment. Segment pages are private
// copies of the image, so the VMA is anonymous.
func (s Segment) VMFlags() VMFlags {
	flags := VMUser | VMAnonymous
	if s.Flags&elf.PF_R != 0 {
		flags |= VMRead
	}
	if s.Flags&elf.PF_W != 0 {
		flags |= VMWrite
	}
	if s.Flags&elf.PF_X != 0 {
		flags |= VMExec
	}
	return flags
}

// Prot returns the page protection for the segment. Non-executable segments
// are marked no-execute only if the platform supports it.
func (s Segment) Prot(nxSupported bool) vmm.PageTableEntryFlag {
	prot := vmm.FlagPresent | vmm.FlagUserAccessible
	if s.Flags&elf.PF_W != 0 {
		prot |= vmm.FlagRW
	}
	if s.Flags&elf.PF_X == 0 && nxSupported {
		prot |= vmm.FlagNoExecute
	}
	return prot
}

// FlagString renders the segment permissions as e.g. "R-X".
func (s Segment) FlagString() string {
	buf := []byte("---")
	if s.Flags&elf.PF_R != 0 {
		buf[0] = 'R'
	}
	if s.Flags&elf.PF_W != 0 {
		buf[1] = 'W'
	}
	if s.Flags&elf.PF_X != 0 {
		buf[2] = 'X'
	}
	return string(buf)
}

// Image is a validated ELF32 executable.
type Image struct {
	Header   elf.Header32
	Entry    uintptr
	Segments []Segment
}

// InspectImage validates an i386 ELF executable and returns its loadable
// segments. Nothing is allocated or mapped. Every segment must sit entirely
// below kernelBase.
func InspectImage(image []byte, kernelBase uintptr) (*Image, *kernel.Error) {
	var hdr elf.Header32

	if len(image) < elfHeaderSize {
		return nil, errImageTooSmall
	}

	if err := binary.Read(bytes.NewReader(image[:elfHeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, errImageTooSmall
	}

	switch {
	case string(hdr.Ident[:len(elf.ELFMAG)]) != elf.ELFMAG:
		return nil, errImageBadMagic
	case elf.Class(hdr.Ident[elf.EI_CLASS]) != elf.ELFCLASS32:
		return nil, errImageBadClass
	case elf.Data(hdr.Ident[elf.EI_DATA]) != elf.ELFDATA2LSB:
		return nil, errImageBadData
	case elf.Type(hdr.Type) != elf.ET_EXEC:
		return nil, errImageBadType
	case elf.Machine(hdr.Machine) != elf.EM_386:
		return nil, errImageBadMachine
	case hdr.Version != uint32(elf.EV_CURRENT):
		return nil, errImageBadVersion
	case hdr.Phentsize != elfPhdrSize:
		return nil, errImageBadPhentsize
	case hdr.Phoff == 0 || hdr.Phnum == 0:
		return nil, errImageNoPhdrs
	case uint64(hdr.Phoff)+uint64(hdr.Phnum)*uint64(hdr.Phentsize) > uint64(len(image)):
		return nil, errImagePhdrsTruncated
	case hdr.Entry == 0 || uint64(hdr.Entry) >= uint64(kernelBase):
		return nil, errImageBadEntry
	}

	img := &Image{Header: hdr, Entry: uintptr(hdr.Entry)}
	for index := uint64(0); index < uint64(hdr.Phnum); index++ {
		var (
			phdr elf.Prog32
			off  = uint64(hdr.Phoff) + index*elfPhdrSize
		)

		if err := binary.Read(bytes.NewReader(image[off:off+elfPhdrSize]), binary.LittleEndian, &phdr); err != nil {
			return nil, errImagePhdrsTruncated
		}

		if elf.ProgType(phdr.Type) != elf.PT_LOAD || phdr.Memsz == 0 {
			continue
		}

		if err := checkSegment(&phdr, uint64(len(image)), uint64(kernelBase)); err != nil {
			return nil, err
		}

		img.Segments = append(img.Segments, Segment{
			VirtAddr: uintptr(phdr.Vaddr),
			MemSize:  uintptr(phdr.Memsz),
			FileSize: uintptr(phdr.Filesz),
			Offset:   uintptr(phdr.Off),
			Flags:    elf.ProgFlag(phdr.Flags),
		})
	}

	return img, nil
}

// checkSegment validates a PT_LOAD header against the image size and the
// user half of the address space.
func checkSegment(phdr *elf.Prog32, imageLen, kernelBase uint64) *kernel.Error {
	end := uint64(phdr.Vaddr) + uint64(phdr.Memsz)

	switch {
	case end > maxUserAddress:
		return errSegmentWraps
	case uint64(phdr.Vaddr) >= kernelBase || end > kernelBase:
		return errSegmentInKernel
	case phdr.Filesz > phdr.Memsz:
		return errSegmentFileSize
	case uint64(phdr.Off) > imageLen || uint64(phdr.Filesz) > imageLen-uint64(phdr.Off):
		return errSegmentTruncated
	}

	return nil
}
