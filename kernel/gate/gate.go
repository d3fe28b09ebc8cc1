// Package gate describes the i386 privilege transition structures used when
// entering user mode: GDT selectors, the IRET return frame and the task state
// segment that supplies the kernel stack on the way back.
package gate

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Selector is a GDT segment selector.
type Selector uint16

// GDT layout shared with the boot code.
const (
	KernelCodeSelector Selector = 0x08
	KernelDataSelector Selector = 0x10
	UserCodeSelector   Selector = 0x18
	UserDataSelector   Selector = 0x20
	TSSSelector        Selector = 0x28

	// RPLUser is the requested privilege level for ring 3 selectors.
	RPLUser Selector = 3
)

// WithRPL returns the selector with its requested privilege level set to rpl.
func (s Selector) WithRPL(rpl Selector) Selector {
	return (s &^ 3) | (rpl & 3)
}

// RPL returns the requested privilege level encoded in the selector.
func (s Selector) RPL() Selector {
	return s & 3
}

const (
	// EFlagsReserved is bit 1 of EFLAGS, which always reads as 1.
	EFlagsReserved = uint32(1 << 1)

	// EFlagsIF enables maskable interrupts.
	EFlagsIF = uint32(1 << 9)

	// UserEFlags is loaded when a process first enters user mode:
	// interrupts enabled, IOPL 0.
	UserEFlags = EFlagsIF | EFlagsReserved
)

// IretFrameSize is the number of bytes popped by IRET on a privilege change.
const IretFrameSize = 5 * 4

// IretFrame is the return frame consumed by IRET when returning to a lower
// privilege level. Fields are listed from the lowest address (the stack
// pointer at the time of IRET) upwards.
type IretFrame struct {
	EIP    uint32
	CS     uint32
	EFlags uint32
	ESP    uint32
	SS     uint32
}

// UserEntryFrame returns the frame that starts a ring 3 task at entry with
// its stack pointer set to userStackTop.
func UserEntryFrame(entry, userStackTop uint32) IretFrame {
	return IretFrame{
		EIP:    entry,
		CS:     uint32(UserCodeSelector.WithRPL(RPLUser)),
		EFlags: UserEFlags,
		ESP:    userStackTop,
		SS:     uint32(UserDataSelector.WithRPL(RPLUser)),
	}
}

// Encode writes the frame into buf in memory order. buf must be at least
// IretFrameSize bytes long.
func (f IretFrame) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], f.EIP)
	binary.LittleEndian.PutUint32(buf[4:], f.CS)
	binary.LittleEndian.PutUint32(buf[8:], f.EFlags)
	binary.LittleEndian.PutUint32(buf[12:], f.ESP)
	binary.LittleEndian.PutUint32(buf[16:], f.SS)
}

// DecodeIretFrame reads a frame from buf, which must be at least
// IretFrameSize bytes long.
func DecodeIretFrame(buf []byte) IretFrame {
	return IretFrame{
		EIP:    binary.LittleEndian.Uint32(buf[0:]),
		CS:     binary.LittleEndian.Uint32(buf[4:]),
		EFlags: binary.LittleEndian.Uint32(buf[8:]),
		ESP:    binary.LittleEndian.Uint32(buf[12:]),
		SS:     binary.LittleEndian.Uint32(buf[16:]),
	}
}

// DumpTo outputs the frame contents to w.
func (f *IretFrame) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "EIP = %08x CS  = %08x\n", f.EIP, f.CS)
	fmt.Fprintf(w, "ESP = %08x SS  = %08x\n", f.ESP, f.SS)
	fmt.Fprintf(w, "EFL = %08x\n", f.EFlags)
}
