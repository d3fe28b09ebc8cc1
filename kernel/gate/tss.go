package gate

import "sync/atomic"

// TaskState mirrors the 104-byte i386 task state segment. Only SS0 and ESP0
// are used: the CPU loads them when an interrupt or system call moves a ring 3
// task into ring 0.
type TaskState struct {
	PrevTaskLink uint32
	ESP0         uint32
	SS0          uint32
	ESP1         uint32
	SS1          uint32
	ESP2         uint32
	SS2          uint32
	CR3          uint32
	EIP          uint32
	EFlags       uint32
	EAX          uint32
	ECX          uint32
	EDX          uint32
	EBX          uint32
	ESP          uint32
	EBP          uint32
	ESI          uint32
	EDI          uint32
	ES           uint32
	CS           uint32
	SS           uint32
	DS           uint32
	FS           uint32
	GS           uint32
	LDT          uint32
	Trap         uint16
	IOMapBase    uint16
}

// SetKernelStack sets the stack the CPU switches to when entering ring 0.
func (t *TaskState) SetKernelStack(top uintptr) {
	atomic.StoreUint32(&t.SS0, uint32(KernelDataSelector))
	atomic.StoreUint32(&t.ESP0, uint32(top))
}

// KernelStack returns the ring 0 stack pointer currently installed.
func (t *TaskState) KernelStack() uintptr {
	return uintptr(atomic.LoadUint32(&t.ESP0))
}
