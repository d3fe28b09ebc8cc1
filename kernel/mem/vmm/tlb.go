package vmm

import (
	"github.com/Blodus/2025-ikt218-osdev/kernel/cpu"
	"github.com/Blodus/2025-ikt218-osdev/kernel/mem/pmm"
)

var (
	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// activePDTFn is used by tests to override calls to activePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// switchPDTFn is used by tests to override calls to switchPDT which
	// will cause a fault if called in user-mode.
	switchPDTFn = cpu.SwitchPDT
)

// Activate loads dir into CR3, which also flushes every non-global TLB entry.
func Activate(dir pmm.Frame) {
	switchPDTFn(dir.Address())
}

// isActive returns true if dir is the page directory currently loaded in CR3.
func isActive(dir pmm.Frame) bool {
	return activePDTFn() == dir.Address()
}

// Deactivate switches to the kernel directory if dir is the active page
// directory. It must be called before the frame behind dir is freed.
func (p *Paging) Deactivate(dir pmm.Frame) {
	if p.kernelDir.Valid() && dir != p.kernelDir && isActive(dir) {
		Activate(p.kernelDir)
	}
}
