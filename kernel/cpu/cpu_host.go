//go:build !386

package cpu

// The functions below let the kernel packages build and run their tests on a
// development host. None of them touch privileged state.

// Halt panics on the host as there is no CPU to stop.
func Halt() {
	panic("cpu: halt")
}

// FlushTLBEntry is a no-op on the host.
func FlushTLBEntry(_ uintptr) {}

// SwitchPDT is a no-op on the host.
func SwitchPDT(_ uintptr) {}

// ActivePDT always reports that no page directory is active on the host.
func ActivePDT() uintptr { return 0 }
