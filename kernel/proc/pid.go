package proc

import (
	"math"
	"sync/atomic"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
)

// PID identifies a process. PIDs are never reused.
type PID uint32

// PIDAllocator hands out monotonically increasing PIDs starting at 1. It is
// safe for concurrent use.
type PIDAllocator struct {
	last uint32
}

// Next returns a fresh PID or an error once the id space is exhausted.
func (a *PIDAllocator) Next() (PID, *kernel.Error) {
	for {
		last := atomic.LoadUint32(&a.last)
		if last == math.MaxUint32 {
			return 0, errPIDExhausted
		}

		if atomic.CompareAndSwapUint32(&a.last, last, last+1) {
			return PID(last + 1), nil
		}
	}
}
