// Package sync provides synchronization primitive implementations for
// spinlocks.
package sync

import "sync/atomic"

var (
	// yieldFn is invoked between acquisition attempts once the spin budget
	// is used up. It is nil until the scheduler provides a yield function.
	yieldFn func()
)

// spinAttemptsBeforeYielding is the number of busy-wait iterations a task
// performs before calling yieldFn.
const spinAttemptsBeforeYielding = 64

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempts := uint32(0); !atomic.CompareAndSwapUint32(&l.state, 0, 1); attempts++ {
		if attempts >= spinAttemptsBeforeYielding {
			attempts = 0
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// SetYieldFn registers the function invoked by Acquire while it waits.
func SetYieldFn(fn func()) {
	yieldFn = fn
}
