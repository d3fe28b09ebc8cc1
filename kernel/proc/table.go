package proc

import (
	"sort"

	"github.com/Blodus/2025-ikt218-osdev/kernel/sync"
)

// processTable stores live PCBs. Slots are reserved before a process is
// built so that a full table is detected before any allocation happens.
type processTable struct {
	mu       sync.Spinlock
	capacity int
	reserved int
	procs    map[PID]*Process
}

func newProcessTable(capacity int) *processTable {
	return &processTable{
		capacity: capacity,
		procs:    make(map[PID]*Process),
	}
}

// reserve claims a slot.
func (t *processTable) reserve() bool {
	t.mu.Acquire()
	defer t.mu.Release()

	if t.reserved >= t.capacity {
		return false
	}

	t.reserved++
	return true
}

// publish makes p visible to lookups. Its slot must already be reserved.
func (t *processTable) publish(p *Process) {
	t.mu.Acquire()
	t.procs[p.PID] = p
	t.mu.Release()
}

// release removes p if published and frees its slot.
func (t *processTable) release(p *Process) {
	t.mu.Acquire()
	defer t.mu.Release()

	if t.procs[p.PID] == p {
		delete(t.procs, p.PID)
	}
	t.reserved--
}

func (t *processTable) lookup(pid PID) *Process {
	t.mu.Acquire()
	defer t.mu.Release()

	return t.procs[pid]
}

func (t *processTable) len() int {
	t.mu.Acquire()
	defer t.mu.Release()

	return len(t.procs)
}

// snapshot returns the published processes ordered by PID.
func (t *processTable) snapshot() []*Process {
	t.mu.Acquire()
	list := make([]*Process, 0, len(t.procs))
	for _, p := range t.procs {
		list = append(list, p)
	}
	t.mu.Release()

	sort.Slice(list, func(i, j int) bool { return list[i].PID < list[j].PID })
	return list
}
