package pmm

import "github.com/Blodus/2025-ikt218-osdev/kernel"

// Allocator is implemented by physical frame allocators.
type Allocator interface {
	// AllocFrame reserves a free frame. It returns an error with kind
	// kernel.KindOutOfMemory when no frames are left.
	AllocFrame() (Frame, *kernel.Error)

	// FreeFrame returns a frame to the allocator.
	FreeFrame(Frame) *kernel.Error
}

type ownedState uint8

const (
	ownedHeld ownedState = iota
	ownedCommitted
	ownedReleased
)

var errCommitReleased = &kernel.Error{Module: "pmm", Message: "commit of a released frame", Kind: kernel.KindInvalidArgument}

// Owned is a single-owner handle to a freshly allocated frame. Until Commit is
// called the holder is responsible for the frame and Release returns it to
// the allocator. After Commit the frame belongs to whatever structure it was
// installed into (a page table or page directory) and Release becomes a no-op.
type Owned struct {
	alloc Allocator
	frame Frame
	state ownedState
}

// Reserve allocates a frame from alloc and wraps it in an Owned handle.
func Reserve(alloc Allocator) (*Owned, *kernel.Error) {
	frame, err := alloc.AllocFrame()
	if err != nil {
		return nil, err
	}

	return &Owned{alloc: alloc, frame: frame}, nil
}

// Frame returns the wrapped frame.
func (o *Owned) Frame() Frame {
	return o.frame
}

// Commit transfers ownership of the frame away from the handle and returns
// the frame. Committing a released frame is an invariant violation.
func (o *Owned) Commit() Frame {
	if o.state == ownedReleased {
		kernel.Panic(errCommitReleased)
	}

	o.state = ownedCommitted
	return o.frame
}

// Release returns the frame to its allocator if the handle still owns it.
// Subsequent calls, or calls after Commit, have no effect.
func (o *Owned) Release() *kernel.Error {
	if o == nil || o.state != ownedHeld {
		return nil
	}

	o.state = ownedReleased
	return o.alloc.FreeFrame(o.frame)
}
