package trace

import (
	"io"

	"github.com/Blodus/2025-ikt218-osdev/kernel/sync"
)

// ringBufferSize defines the size of the ring buffer that keeps the most
// recent trace output. The ring buffer size must always be a power of 2.
const ringBufferSize = 4096

// Ring is a Tracer that renders events as "[module] message key=value" lines
// into a fixed-size ring buffer. Once full, the oldest bytes are overwritten.
// Ring is safe for concurrent use.
type Ring struct {
	mu             sync.Spinlock
	buffer         [ringBufferSize]byte
	rIndex, wIndex int

	// MinLevel drops events below this level.
	MinLevel Level
}

// Trace implements Tracer.
func (r *Ring) Trace(ev Event) {
	if ev.Level < r.MinLevel {
		return
	}

	r.mu.Acquire()
	defer r.mu.Release()

	r.writeString("[")
	r.writeString(ev.Module)
	r.writeString("] ")
	if ev.Level == LevelWarn {
		r.writeString("warning: ")
	}
	r.writeString(ev.Message)
	for _, f := range ev.Fields {
		r.writeString(" ")
		r.writeString(f.String())
	}
	r.writeString("\n")
}

// Write writes len(p) bytes from p to the ring buffer.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Acquire()
	defer r.mu.Release()

	for _, b := range p {
		r.writeByte(b)
	}
	return len(p), nil
}

func (r *Ring) writeString(s string) {
	for i := 0; i < len(s); i++ {
		r.writeByte(s[i])
	}
}

func (r *Ring) writeByte(b byte) {
	r.buffer[r.wIndex] = b
	r.wIndex = (r.wIndex + 1) & (ringBufferSize - 1)
	if r.rIndex == r.wIndex {
		r.rIndex = (r.rIndex + 1) & (ringBufferSize - 1)
	}
}

// Read reads up to len(p) buffered bytes into p. It returns io.EOF once the
// buffer has been drained.
func (r *Ring) Read(p []byte) (n int, err error) {
	r.mu.Acquire()
	defer r.mu.Release()

	switch {
	case r.rIndex < r.wIndex:
		// read up to min(wIndex - rIndex, len(p)) bytes
		n = copy(p, r.buffer[r.rIndex:r.wIndex])
		r.rIndex += n
		return n, nil
	case r.rIndex > r.wIndex:
		// read up to the end of the buffer and wrap around
		n = copy(p, r.buffer[r.rIndex:])
		r.rIndex = (r.rIndex + n) & (ringBufferSize - 1)
		return n, nil
	default:
		return 0, io.EOF
	}
}
