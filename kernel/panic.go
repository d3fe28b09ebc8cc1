package kernel

import (
	"io"

	"github.com/Blodus/2025-ikt218-osdev/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	// panicSink receives the panic banner. It is nil until the console
	// comes up, in which case the banner is dropped.
	panicSink io.Writer

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// SetPanicSink sets the writer that receives the output of Panic.
func SetPanicSink(w io.Writer) {
	panicSink = w
}

// Panic outputs the supplied error (if not nil) to the panic sink and halts
// the CPU. Calls to Panic never return.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	if w := panicSink; w != nil {
		io.WriteString(w, "\n-----------------------------------\n")
		if err != nil {
			io.WriteString(w, "["+err.Module+"] unrecoverable error: "+err.Message+"\n")
		}
		io.WriteString(w, "*** kernel panic: system halted ***")
		io.WriteString(w, "\n-----------------------------------\n")
	}

	cpuHaltFn()
}
