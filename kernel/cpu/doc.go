// Package cpu exposes the privileged i386 instructions used by the memory
// management code.
package cpu
