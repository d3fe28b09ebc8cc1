//go:build unix

package sim

import "golang.org/x/sys/unix"

// allocRAM backs simulated RAM with an anonymous private mapping so that it
// lives outside the Go heap.
func allocRAM(size int) ([]byte, func() error, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}

	return buf, func() error { return unix.Munmap(buf) }, nil
}
