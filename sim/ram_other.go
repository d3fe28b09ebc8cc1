//go:build !unix

package sim

func allocRAM(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
