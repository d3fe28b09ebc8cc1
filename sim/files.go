package sim

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/Blodus/2025-ikt218-osdev/kernel"
)

var (
	errFileNotFound = &kernel.Error{Module: "fs", Message: "no such file", Kind: kernel.KindIOFailure}
	errFileRead     = &kernel.Error{Module: "fs", Message: "could not read file", Kind: kernel.KindIOFailure}
)

// FSReader serves executables from a host file system. Leading slashes are
// stripped so kernel-style absolute paths resolve inside FS.
type FSReader struct {
	FS fs.FS
}

// ReadFile returns the contents of path.
func (r FSReader) ReadFile(path string) ([]byte, *kernel.Error) {
	name := strings.TrimLeft(path, "/")
	if name == "" {
		name = "."
	}

	data, err := fs.ReadFile(r.FS, name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, errFileNotFound
	case err != nil:
		return nil, errFileRead
	}

	return data, nil
}
