//go:build unix

package safetensors

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps the whole file read-only. Callers fall back to ReadAt when it fails.
func mapFile(f *os.File, size int64) ([]byte, func() error, error) {
	if size <= 0 || size > int64(int(^uint(0)>>1)) {
		return nil, nil, errors.New("safetensors: file size not mappable")
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return unix.Munmap(data) }, nil
}
