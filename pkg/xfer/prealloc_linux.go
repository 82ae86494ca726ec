//go:build linux

package xfer

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes for f. Filesystems without fallocate support fall
// back to extending the file.
func preallocate(f *os.File, size int64) error {
	err := unix.Fallocate(int(f.Fd()), 0, 0, size)
	if err == unix.EOPNOTSUPP || err == unix.ENOSYS {
		return extend(f, size)
	}

	return err
}
