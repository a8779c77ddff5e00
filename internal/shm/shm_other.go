//go:build !linux

package shm

import (
	"golang.org/x/sys/unix"

	"github.com/GreptimeTeam/shm-ringbuf/internal/rberr"
)

// Create allocates a shared-memory region backed by a regular file at
// backedFilePath, since memfd_create is Linux-only. The file is created if
// absent, truncated to size, mapped, and then unlinked — the fd keeps the storage alive for as long as any process holds it mapped or
// open, the same anonymous-once-shared lifetime memfd_create gives on
// Linux.
func Create(size int, backedFilePath string) (*Region, error) {
	fd, err := unix.Open(backedFilePath, unix.O_CREAT|unix.O_RDWR, 0o600)
	if err != nil {
		return nil, &rberr.IoError{Op: "open " + backedFilePath, Err: err}
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, &rberr.IoError{Op: "ftruncate", Err: err}
	}

	data, err := mmapShared(fd, size)
	if err != nil {
		unix.Close(fd)
		return nil, &rberr.MmapAnonymousError{Err: err}
	}

	_ = unix.Unlink(backedFilePath)

	return &Region{fd: fd, data: data}, nil
}
