//go:build linux

package shm

import (
	"golang.org/x/sys/unix"

	"github.com/GreptimeTeam/shm-ringbuf/internal/rberr"
)

// Create allocates a new anonymous shared-memory region of size bytes using
// memfd_create. backedFilePath is ignored on Linux; it exists only so
// callers don't need a build-tag switch of their own. The returned fd has
// no name visible in the filesystem and is reclaimed by the kernel once
// every process holding it exits or closes it.
func Create(size int, backedFilePath string) (*Region, error) {
	fd, err := unix.MemfdCreate("shm-ringbuf", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, &rberr.MemFdError{Name: "shm-ringbuf", Err: err}
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

	return &Region{fd: fd, data: data}, nil
}
