// Package shm creates the shared-memory region that backs a ring buffer:
// an anonymous, page-aligned mapping on Linux, or a file-backed mapping on
// platforms without memfd_create. Both paths return the same shape — an
// open file descriptor suitable for fd-passing and a byte slice mapped
// PROT_READ|PROT_WRITE|MAP_SHARED over it.
package shm

import (
	"golang.org/x/sys/unix"

	"github.com/GreptimeTeam/shm-ringbuf/internal/rberr"
)

// Region is an owned shared-memory mapping. The zero value is not usable;
// construct one with Create or OpenFromFD.
type Region struct {
	fd   int
	data []byte
}

// FD returns the descriptor backing the region, valid for the lifetime of
// the Region and suitable for passing to a peer process over fdpass.
func (r *Region) FD() int { return r.fd }

// Bytes returns the mapped region. Valid until Close.
func (r *Region) Bytes() []byte { return r.data }

// Close unmaps and closes the region. Closing twice is a no-op.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}

	data := r.data
	r.data = nil

	if err := unix.Munmap(data); err != nil {
		unix.Close(r.fd)
		return &rberr.MmapError{Err: err}
	}
	if err := unix.Close(r.fd); err != nil {
		return &rberr.IoError{Op: "close", Err: err}
	}
	return nil
}

// OpenFromFD maps an already-open, already-sized descriptor received over
// fdpass. The consumer never creates its own region; it always maps the fd
// the producer handed it.
func OpenFromFD(fd int) (*Region, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, &rberr.IoError{Op: "fstat", Err: err}
	}

	data, err := mmapShared(fd, int(st.Size))
	if err != nil {
		return nil, err
	}

	return &Region{fd: fd, data: data}, nil
}

func mmapShared(fd int, size int) ([]byte, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, &rberr.MmapError{Err: err}
	}
	return data, nil
}
