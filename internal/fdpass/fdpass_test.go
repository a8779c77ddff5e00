package fdpass

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// unixConnPair returns a connected pair of *net.UnixConn backed by a
// socketpair(2), so SCM_RIGHTS ancillary data can flow between them exactly
// as it would over a real AF_UNIX socket accepted from a listener.
func unixConnPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	toConn := func(fd int) *net.UnixConn {
		f := os.NewFile(uintptr(fd), "socketpair")
		c, err := net.FileConn(f)
		require.NoError(t, err)
		require.NoError(t, f.Close())
		uc, ok := c.(*net.UnixConn)
		require.True(t, ok)
		return uc
	}

	return toConn(fds[0]), toConn(fds[1])
}

func TestSendReceive_RoundTrip(t *testing.T) {
	producerSide, consumerSide := unixConnPair(t)
	defer producerSide.Close()
	defer consumerSide.Close()

	tmp, err := os.CreateTemp(t.TempDir(), "fdpass")
	require.NoError(t, err)
	defer tmp.Close()

	done := make(chan error, 1)
	go func() {
		done <- Send(producerSide, int(tmp.Fd()), 65536, true)
	}()

	fd, handshake, err := Receive(consumerSide)
	require.NoError(t, err)
	defer unix.Close(fd)

	require.NoError(t, <-done)

	assert.Equal(t, uint32(65536), handshake.Capacity)
	assert.True(t, handshake.ChecksumEnabled())

	// The received fd refers to the same file: write through the
	// original, read through the copy.
	_, err = tmp.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := unix.Pread(fd, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestReceive_RejectsBadMagic(t *testing.T) {
	producerSide, consumerSide := unixConnPair(t)
	defer producerSide.Close()
	defer consumerSide.Close()

	tmp, err := os.CreateTemp(t.TempDir(), "fdpass")
	require.NoError(t, err)
	defer tmp.Close()

	body := make([]byte, bodySize)
	oob := unix.UnixRights(int(tmp.Fd()))

	done := make(chan error, 1)
	go func() {
		_, _, err := producerSide.WriteMsgUnix(body, oob, nil)
		done <- err
	}()

	_, _, err = Receive(consumerSide)
	require.Error(t, err)

	require.NoError(t, <-done)
}
