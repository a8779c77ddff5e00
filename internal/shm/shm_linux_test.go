//go:build linux

package shm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/GreptimeTeam/shm-ringbuf/internal/xerror"
)

// dupFD returns a duplicate of fd so the reopened region owns an
// independent descriptor; Region.Close closes whatever fd it holds, so
// reusing the original would double-close it.
func dupFD(t *testing.T, fd int) int {
	t.Helper()
	return xerror.Unwrap(unix.Dup(fd))
}

func TestCreate_RoundTripThroughFD(t *testing.T) {
	region, err := Create(4096, "")
	require.NoError(t, err)
	defer region.Close()

	copy(region.Bytes(), []byte("hello shared memory"))

	reopened, err := OpenFromFD(dupFD(t, region.FD()))
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, "hello shared memory", string(reopened.Bytes()[:19]))

	// Writes through either mapping are visible to the other: both map
	// the same underlying page, as required for producer/consumer use.
	copy(reopened.Bytes()[19:], []byte("!"))
	assert.Equal(t, byte('!'), region.Bytes()[19])
}

func TestClose_IsIdempotent(t *testing.T) {
	region, err := Create(4096, "")
	require.NoError(t, err)

	require.NoError(t, region.Close())
	require.NoError(t, region.Close())
}
