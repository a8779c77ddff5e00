package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GreptimeTeam/shm-ringbuf/internal/rberr"
)

func TestRegister_RejectsDuplicateMsgID(t *testing.T) {
	r := New(time.Second)

	_, err := r.Register(7, 0)
	require.NoError(t, err)

	_, err = r.Register(7, 0)
	var invalid *rberr.InvalidParameterError
	require.ErrorAs(t, err, &invalid)
}

func TestDeliver_CompletesWaiter(t *testing.T) {
	r := New(time.Second)
	w, err := r.Register(1, 0)
	require.NoError(t, err)

	r.Deliver(1, Result{Payload: []byte("ok")})

	res := w.Await()
	require.NoError(t, res.Err)
	assert.Equal(t, []byte("ok"), res.Payload)
	assert.Zero(t, r.Len())
}

func TestDeliver_LateOrUnknownMsgIDIsDropped(t *testing.T) {
	r := New(time.Second)
	// Should not panic or block.
	r.Deliver(999, Result{})
	assert.Zero(t, r.Len())
}

// TestTick_ExpiresTimedOutWaiter checks that a waiter with a short TTL
// that is never delivered completes with rberr.ErrTimeout once Tick runs
// past its deadline, and the registry returns to size 0.
func TestTick_ExpiresTimedOutWaiter(t *testing.T) {
	r := New(time.Second)
	w, err := r.Register(7, 100*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, 0, r.Tick(time.Now()))

	expired := r.Tick(time.Now().Add(150 * time.Millisecond))
	assert.Equal(t, 1, expired)

	res := w.Await()
	assert.ErrorIs(t, res.Err, rberr.ErrTimeout)
	assert.Zero(t, r.Len())
}

func TestTick_LeavesUnexpiredWaitersInPlace(t *testing.T) {
	r := New(time.Second)
	_, err := r.Register(1, 50*time.Millisecond)
	require.NoError(t, err)
	_, err = r.Register(2, 5*time.Second)
	require.NoError(t, err)

	expired := r.Tick(time.Now().Add(100 * time.Millisecond))
	assert.Equal(t, 1, expired)
	assert.Equal(t, 1, r.Len())
}

// TestDrain_CompletesAllWithReason checks the disconnected-on-teardown
// behavior: every outstanding waiter completes with the given reason.
func TestDrain_CompletesAllWithReason(t *testing.T) {
	r := New(time.Second)
	w1, err := r.Register(1, 0)
	require.NoError(t, err)
	w2, err := r.Register(2, 0)
	require.NoError(t, err)

	r.Drain(rberr.ErrDisconnected)

	assert.ErrorIs(t, w1.Await().Err, rberr.ErrDisconnected)
	assert.ErrorIs(t, w2.Await().Err, rberr.ErrDisconnected)
	assert.Zero(t, r.Len())
}

func TestDeliver_DoesNotRaceWithTick(t *testing.T) {
	r := New(time.Second)
	w, err := r.Register(1, 20*time.Millisecond)
	require.NoError(t, err)

	r.Deliver(1, Result{Payload: []byte("won the race")})
	r.Tick(time.Now().Add(time.Hour))

	res := w.Await()
	require.NoError(t, res.Err)
	assert.Equal(t, []byte("won the race"), res.Payload)
}
