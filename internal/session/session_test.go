package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeConnector struct {
	connectCalls    atomic.Int32
	teardownCalls   atomic.Int32
	heartbeatErrAt  int32 // heartbeat call index (1-based) that starts failing, 0 = never
	heartbeatCalls  atomic.Int32
	connectFailUntil int32
}

func (f *fakeConnector) Connect(ctx context.Context) error {
	n := f.connectCalls.Add(1)
	if n <= f.connectFailUntil {
		return assert.AnError
	}
	return nil
}

func (f *fakeConnector) Heartbeat(ctx context.Context) error {
	n := f.heartbeatCalls.Add(1)
	if f.heartbeatErrAt != 0 && n >= f.heartbeatErrAt {
		return assert.AnError
	}
	return nil
}

func (f *fakeConnector) Teardown() {
	f.teardownCalls.Add(1)
}

func TestSession_ReachesRunningAfterConnect(t *testing.T) {
	connector := &fakeConnector{}
	var disconnects atomic.Int32

	s := New(Config{HeartbeatInterval: 10 * time.Millisecond, ReconnectInterval: 10 * time.Millisecond},
		connector, zaptest.NewLogger(t).Sugar(), func() { disconnects.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.State() == StateRunning }, 40*time.Millisecond, time.Millisecond)
	<-done
	assert.Equal(t, StateClosed, s.State())
	assert.GreaterOrEqual(t, connector.connectCalls.Load(), int32(1))
}

// TestSession_ReconnectsAfterHeartbeatLoss checks that missing the
// heartbeat limit drains subscriptions with a Disconnected reason and the
// session reconnects.
func TestSession_ReconnectsAfterHeartbeatLoss(t *testing.T) {
	connector := &fakeConnector{heartbeatErrAt: 2}
	var disconnects atomic.Int32

	s := New(Config{HeartbeatInterval: 5 * time.Millisecond, ReconnectInterval: 5 * time.Millisecond},
		connector, zaptest.NewLogger(t).Sugar(), func() { disconnects.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_ = s.Run(ctx)

	assert.GreaterOrEqual(t, connector.connectCalls.Load(), int32(2), "should reconnect at least once")
	assert.GreaterOrEqual(t, disconnects.Load(), int32(1))
}

func TestSession_RetriesFailedConnect(t *testing.T) {
	connector := &fakeConnector{connectFailUntil: 2}

	s := New(Config{HeartbeatInterval: 5 * time.Millisecond, ReconnectInterval: 5 * time.Millisecond},
		connector, zaptest.NewLogger(t).Sugar(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_ = s.Run(ctx)
	assert.GreaterOrEqual(t, connector.connectCalls.Load(), int32(3))
}

func TestState_String(t *testing.T) {
	require.Equal(t, "running", StateRunning.String())
	require.Equal(t, "unknown", State(99).String())
}
