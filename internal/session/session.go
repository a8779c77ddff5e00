// Package session implements the connection lifecycle state machine shared
// by the producer and consumer sides: Init → Connecting → Handshaking →
// Running → Reconnecting → Closed, with heartbeat-loss detection and
// fixed-interval reconnection.
package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GreptimeTeam/shm-ringbuf/internal/rberr"
)

// State is one of the six connection lifecycle states.
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateHandshaking
	StateRunning
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// missedHeartbeatLimit: three consecutive missed probes mean the
// connection is lost.
const missedHeartbeatLimit = 3

// Connector performs the role-specific work a Session orchestrates:
// dialing both sockets, running the fd-pass handshake, sending/receiving
// heartbeats, and tearing a connection down before a reconnect attempt.
// Producer and Consumer each supply their own implementation.
type Connector interface {
	// Connect dials and handshakes a fresh session. On success the ring is
	// ready for use and the session moves from Handshaking to Running.
	Connect(ctx context.Context) error
	// Heartbeat exchanges one probe/ack. A returned error counts as a
	// missed probe.
	Heartbeat(ctx context.Context) error
	// Teardown releases sockets and any other per-connection resources
	// before a reconnect attempt or final close.
	Teardown()
}

// Config holds the timing knobs that the session state machine itself
// drives.
type Config struct {
	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration
}

// Session drives Connector through the lifecycle state machine and reports
// disconnects so the caller can drain any in-flight work (subscription
// waiters, pending acks) with a Disconnected reason.
type Session struct {
	cfg       Config
	connector Connector
	log       *zap.SugaredLogger

	state        atomic.Int32
	onDisconnect func()
}

// New builds a Session. onDisconnect is invoked every time the session
// drops out of Running — the caller uses it to drain outstanding
// subscriptions.
func New(cfg Config, connector Connector, log *zap.SugaredLogger, onDisconnect func()) *Session {
	s := &Session{
		cfg:          cfg,
		connector:    connector,
		log:          log,
		onDisconnect: onDisconnect,
	}
	s.state.Store(int32(StateInit))
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debugw("session state transition", "state", st.String())
}

// Run drives the connect/heartbeat/reconnect loop until ctx is cancelled,
// at which point it tears the connector down and moves to StateClosed.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		s.connector.Teardown()
		s.setState(StateClosed)
	}()

	reconnect := backoff.NewConstantBackOff(s.cfg.ReconnectInterval)

	for {
		if err := s.connectOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warnw("session connect failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnect.NextBackOff()):
			}
			continue
		}

		err := s.runHeartbeatLoop(ctx)
		if s.onDisconnect != nil {
			s.onDisconnect()
		}
		s.connector.Teardown()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warnw("session disconnected, reconnecting", "error", err)
		s.setState(StateReconnecting)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnect.NextBackOff()):
		}
	}
}

func (s *Session) connectOnce(ctx context.Context) error {
	s.setState(StateConnecting)
	s.setState(StateHandshaking)
	if err := s.connector.Connect(ctx); err != nil {
		return &rberr.IoError{Op: "session connect", Err: err}
	}
	s.setState(StateRunning)
	return nil
}

// runHeartbeatLoop sends heartbeats at HeartbeatInterval until
// missedHeartbeatLimit consecutive ones fail or ctx is cancelled. Every
// Heartbeat error, whatever its cause, counts as one missed heartbeat.
func (s *Session) runHeartbeatLoop(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()

		var missed int
		for {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			case <-ticker.C:
				if err := s.connector.Heartbeat(groupCtx); err != nil {
					missed++
					s.log.Warnw("heartbeat missed", "count", missed, "error", err)
					if missed >= missedHeartbeatLimit {
						return rberr.ErrDisconnected
					}
					continue
				}
				missed = 0
			}
		}
	})

	return group.Wait()
}
