package shmringbuf

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/GreptimeTeam/shm-ringbuf/internal/control"
	"github.com/GreptimeTeam/shm-ringbuf/internal/fdpass"
	"github.com/GreptimeTeam/shm-ringbuf/internal/rberr"
	"github.com/GreptimeTeam/shm-ringbuf/internal/ring"
	"github.com/GreptimeTeam/shm-ringbuf/internal/session"
	"github.com/GreptimeTeam/shm-ringbuf/internal/shm"
)

// Consumer reads messages from a shared-memory ring whose descriptor it
// receives from a Producer over the fd-pass handshake, and optionally
// reports processing results back over the control channel.
type Consumer struct {
	cfg  *Config
	opts *options

	session *session.Session

	mu            sync.Mutex
	region        *shm.Region
	buf           *ring.Ring
	control       *controlConn
	lastProbeUnix atomic.Int64
}

// NewConsumer builds a Consumer that dials cfg.FDPassSockPath and
// cfg.GRPCSockPath on every (re)connection attempt.
func NewConsumer(cfg *Config, opts ...Option) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	c := &Consumer{cfg: cfg, opts: o}
	c.session = session.New(session.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectInterval: cfg.ReconnectInterval,
	}, (*consumerConnector)(c), o.log, nil)

	return c, nil
}

// Run drives the session state machine (dial, handshake, heartbeat-ack,
// reconnect) until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.session.Run(ctx)
}

// Next returns the oldest unconsumed message, or rberr.ErrEmpty if the
// ring currently has nothing to read.
func (c *Consumer) Next() (*Message, error) {
	c.mu.Lock()
	buf := c.buf
	c.mu.Unlock()

	if buf == nil {
		return nil, rberr.ErrDisconnected
	}

	f, err := buf.Consume()
	if err != nil {
		return nil, err
	}
	return &Message{MsgID: f.MsgID, Payload: f.Payload}, nil
}

// Ack reports the result of processing msg back to the producer's
// subscription registry, when result-fetch is enabled. It is a no-op
// otherwise; internal/ring's Consume has already advanced the consume
// cursor past msg.
func (c *Consumer) Ack(msg *Message, reply Reply) error {
	if !c.cfg.EnableResultFetch {
		return nil
	}

	c.mu.Lock()
	cc := c.control
	c.mu.Unlock()
	if cc == nil {
		return rberr.ErrDisconnected
	}

	return cc.sendReport(control.ResultReport{
		MsgID:   msg.MsgID,
		Status:  reply.Status,
		Payload: reply.Payload,
	})
}

// consumerConnector adapts Consumer to session.Connector.
type consumerConnector Consumer

func (cc *consumerConnector) Connect(ctx context.Context) error {
	c := (*Consumer)(cc)

	dialer := net.Dialer{}
	fdpassConn, err := dialer.DialContext(ctx, "unix", c.cfg.FDPassSockPath)
	if err != nil {
		return &rberr.IoError{Op: "dial fdpass", Err: err}
	}
	unixConn, ok := fdpassConn.(*net.UnixConn)
	if !ok {
		fdpassConn.Close()
		return &rberr.InvalidParameterError{Detail: "fdpass socket is not a unix socket"}
	}

	fd, handshake, err := fdpass.Receive(unixConn)
	unixConn.Close()
	if err != nil {
		return err
	}

	region, err := shm.OpenFromFD(fd)
	if err != nil {
		unix.Close(fd)
		return err
	}

	buf, err := ring.OpenConsumer(region.Bytes(), uint64(handshake.Capacity))
	if err != nil {
		region.Close()
		return err
	}

	controlConnRaw, err := dialer.DialContext(ctx, "unix", c.cfg.GRPCSockPath)
	if err != nil {
		region.Close()
		return &rberr.IoError{Op: "dial control", Err: err}
	}

	c.lastProbeUnix.Store(time.Now().UnixNano())
	var conn *controlConn
	conn = newControlConn(controlConnRaw, c.opts.log, func(seq uint64) {
		c.lastProbeUnix.Store(time.Now().UnixNano())
		conn.sendAck(seq)
	}, nil)
	go func() {
		if err := conn.run(context.Background()); err != nil {
			c.opts.log.Debugw("control connection closed", "error", err)
		}
	}()

	c.mu.Lock()
	c.region = region
	c.buf = buf
	c.control = conn
	c.mu.Unlock()

	return nil
}

func (cc *consumerConnector) Heartbeat(ctx context.Context) error {
	c := (*Consumer)(cc)

	last := time.Unix(0, c.lastProbeUnix.Load())
	if time.Since(last) > 2*c.cfg.HeartbeatInterval {
		return rberr.ErrDisconnected
	}
	return nil
}

func (cc *consumerConnector) Teardown() {
	c := (*Consumer)(cc)

	c.mu.Lock()
	region, ctrl := c.region, c.control
	c.region, c.buf, c.control = nil, nil, nil
	c.mu.Unlock()

	if ctrl != nil {
		ctrl.close()
	}
	if region != nil {
		region.Close()
	}
}
