package shmringbuf

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GreptimeTeam/shm-ringbuf/internal/control"
	"github.com/GreptimeTeam/shm-ringbuf/internal/fdpass"
	"github.com/GreptimeTeam/shm-ringbuf/internal/rberr"
	"github.com/GreptimeTeam/shm-ringbuf/internal/registry"
	"github.com/GreptimeTeam/shm-ringbuf/internal/ring"
	"github.com/GreptimeTeam/shm-ringbuf/internal/session"
	"github.com/GreptimeTeam/shm-ringbuf/internal/shm"
)

// Producer publishes messages into a shared-memory ring and, when
// result-fetch is enabled, correlates consumer ResultReports back to
// SendAndAwait callers via a subscription registry.
type Producer struct {
	cfg  *Config
	opts *options

	fdpassListener  net.Listener
	controlListener net.Listener

	registry *registry.Registry
	session  *session.Session

	mu      sync.Mutex
	region  *shm.Region
	buf     *ring.Ring
	control *controlConn

	nextMsgID    atomic.Uint32
	heartbeatSeq atomic.Uint64
}

// NewProducer opens both listening sockets named in cfg and returns a
// Producer ready to Run. The shared-memory region itself is created fresh
// on every (re)connection: a dropped fd-pass socket never rebinds to the
// old region.
func NewProducer(cfg *Config, opts ...Option) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	os.Remove(cfg.FDPassSockPath)
	fdpassLn, err := net.Listen("unix", cfg.FDPassSockPath)
	if err != nil {
		return nil, &rberr.IoError{Op: "listen fdpass", Err: err}
	}

	os.Remove(cfg.GRPCSockPath)
	controlLn, err := net.Listen("unix", cfg.GRPCSockPath)
	if err != nil {
		fdpassLn.Close()
		return nil, &rberr.IoError{Op: "listen control", Err: err}
	}

	p := &Producer{
		cfg:             cfg,
		opts:            o,
		fdpassListener:  fdpassLn,
		controlListener: controlLn,
		registry:        registry.New(cfg.SubscriptionTTL),
	}
	p.session = session.New(session.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectInterval: cfg.ReconnectInterval,
	}, (*producerConnector)(p), o.log, func() {
		p.registry.Drain(rberr.ErrDisconnected)
	})

	return p, nil
}

// Run drives the session state machine and the subscription registry's
// expiry ticker until ctx is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.ExpiredCheckInterval)
	defer ticker.Stop()

	done := make(chan error, 1)
	go func() { done <- p.session.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			<-done
			p.fdpassListener.Close()
			p.controlListener.Close()
			return ctx.Err()
		case <-ticker.C:
			p.registry.Tick(time.Now())
		case err := <-done:
			p.fdpassListener.Close()
			p.controlListener.Close()
			return err
		}
	}
}

// Send frames payload and publishes it, assigning the next msg_id.
func (p *Producer) Send(payload []byte) (uint32, error) {
	p.mu.Lock()
	buf := p.buf
	p.mu.Unlock()

	if buf == nil {
		return 0, rberr.ErrDisconnected
	}

	msgID := p.nextMsgID.Add(1)
	if err := buf.Publish(payload, msgID, p.cfg.EnableChecksum); err != nil {
		return 0, err
	}
	return msgID, nil
}

// SendAndAwait publishes payload and blocks until the consumer's
// ResultReport arrives, ttl elapses, or the session drops. Requires
// EnableResultFetch.
func (p *Producer) SendAndAwait(ctx context.Context, payload []byte, ttl time.Duration) (*Reply, error) {
	if !p.cfg.EnableResultFetch {
		return nil, &rberr.InvalidParameterError{Detail: "result-fetch is not enabled for this producer"}
	}

	p.mu.Lock()
	buf := p.buf
	p.mu.Unlock()
	if buf == nil {
		return nil, rberr.ErrDisconnected
	}

	msgID := p.nextMsgID.Add(1)
	waiter, err := p.registry.Register(msgID, ttl)
	if err != nil {
		return nil, err
	}

	if err := buf.Publish(payload, msgID, p.cfg.EnableChecksum); err != nil {
		p.registry.Deliver(msgID, registry.Result{Err: err})
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-waiterChan(waiter):
		if res.Err != nil {
			return nil, res.Err
		}
		return &Reply{Status: res.Status, Payload: res.Payload}, nil
	}
}

func waiterChan(w *registry.Waiter) <-chan registry.Result {
	ch := make(chan registry.Result, 1)
	go func() { ch <- w.Await() }()
	return ch
}

// Close shuts down both listening sockets. It does not block for Run to
// return; cancel Run's context for that.
func (p *Producer) Close() error {
	p.fdpassListener.Close()
	p.controlListener.Close()
	return nil
}

// producerConnector adapts Producer to session.Connector.
type producerConnector Producer

func (c *producerConnector) Connect(ctx context.Context) error {
	p := (*Producer)(c)

	size := int(p.cfg.RingBufLen.Bytes()) + ring.HeaderSize
	region, err := shm.Create(size, p.cfg.BackedFilePath)
	if err != nil {
		return err
	}

	buf, err := ring.NewProducer(region.Bytes())
	if err != nil {
		region.Close()
		return err
	}

	fdpassConn, err := acceptCtx(ctx, p.fdpassListener)
	if err != nil {
		region.Close()
		return err
	}
	unixConn, ok := fdpassConn.(*net.UnixConn)
	if !ok {
		fdpassConn.Close()
		region.Close()
		return &rberr.InvalidParameterError{Detail: "fdpass socket is not a unix socket"}
	}

	err = fdpass.Send(unixConn, region.FD(), uint32(buf.Capacity()), p.cfg.EnableChecksum)
	unixConn.Close()
	if err != nil {
		region.Close()
		return err
	}

	controlRaw, err := acceptCtx(ctx, p.controlListener)
	if err != nil {
		region.Close()
		return err
	}

	cc := newControlConn(controlRaw, p.opts.log, nil, func(report control.ResultReport) {
		p.registry.Deliver(report.MsgID, registry.Result{Status: report.Status, Payload: report.Payload})
	})
	go func() {
		if err := cc.run(context.Background()); err != nil {
			p.opts.log.Debugw("control connection closed", "error", err)
		}
	}()

	p.mu.Lock()
	p.region = region
	p.buf = buf
	p.control = cc
	p.mu.Unlock()

	return nil
}

func (c *producerConnector) Heartbeat(ctx context.Context) error {
	p := (*Producer)(c)

	p.mu.Lock()
	cc := p.control
	p.mu.Unlock()
	if cc == nil {
		return rberr.ErrDisconnected
	}

	seq := p.heartbeatSeq.Add(1)
	if err := cc.sendProbe(seq); err != nil {
		return err
	}

	deadline, cancel := context.WithTimeout(ctx, heartbeatTimeout)
	defer cancel()
	return cc.waitAck(deadline, seq)
}

func (c *producerConnector) Teardown() {
	p := (*Producer)(c)

	p.mu.Lock()
	region, ctrl := p.region, p.control
	p.region, p.buf, p.control = nil, nil, nil
	p.mu.Unlock()

	if ctrl != nil {
		ctrl.close()
	}
	if region != nil {
		region.Close()
	}
}

// acceptCtx accepts one connection from ln, or returns ctx.Err() if ctx is
// cancelled first. The Accept goroutine is left running in the background
// when ctx wins the race; it will exit once a connection arrives or ln is
// closed.
func acceptCtx(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, &rberr.IoError{Op: fmt.Sprintf("accept %s", ln.Addr()), Err: r.err}
		}
		return r.conn, nil
	}
}
