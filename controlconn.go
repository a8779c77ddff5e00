package shmringbuf

import (
	"context"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/GreptimeTeam/shm-ringbuf/internal/control"
	"github.com/GreptimeTeam/shm-ringbuf/internal/rberr"
)

// controlConn wraps one control-channel socket, demuxing
// the length-prefixed envelope stream into heartbeat acks (delivered to
// whoever is waiting in waitAck), heartbeat probes (handed to onProbe so
// the receiving side can echo them), and result reports (handed to
// onReport).
type controlConn struct {
	conn net.Conn
	log  *zap.SugaredLogger

	onProbe  func(seq uint64)
	onReport func(control.ResultReport)

	acks chan uint64
}

func newControlConn(conn net.Conn, log *zap.SugaredLogger, onProbe func(uint64), onReport func(control.ResultReport)) *controlConn {
	return &controlConn{
		conn:     conn,
		log:      log,
		onProbe:  onProbe,
		onReport: onReport,
		acks:     make(chan uint64, 8),
	}
}

// run reads envelopes until the connection errors or ctx is cancelled,
// dispatching each to the appropriate handler. It returns the read error.
func (c *controlConn) run(ctx context.Context) error {
	for {
		env, err := control.ReadEnvelope(c.conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF {
				return rberr.ErrDisconnected
			}
			return err
		}

		switch env.Kind {
		case control.KindHeartbeatProbe:
			if c.onProbe != nil {
				c.onProbe(env.Seq)
			}
		case control.KindHeartbeatAck:
			select {
			case c.acks <- env.Seq:
			default:
				// Drop a stale ack rather than block the read loop; the
				// waiter for it has already timed out.
			}
		case control.KindResultReport:
			if c.onReport != nil {
				c.onReport(env.Report)
			}
		}
	}
}

func (c *controlConn) sendProbe(seq uint64) error {
	return control.WriteEnvelope(c.conn, control.Envelope{Kind: control.KindHeartbeatProbe, Seq: seq})
}

func (c *controlConn) sendAck(seq uint64) error {
	return control.WriteEnvelope(c.conn, control.Envelope{Kind: control.KindHeartbeatAck, Seq: seq})
}

func (c *controlConn) sendReport(report control.ResultReport) error {
	return control.WriteEnvelope(c.conn, control.Envelope{Kind: control.KindResultReport, Report: report})
}

// waitAck blocks until an ack for seq arrives or ctx is cancelled. Acks for
// stale sequence numbers are discarded.
func (c *controlConn) waitAck(ctx context.Context, seq uint64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case got := <-c.acks:
			if got == seq {
				return nil
			}
		}
	}
}

func (c *controlConn) close() error {
	return c.conn.Close()
}

// heartbeatTimeout bounds how long a single probe/ack round trip may take
// before it counts as a missed heartbeat.
const heartbeatTimeout = 2 * time.Second
