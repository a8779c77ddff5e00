// Package control implements the producer/consumer control channel:
// heartbeat probe/ack and, when result-fetch is enabled, ResultReport
// delivery. Framing is length-prefixed opaque records encoded with
// encoding/gob; a richer RPC framing (gRPC, protobuf) is left to an
// external collaborator rather than built here.
package control

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/GreptimeTeam/shm-ringbuf/internal/rberr"
)

// maxRecordSize bounds a single record so a corrupt or hostile length
// prefix can't force an unbounded allocation.
const maxRecordSize = 16 * 1024 * 1024

// Kind identifies the payload carried by an Envelope.
type Kind uint8

const (
	// KindHeartbeatProbe is sent by the producer every heartbeat_interval.
	KindHeartbeatProbe Kind = iota + 1
	// KindHeartbeatAck is the consumer's echo of a probe.
	KindHeartbeatAck
	// KindResultReport carries a ResultReport from consumer to producer.
	KindResultReport
)

// ResultReport is the consumer's notification that a message has been
// processed, routed back to the producer's subscription registry.
type ResultReport struct {
	MsgID   uint32
	Status  int32
	Payload []byte
}

// Envelope is one control-channel record. Seq correlates a probe with its
// ack; Report is populated only when Kind is KindResultReport.
type Envelope struct {
	Kind Kind
	Seq  uint64
	Report ResultReport
}

// WriteEnvelope gob-encodes e and writes it to w behind a 4-byte
// big-endian length prefix.
func WriteEnvelope(w io.Writer, e Envelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return &rberr.IoError{Op: "control encode", Err: err}
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))

	if _, err := w.Write(lenPrefix[:]); err != nil {
		return &rberr.IoError{Op: "control write", Err: err}
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return &rberr.IoError{Op: "control write", Err: err}
	}
	return nil
}

// ReadEnvelope reads one length-prefixed record from r and gob-decodes it.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Envelope{}, &rberr.IoError{Op: "control read", Err: err}
	}

	size := binary.BigEndian.Uint32(lenPrefix[:])
	if size > maxRecordSize {
		return Envelope{}, &rberr.InvalidParameterError{Detail: fmt.Sprintf("control record of %d bytes exceeds maximum", size)}
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, &rberr.IoError{Op: "control read", Err: err}
	}

	var e Envelope
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&e); err != nil {
		return Envelope{}, &rberr.InvalidParameterError{Detail: "malformed control record: " + err.Error()}
	}
	return e, nil
}
