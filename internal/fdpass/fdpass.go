// Package fdpass implements a one-shot handshake: the producer hands the
// consumer the shared-memory descriptor as SCM_RIGHTS ancillary data over a
// Unix domain stream socket, with its capacity and the checksum flag in the
// accompanying message body.
package fdpass

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/GreptimeTeam/shm-ringbuf/internal/rberr"
)

// Magic identifies the fd-pass body ("FDPS").
const Magic uint32 = 0x46445053

const (
	bodySize = 16

	offMagic    = 0
	offCapacity = 4
	offFlags    = 8
	offReserved = 12
)

// FlagChecksum marks that the producer has payload checksumming enabled
// for this session; the consumer must validate accordingly.
const FlagChecksum uint32 = 1 << 0

// Handshake is the body of the fd-pass message, decoded from the bytes
// that accompanied the passed descriptor.
type Handshake struct {
	Capacity uint32
	Flags    uint32
}

// ChecksumEnabled reports whether FlagChecksum is set.
func (h Handshake) ChecksumEnabled() bool { return h.Flags&FlagChecksum != 0 }

// Send writes the fd-pass body over conn with fd attached as SCM_RIGHTS
// ancillary data. Used exactly once per session; the caller closes conn
// immediately after this returns.
func Send(conn *net.UnixConn, fd int, capacity uint32, checksumEnabled bool) error {
	body := make([]byte, bodySize)
	binary.LittleEndian.PutUint32(body[offMagic:], Magic)
	binary.LittleEndian.PutUint32(body[offCapacity:], capacity)

	var flags uint32
	if checksumEnabled {
		flags |= FlagChecksum
	}
	binary.LittleEndian.PutUint32(body[offFlags:], flags)
	binary.LittleEndian.PutUint32(body[offReserved:], 0)

	oob := unix.UnixRights(fd)

	n, oobn, err := conn.WriteMsgUnix(body, oob, nil)
	if err != nil {
		return &rberr.IoError{Op: "fdpass write", Err: err}
	}
	if n != len(body) || oobn != len(oob) {
		return &rberr.IoError{Op: "fdpass write", Err: fmt.Errorf("short write: %d/%d body bytes, %d/%d oob bytes", n, len(body), oobn, len(oob))}
	}
	return nil
}

// Receive reads the fd-pass body and its attached descriptor from conn. It
// validates the magic and returns *rberr.InvalidParameterError if absent or
// malformed, and an IoError if no descriptor was attached.
func Receive(conn *net.UnixConn) (int, Handshake, error) {
	body := make([]byte, bodySize)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := conn.ReadMsgUnix(body, oob)
	if err != nil {
		return -1, Handshake{}, &rberr.IoError{Op: "fdpass read", Err: err}
	}
	if n != bodySize {
		return -1, Handshake{}, &rberr.InvalidParameterError{Detail: "fdpass body truncated"}
	}

	magic := binary.LittleEndian.Uint32(body[offMagic:])
	if magic != Magic {
		return -1, Handshake{}, &rberr.InvalidParameterError{Detail: "fdpass magic mismatch"}
	}

	fd, err := extractFD(oob[:oobn])
	if err != nil {
		return -1, Handshake{}, err
	}

	h := Handshake{
		Capacity: binary.LittleEndian.Uint32(body[offCapacity:]),
		Flags:    binary.LittleEndian.Uint32(body[offFlags:]),
	}
	return fd, h, nil
}

func extractFD(oob []byte) (int, error) {
	if len(oob) == 0 {
		return -1, &rberr.IoError{Op: "fdpass read", Err: fmt.Errorf("no ancillary data: expected an SCM_RIGHTS descriptor")}
	}

	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return -1, &rberr.IoError{Op: "fdpass read", Err: fmt.Errorf("parsing control message: %w", err)}
	}

	for _, scm := range scms {
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return fds[0], nil
		}
	}

	return -1, &rberr.IoError{Op: "fdpass read", Err: fmt.Errorf("no descriptor found in SCM_RIGHTS ancillary data")}
}
