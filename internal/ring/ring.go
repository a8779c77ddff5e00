package ring

import (
	"github.com/GreptimeTeam/shm-ringbuf/internal/rberr"
)

// Frame is a message observed by Peek. Payload is a zero-copy view into
// the shared region; it is valid until the matching call to Ack (after
// which the producer may overwrite that slot) and is safe to read again
// from a repeated Peek call made before Ack.
type Frame struct {
	MsgID   uint32
	Payload []byte

	required uint32
}

// Publish frames payload with msgID (assigned by the caller — the ring
// itself never generates ids) and writes it into the ring. It returns
// *rberr.NotEnoughSpaceError, unmodified, when the ring lacks room; a
// payload too large to ever fit surfaces as a persistent NotEnoughSpace on
// every retry rather than a distinct error.
func (r *Ring) Publish(payload []byte, msgID uint32, enableChecksum bool) error {
	length := uint32(len(payload))
	required := framedSize(length)

	for {
		produce := r.produceOffset().Load()
		consume := r.consumeOffset().Load()
		remaining := uint32(r.capacity - (produce - consume))

		if remaining < required {
			return &rberr.NotEnoughSpaceError{Remaining: remaining, Expected: required}
		}

		pos := produce % r.capacity
		if pos+uint64(required) > r.capacity {
			// Never split a frame: wrap to the start of the data area.
			// tail < required <= remaining always holds here (the
			// branch is only taken when pos+required exceeds capacity,
			// and the space check above passed), so this is always
			// safe without a further space check.
			tail := uint32(r.capacity - pos)
			if tail >= blockHeaderSize {
				hdr := blockHeader{
					length: tail - blockHeaderSize,
					msgID:  0,
					flags:  flagWrap,
				}
				hdr.headerCRC = computeHeaderCRC(hdr.length, hdr.msgID)
				putBlockHeader(r.data[pos:], hdr)
			}
			r.produceOffset().Store(produce + uint64(tail))
			continue
		}

		hdr := blockHeader{
			length: length,
			msgID:  msgID,
		}
		if enableChecksum {
			hdr.flags |= flagChecksum
			hdr.payloadCRC = computePayloadCRC(payload)
		}
		hdr.headerCRC = computeHeaderCRC(hdr.length, hdr.msgID)

		putBlockHeader(r.data[pos:], hdr)
		copy(r.data[pos+blockHeaderSize:], payload)

		r.produceOffset().Store(produce + uint64(required))
		return nil
	}
}

// Peek returns the next unconsumed frame without advancing the consume
// cursor. It returns rberr.ErrEmpty when the ring has nothing to read, and
// a *rberr.CorruptionError — fatal to the owning session — on a CRC
// mismatch.
func (r *Ring) Peek() (*Frame, error) {
	for {
		produce := r.produceOffset().Load()
		consume := r.consumeOffset().Load()

		if produce == consume {
			return nil, rberr.ErrEmpty
		}

		pos := consume % r.capacity
		if pos+blockHeaderSize > r.capacity {
			tail := r.capacity - pos
			r.consumeOffset().Store(consume + tail)
			continue
		}

		hdr := parseBlockHeader(r.data[pos:])
		if hdr.headerCRC != computeHeaderCRC(hdr.length, hdr.msgID) {
			return nil, &rberr.CorruptionError{Detail: "header CRC mismatch"}
		}

		if hdr.isWrap() {
			r.consumeOffset().Store(consume + blockHeaderSize + uint64(hdr.length))
			continue
		}

		payload := r.data[pos+blockHeaderSize : pos+blockHeaderSize+uint64(hdr.length)]
		if hdr.hasChecksum() {
			if hdr.payloadCRC != computePayloadCRC(payload) {
				return nil, &rberr.CorruptionError{Detail: "payload CRC mismatch"}
			}
		}

		return &Frame{
			MsgID:    hdr.msgID,
			Payload:  payload,
			required: framedSize(hdr.length),
		}, nil
	}
}

// Ack advances the consume cursor past f, the frame most recently returned
// by Peek. After Ack, f.Payload must not be read again: the producer is
// free to overwrite that region of the shared mapping.
func (r *Ring) Ack(f *Frame) {
	consume := r.consumeOffset().Load()
	r.consumeOffset().Store(consume + uint64(f.required))
}

// Consume is Peek followed immediately by Ack, returning a private copy of
// the payload so the caller can hold onto it past the Ack.
func (r *Ring) Consume() (*Frame, error) {
	f, err := r.Peek()
	if err != nil {
		return nil, err
	}

	payload := make([]byte, len(f.Payload))
	copy(payload, f.Payload)
	out := &Frame{MsgID: f.MsgID, Payload: payload, required: f.required}

	r.Ack(f)
	return out, nil
}

// Pending reports how many bytes are currently occupied in the ring: the
// sum of framed sizes of all outstanding messages.
func (r *Ring) Pending() uint64 {
	return r.produceOffset().Load() - r.consumeOffset().Load()
}
