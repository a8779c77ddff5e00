// Package ring implements a single-producer/single-consumer ring buffer
// over shared memory: a cache-aligned header stamped into the front of the
// region, followed by a power-of-two data area of length-prefixed,
// CRC-guarded frames.
package ring

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/GreptimeTeam/shm-ringbuf/internal/rberr"
)

const (
	// Magic identifies a valid region header ("RBUF").
	Magic uint32 = 0x52425546
	// Version is the current header layout version.
	Version uint32 = 1
	// HeaderSize is the fixed, cache-aligned header size in bytes.
	HeaderSize = 64
	// blockHeaderSize is the fixed size of a data-block frame header.
	blockHeaderSize = 16
)

const (
	offsetMagic    = 0
	offsetVersion  = 4
	offsetCapacity = 8
	offsetPad0     = 12
	offsetProduce  = 16
	offsetConsume  = 24
)

// minCapacity is the smallest data-area size this module will construct a
// ring over: room for one maximal wrap sentinel plus headroom, kept a
// multiple of 16 to keep tail-padding detection simple.
const minCapacity = 32

// Ring is a view over a shared-memory region (header + data area) that
// implements the publish/peek/ack protocol. A Ring is safe for concurrent
// use by exactly one producer goroutine and one consumer goroutine at a
// time; a single Ring instance never plays both roles.
type Ring struct {
	region   []byte // HeaderSize + capacity bytes, shared across processes
	data     []byte // region[HeaderSize:]
	capacity uint64
}

// pad4 returns the number of padding bytes needed to round n up to the next
// multiple of 4.
func pad4(n uint32) uint32 {
	return (4 - n%4) % 4
}

// NewProducer stamps a fresh header onto region and returns a Ring ready to
// publish into it. region's length must be HeaderSize plus a power-of-two,
// 16-byte-aligned capacity of at least minCapacity bytes.
func NewProducer(region []byte) (*Ring, error) {
	capacity, err := validateRegionSize(region)
	if err != nil {
		return nil, err
	}

	binary.LittleEndian.PutUint32(region[offsetMagic:], Magic)
	binary.LittleEndian.PutUint32(region[offsetVersion:], Version)
	binary.LittleEndian.PutUint32(region[offsetCapacity:], uint32(capacity))
	binary.LittleEndian.PutUint32(region[offsetPad0:], 0)
	binary.LittleEndian.PutUint64(region[offsetProduce:], 0)
	binary.LittleEndian.PutUint64(region[offsetConsume:], 0)

	return &Ring{
		region:   region,
		data:     region[HeaderSize:],
		capacity: capacity,
	}, nil
}

// OpenConsumer validates an existing header stamped by NewProducer and
// returns a Ring ready to peek/ack from it. expectedCapacity is the
// capacity the consumer was told about over the fd-pass channel; a
// mismatch against the header's own capacity field is rejected as
// InvalidParameter rather than silently trusted.
func OpenConsumer(region []byte, expectedCapacity uint64) (*Ring, error) {
	capacity, err := validateRegionSize(region)
	if err != nil {
		return nil, err
	}

	magic := binary.LittleEndian.Uint32(region[offsetMagic:])
	if magic != Magic {
		return nil, &rberr.InvalidParameterError{Detail: "region magic mismatch: not a valid ring buffer"}
	}

	version := binary.LittleEndian.Uint32(region[offsetVersion:])
	if version != Version {
		return nil, &rberr.InvalidParameterError{Detail: "unsupported ring buffer layout version"}
	}

	headerCapacity := uint64(binary.LittleEndian.Uint32(region[offsetCapacity:]))
	if headerCapacity != capacity {
		return nil, &rberr.InvalidParameterError{Detail: "region capacity does not match mapped size"}
	}
	if expectedCapacity != 0 && headerCapacity != expectedCapacity {
		return nil, &rberr.InvalidParameterError{Detail: "region capacity does not match fd-pass handshake"}
	}

	return &Ring{
		region:   region,
		data:     region[HeaderSize:],
		capacity: capacity,
	}, nil
}

func validateRegionSize(region []byte) (uint64, error) {
	if len(region) <= HeaderSize {
		return 0, &rberr.InvalidParameterError{Detail: "region too small for header"}
	}

	capacity := uint64(len(region) - HeaderSize)
	if capacity > uint64(^uint32(0)) {
		return 0, &rberr.InvalidParameterError{Detail: "capacity exceeds u32 range"}
	}
	if capacity < minCapacity {
		return 0, &rberr.InvalidParameterError{Detail: "capacity below minimum useful ring size"}
	}
	if capacity&(capacity-1) != 0 {
		return 0, &rberr.InvalidParameterError{Detail: "capacity must be a power of two"}
	}
	if capacity%16 != 0 {
		return 0, &rberr.InvalidParameterError{Detail: "capacity must be a multiple of 16"}
	}

	return capacity, nil
}

// Capacity returns the data-area size in bytes.
func (r *Ring) Capacity() uint64 { return r.capacity }

// produceOffset returns an atomic view of the header's produce_offset
// field. Naturally aligned within a page-aligned mmap region.
func (r *Ring) produceOffset() *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(&r.region[offsetProduce]))
}

func (r *Ring) consumeOffset() *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(&r.region[offsetConsume]))
}
