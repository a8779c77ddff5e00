package shmringbuf

import "github.com/GreptimeTeam/shm-ringbuf/internal/rberr"

// Error taxonomy. Every kind below is defined in internal/rberr and
// re-exported here so callers can use errors.As against the public types
// without reaching into an internal package.
type (
	IoError               = rberr.IoError
	InvalidParameterError = rberr.InvalidParameterError
	MmapAnonymousError    = rberr.MmapAnonymousError
	MmapError             = rberr.MmapError
	MemFdError            = rberr.MemFdError
	NotEnoughSpaceError   = rberr.NotEnoughSpaceError
	FromUTF8Error         = rberr.FromUTF8Error
	NulZeroError          = rberr.NulZeroError
	CorruptionError       = rberr.CorruptionError
)

// Sentinel errors for the expected, non-typed outcomes of the public API.
var (
	ErrEmpty        = rberr.ErrEmpty
	ErrTimeout      = rberr.ErrTimeout
	ErrDisconnected = rberr.ErrDisconnected
	ErrClosed       = rberr.ErrClosed
)
