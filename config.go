package shmringbuf

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/GreptimeTeam/shm-ringbuf/internal/logging"
	"github.com/GreptimeTeam/shm-ringbuf/internal/rberr"
)

// Config holds every external knob. Both Producer and Consumer take a
// *Config; fields that don't apply to one side are simply ignored by it.
type Config struct {
	// Logging is the logging subsystem configuration.
	Logging logging.Config `yaml:"logging"`

	// GRPCSockPath is the Unix socket path for the control channel.
	GRPCSockPath string `yaml:"grpc_sock_path"`
	// FDPassSockPath is the Unix socket path for the one-shot fd-pass
	// handshake.
	FDPassSockPath string `yaml:"fdpass_sock_path"`
	// RingBufLen is the data-area size of the shared-memory ring. Must be
	// a power of two and a multiple of 16 bytes.
	RingBufLen datasize.ByteSize `yaml:"ringbuf_len"`
	// HeartbeatInterval is how often the producer probes the consumer on
	// the control channel.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// EnableResultFetch turns on ResultReport delivery from consumer to
	// producer.
	EnableResultFetch bool `yaml:"enable_result_fetch"`
	// ReconnectInterval is the fixed delay between reconnection attempts
	// after a session drops.
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	// ExpiredCheckInterval is how often the subscription registry scans
	// for timed-out waiters.
	ExpiredCheckInterval time.Duration `yaml:"expired_check_interval"`
	// SubscriptionTTL is the default TTL for a registered waiter when the
	// caller does not supply one explicitly.
	SubscriptionTTL time.Duration `yaml:"subscription_ttl"`
	// EnableChecksum turns on the payload CRC on published frames. The
	// frame header CRC is always written and validated regardless.
	EnableChecksum bool `yaml:"enable_checksum"`
	// BackedFilePath is the file backing the shared-memory region on
	// platforms without memfd_create.
	BackedFilePath string `yaml:"backed_file_path"`
}

// minRingBufLen is the smallest ring data area this module will construct,
// matching internal/ring's own minimum.
const minRingBufLen = 32

// DefaultConfig returns a Config populated with conservative production
// defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging:              logging.Config{Level: zapcore.InfoLevel},
		GRPCSockPath:         "/tmp/grpc.sock",
		FDPassSockPath:       "/tmp/fdpass.sock",
		RingBufLen:           1 * datasize.MB,
		HeartbeatInterval:    5 * time.Second,
		EnableResultFetch:    true,
		ReconnectInterval:    3 * time.Second,
		ExpiredCheckInterval: time.Second,
		SubscriptionTTL:      3 * time.Second,
		EnableChecksum:       false,
		BackedFilePath:       "/tmp/shm.sock",
	}
}

// LoadConfig reads and parses a YAML configuration file, starting from
// DefaultConfig so any field the file omits keeps its default value.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants internal/ring and the session state
// machine both rely on: a ring size that's constructible at all, and
// strictly positive timing intervals.
func (c *Config) Validate() error {
	size := uint64(c.RingBufLen.Bytes())
	if size < minRingBufLen {
		return &InvalidParameterError{Detail: "ringbuf_len below minimum useful ring size"}
	}
	if size&(size-1) != 0 {
		return &InvalidParameterError{Detail: "ringbuf_len must be a power of two"}
	}
	if size%16 != 0 {
		return &InvalidParameterError{Detail: "ringbuf_len must be a multiple of 16"}
	}
	if c.HeartbeatInterval <= 0 {
		return &InvalidParameterError{Detail: "heartbeat_interval must be positive"}
	}
	if c.ReconnectInterval <= 0 {
		return &InvalidParameterError{Detail: "reconnect_interval must be positive"}
	}
	if c.ExpiredCheckInterval <= 0 {
		return &InvalidParameterError{Detail: "expired_check_interval must be positive"}
	}
	if c.SubscriptionTTL <= 0 {
		return &InvalidParameterError{Detail: "subscription_ttl must be positive"}
	}

	for _, path := range []string{c.GRPCSockPath, c.FDPassSockPath, c.BackedFilePath} {
		if err := validateOSString(path); err != nil {
			return err
		}
	}
	return nil
}

// validateOSString checks a string destined for a syscall (a socket or
// memfd-backing path) the way the Rust original's CString::new /
// String::from_utf8 conversions would: an embedded NUL terminates the
// string early at the syscall boundary, and invalid UTF-8 can't round-trip
// through a YAML-sourced string at all.
func validateOSString(s string) error {
	if !utf8.ValidString(s) {
		return &rberr.FromUTF8Error{Err: fmt.Errorf("%q is not valid UTF-8", s)}
	}
	if strings.IndexByte(s, 0) >= 0 {
		return &rberr.NulZeroError{Err: fmt.Errorf("%q contains an internal NUL byte", s)}
	}
	return nil
}
