package shmringbuf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Validates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidate_RejectsNonPowerOfTwoRingBufLen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RingBufLen = 100
	var invalid *InvalidParameterError
	require.ErrorAs(t, cfg.Validate(), &invalid)
}

func TestValidate_RejectsNonPositiveIntervals(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 0
	var invalid *InvalidParameterError
	require.ErrorAs(t, cfg.Validate(), &invalid)
}

func TestValidate_RejectsNulByteInSockPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GRPCSockPath = "/tmp/grpc\x00.sock"
	var nulZero *NulZeroError
	require.ErrorAs(t, cfg.Validate(), &nulZero)
}

func TestValidate_RejectsInvalidUTF8InSockPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FDPassSockPath = "/tmp/\xff\xfe.sock"
	var fromUTF8 *FromUTF8Error
	require.ErrorAs(t, cfg.Validate(), &fromUTF8)
}

func TestLoadConfig_OverridesDefaultsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ringbuf_len: 2MB\nenable_checksum: false\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*1024*1024), uint64(cfg.RingBufLen.Bytes()))
	assert.False(t, cfg.EnableChecksum)
	// Fields not present in the file keep their defaults.
	assert.Equal(t, DefaultConfig().HeartbeatInterval, cfg.HeartbeatInterval)
}
