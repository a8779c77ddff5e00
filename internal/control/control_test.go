package control

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadEnvelope_Heartbeat(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteEnvelope(&buf, Envelope{Kind: KindHeartbeatProbe, Seq: 42}))

	got, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindHeartbeatProbe, got.Kind)
	assert.Equal(t, uint64(42), got.Seq)
}

func TestWriteReadEnvelope_ResultReport(t *testing.T) {
	var buf bytes.Buffer

	e := Envelope{
		Kind: KindResultReport,
		Seq:  7,
		Report: ResultReport{
			MsgID:   123,
			Status:  0,
			Payload: []byte("ok"),
		},
	}
	require.NoError(t, WriteEnvelope(&buf, e))

	got, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, e.Report, got.Report)
}

func TestReadEnvelope_MultipleRecordsInSequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEnvelope(&buf, Envelope{Kind: KindHeartbeatProbe, Seq: 1}))
	require.NoError(t, WriteEnvelope(&buf, Envelope{Kind: KindHeartbeatAck, Seq: 1}))

	first, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindHeartbeatProbe, first.Kind)

	second, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindHeartbeatAck, second.Kind)
}

func TestReadEnvelope_RejectsOversizedLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x7F, 0xFF, 0xFF, 0xFF})
	_, err := ReadEnvelope(buf)
	require.Error(t, err)
}
