package fluke

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benchlab/pkg/instrument"
)

type scriptTransport struct {
	writes  []string
	replies []string
	closed  bool
}

func (t *scriptTransport) Write(p []byte) error {
	t.writes = append(t.writes, string(p))
	return nil
}

func (t *scriptTransport) ReadUntil(delim []byte) ([]byte, error) {
	if len(t.replies) == 0 {
		return nil, instrument.ErrTimeout
	}
	reply := t.replies[0]
	t.replies = t.replies[1:]
	return []byte(reply), nil
}

func (t *scriptTransport) Close() error {
	t.closed = true
	return nil
}

func newTestDMM(t *testing.T, tr *scriptTransport) *DMM {
	t.Helper()
	// The ID request is acknowledged first, the identity itself arrives
	// as a second frame.
	tr.replies = []string{"0\r", "FLUKE 287,V1.00,12345678\r"}
	dmm := NewDMM("COM13",
		instrument.WithDialer(func(instrument.Framing) (instrument.Transport, error) { return tr, nil }),
	)
	require.NoError(t, dmm.Initialize())
	tr.writes = nil
	tr.replies = nil
	return dmm
}

func TestInitializeReadsTwoFrameIdentity(t *testing.T) {
	tr := &scriptTransport{}
	dmm := newTestDMM(t, tr)

	assert.Equal(t, "FLUKE 287,V1.00,12345678", dmm.Identity())
}

func TestGetInputSplitsReadingAndUnit(t *testing.T) {
	tr := &scriptTransport{}
	dmm := newTestDMM(t, tr)
	tr.replies = []string{"0\r", "-0.063, VDC\r"}

	readings, err := dmm.GetInput(1)
	require.NoError(t, err)

	assert.Equal(t, []string{"QM\r"}, tr.writes)
	assert.Equal(t, []instrument.Reading{{Value: "-0.063", Unit: "VDC"}}, readings)
}

func TestGetInputMalformedReply(t *testing.T) {
	tr := &scriptTransport{}
	dmm := newTestDMM(t, tr)
	tr.replies = []string{"0\r", "garbage\r"}

	_, err := dmm.GetInput(1)
	assert.Error(t, err)
}

func TestGetInputInvalidChannel(t *testing.T) {
	tr := &scriptTransport{}
	dmm := newTestDMM(t, tr)

	_, err := dmm.GetInput(2)
	var chErr *instrument.ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Empty(t, tr.writes)
}

func TestSetOutputNotSupported(t *testing.T) {
	tr := &scriptTransport{}
	dmm := newTestDMM(t, tr)

	err := dmm.SetOutput(1, instrument.OutputParams{})
	assert.ErrorIs(t, err, instrument.ErrNotSupported)
}
