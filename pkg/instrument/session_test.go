package instrument

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
		return nil, ErrTimeout
	}
	reply := t.replies[0]
	t.replies = t.replies[1:]
	return []byte(reply), nil
}

func (t *scriptTransport) Close() error {
	t.closed = true
	return nil
}

func scriptDialer(t *scriptTransport) Dialer {
	return func(Framing) (Transport, error) { return t, nil }
}

var testFraming = Framing{
	WriteTerm:    "\r\n",
	ReadTerm:     "\r\n",
	BaudRate:     9600,
	ReadTimeout:  time.Second,
	WriteTimeout: time.Second,
}

func TestSessionWriteAppendsTerminator(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, testFraming)

	require.NoError(t, s.Write("FETC?"))
	assert.Equal(t, []string{"FETC?\r\n"}, tr.writes)
}

func TestSessionReadTrimsTerminatorAndWhitespace(t *testing.T) {
	tr := &scriptTransport{replies: []string{" +0.123 \r\n"}}
	s := NewSession(tr, testFraming)

	ans, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, "+0.123", ans)
}

func TestSessionQueryIsWriteThenRead(t *testing.T) {
	tr := &scriptTransport{replies: []string{"MOCK,ANSWER\r\n"}}
	s := NewSession(tr, testFraming)

	ans, err := s.Query("*IDN?")
	require.NoError(t, err)
	assert.Equal(t, []string{"*IDN?\r\n"}, tr.writes)
	assert.Equal(t, "MOCK,ANSWER", ans)
}

func TestSessionReadTimeoutSurfaces(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, testFraming)

	_, err := s.Read()
	assert.ErrorIs(t, err, ErrTimeout)
}
