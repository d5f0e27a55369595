package instrument

import (
	"strings"
	"time"
)

// Framing holds the per-model communication constants. The values are
// fixed per device model and never negotiated at runtime.
type Framing struct {
	WriteTerm    string // terminator appended to every outgoing command
	ReadTerm     string // terminator marking the end of a reply
	BaudRate     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Transport is the byte-oriented duplex channel a device talks through.
// Concrete implementations live in pkg/transport; tests substitute a
// scripted mock.
type Transport interface {
	Write(p []byte) error
	ReadUntil(delim []byte) ([]byte, error)
	Close() error
}

// Dialer opens a transport configured for the given framing constants.
type Dialer func(f Framing) (Transport, error)

// Session frames outgoing commands and decodes incoming frames for one
// open transport. All traffic is a strict request/response rendezvous;
// there is never more than one outstanding query.
type Session struct {
	tr      Transport
	framing Framing
}

func NewSession(tr Transport, f Framing) *Session {
	return &Session{tr: tr, framing: f}
}

// Write appends the model's write terminator and sends the command.
func (s *Session) Write(cmd string) error {
	return s.tr.Write([]byte(cmd + s.framing.WriteTerm))
}

// Read reads until the model's read terminator and returns the reply
// with the terminator and surrounding whitespace stripped.
func (s *Session) Read() (string, error) {
	raw, err := s.tr.ReadUntil([]byte(s.framing.ReadTerm))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// Query writes a command and reads the reply. This is the single
// synchronization point between request and response.
func (s *Session) Query(cmd string) (string, error) {
	if err := s.Write(cmd); err != nil {
		return "", err
	}
	return s.Read()
}

func (s *Session) Close() error {
	return s.tr.Close()
}
