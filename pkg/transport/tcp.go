package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"benchlab/pkg/instrument"
)

// drainTimeout bounds the wait for follow-on segments of a reply that
// has already started arriving.
const drainTimeout = 200 * time.Millisecond

// TCP is a socket transport for network-attached instruments.
type TCP struct {
	conn        net.Conn
	readTimeout time.Duration
}

// NewTCPDialer returns a dialer connecting to the given host:port
// address. The framing read timeout doubles as the dial timeout.
func NewTCPDialer(addr string) instrument.Dialer {
	return func(f instrument.Framing) (instrument.Transport, error) {
		conn, err := net.DialTimeout("tcp", addr, f.ReadTimeout)
		if err != nil {
			return nil, err
		}
		return &TCP{conn: conn, readTimeout: f.ReadTimeout}, nil
	}
}

// DialTCP connects directly, for callers that need the concrete type.
func DialTCP(addr string, readTimeout time.Duration) (*TCP, error) {
	conn, err := net.DialTimeout("tcp", addr, readTimeout)
	if err != nil {
		return nil, err
	}
	return &TCP{conn: conn, readTimeout: readTimeout}, nil
}

// RemoteAddr returns the peer address of the open connection.
func (t *TCP) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *TCP) Write(p []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.readTimeout)); err != nil {
		return err
	}
	_, err := t.conn.Write(p)
	return err
}

// ReadUntil reads byte-wise until the delimiter is observed or the read
// deadline expires.
func (t *TCP) ReadUntil(delim []byte) ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
		return nil, err
	}
	var buf []byte
	one := make([]byte, 1)
	for {
		n, err := t.conn.Read(one)
		if err != nil {
			return buf, wrapTimeout(err, delim)
		}
		if n > 0 {
			buf = append(buf, one[0])
			if bytes.HasSuffix(buf, delim) {
				return buf, nil
			}
		}
	}
}

// ReadChunk reads whatever frame the peer sends next, up to max bytes.
// Used by instruments that reply with one self-contained document
// instead of a terminated line. A large document can span several TCP
// segments, so after the first read it keeps reading until the peer
// goes quiet, closes, or the buffer is full.
func (t *TCP) ReadChunk(max int) ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, max)
	total, err := t.conn.Read(buf)
	if err != nil {
		return nil, wrapTimeout(err, nil)
	}

	for total < max {
		if err := t.conn.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
			return nil, err
		}
		n, err := t.conn.Read(buf[total:])
		total += n
		if err != nil {
			var netErr net.Error
			if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}
	return buf[:total], nil
}

func (t *TCP) Close() error {
	return t.conn.Close()
}

func wrapTimeout(err error, delim []byte) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if delim != nil {
			return fmt.Errorf("%w: no %q terminator received", instrument.ErrTimeout, delim)
		}
		return fmt.Errorf("%w: no data received", instrument.ErrTimeout)
	}
	return err
}
