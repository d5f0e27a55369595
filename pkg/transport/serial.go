// Package transport provides the concrete byte transports instruments
// are reached over: an asynchronous serial line and a TCP socket.
package transport

import (
	"bytes"
	"fmt"
	"time"

	"go.bug.st/serial"

	"benchlab/pkg/instrument"
)

// SerialPort is a serial line transport for one instrument.
type SerialPort struct {
	port        serial.Port
	readTimeout time.Duration
}

// NewSerialDialer returns a dialer opening the named serial device
// (COM3 on Windows, /dev/ttyUSB0 on Linux) with the model's framing
// constants.
func NewSerialDialer(device string) instrument.Dialer {
	return func(f instrument.Framing) (instrument.Transport, error) {
		mode := &serial.Mode{BaudRate: f.BaudRate}
		port, err := serial.Open(device, mode)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", device, err)
		}
		if err := port.SetReadTimeout(f.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", device, err)
		}
		return &SerialPort{port: port, readTimeout: f.ReadTimeout}, nil
	}
}

func (s *SerialPort) Write(p []byte) error {
	_, err := s.port.Write(p)
	return err
}

// ReadUntil reads byte-wise until the delimiter is observed. The port's
// read timeout makes Read return zero bytes when the line goes quiet,
// which surfaces as ErrTimeout. A byte delivered as the deadline
// expires is still consumed; the deadline only stops further waiting.
func (s *SerialPort) ReadUntil(delim []byte) ([]byte, error) {
	var buf []byte
	one := make([]byte, 1)
	deadline := time.Now().Add(s.readTimeout)
	for {
		n, err := s.port.Read(one)
		if err != nil {
			return buf, err
		}
		if n > 0 {
			buf = append(buf, one[0])
			if bytes.HasSuffix(buf, delim) {
				return buf, nil
			}
		}
		if n == 0 || time.Now().After(deadline) {
			return buf, fmt.Errorf("%w: no %q terminator received", instrument.ErrTimeout, delim)
		}
	}
}

func (s *SerialPort) Close() error {
	return s.port.Close()
}
