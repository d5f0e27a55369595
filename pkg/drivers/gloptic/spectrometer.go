// Package gloptic drives the GL Optic Touch spectrometer through the
// SpectroSoft TCP endpoint. The instrument replies with one XML
// document per measurement instead of terminated text lines.
package gloptic

import (
	"fmt"
	"net"
	"os"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"benchlab/pkg/instrument"
	"benchlab/pkg/transport"
)

const (
	deviceName   = "GL Optic Touch"
	channelCount = 1

	// DefaultAddr is the endpoint SpectroSoft listens on. Use netstat
	// in case it differs for your equipment.
	DefaultAddr = "127.0.0.1:12001"

	writePrefix = "<"
	writeTerm   = " />"
	readBuffer  = 32768

	// measRequest is the fixed, parameterized measurement request.
	// With auto="on" the integration_time value is ignored.
	measRequest = `request name="measure" beep="on" mode="direct" integration_time="5000" repeat_count="1" auto="on"`
)

// dialTimeout doubles as the read timeout. It has to stay long:
// extremely dim light sources can push the auto integration time up to
// roughly 15 seconds before a result arrives.
const dialTimeout = 20 * time.Second

// Conn is the slice of the TCP transport this driver needs. Tests
// substitute a scripted implementation.
type Conn interface {
	Write(p []byte) error
	ReadChunk(max int) ([]byte, error)
	Close() error
}

// Spectrometer takes single-shot spectral measurements. It is an
// input-only instrument: SetOutput reports ErrNotSupported, and Beep
// does too since the device can only beep while measuring.
type Spectrometer struct {
	addr   string
	logger log.FieldLogger
	dial   func() (Conn, error)
	conn   Conn
	id     string

	// dumpPrefix, when set, persists every raw measurement document to
	// a timestamped XML file with that prefix.
	dumpPrefix string
	dumpSet    bool
}

type Option func(*Spectrometer)

// WithLogger sets the logger for lifecycle messages.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Spectrometer) { s.logger = l }
}

// WithDialer overrides how the connection is opened.
func WithDialer(dial func() (Conn, error)) Option {
	return func(s *Spectrometer) { s.dial = dial }
}

// WithDumpPrefix enables dumping of every raw measurement document to
// "<prefix><timestamp>.xml".
func WithDumpPrefix(prefix string) Option {
	return func(s *Spectrometer) {
		s.dumpPrefix = prefix
		s.dumpSet = true
	}
}

func New(addr string, opts ...Option) *Spectrometer {
	s := &Spectrometer{
		addr: addr,
		id:   "UNKNOWN",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("device", deviceName)
	}
	if s.dial == nil {
		s.dial = func() (Conn, error) {
			return transport.DialTCP(addr, dialTimeout)
		}
	}
	return s
}

// Initialize connects to the SpectroSoft endpoint. A refused connection
// is surfaced with guidance rather than retried.
func (s *Spectrometer) Initialize() error {
	if s.conn != nil {
		return nil
	}

	conn, err := s.dial()
	if err != nil {
		return fmt.Errorf("could not connect to SpectroSoft at %s: %w. Verify that the SpectroSoft "+
			"software is running in the background (a hardware USB key is required to run it)", s.addr, err)
	}

	s.conn = conn
	s.id = s.addr
	if ra, ok := conn.(interface{ RemoteAddr() net.Addr }); ok {
		s.id = ra.RemoteAddr().String()
	}
	s.logger.Infof("connected to SpectroSoft at %s", s.id)
	return nil
}

func (s *Spectrometer) IDN() (string, error) {
	return fmt.Sprintf("%s (%s)", deviceName, s.id), nil
}

func (s *Spectrometer) Beep() error {
	return fmt.Errorf("%w: this device can only beep while taking a measurement", instrument.ErrNotSupported)
}

// GetInput triggers a measurement and returns the result parameters as
// readings, ordered by parameter name. The full document, including the
// sampled spectrum, is available through Measure.
func (s *Spectrometer) GetInput(channel int) ([]instrument.Reading, error) {
	if channel != 1 {
		return nil, &instrument.ChannelError{Channel: channel, Max: channelCount}
	}

	m, err := s.Measure()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(m.Results))
	for name := range m.Results {
		names = append(names, name)
	}
	sort.Strings(names)

	readings := make([]instrument.Reading, 0, len(names))
	for _, name := range names {
		// The document carries no unit information, the parameter name
		// is the closest thing to one.
		readings = append(readings, instrument.Reading{Value: m.Results[name], Unit: name})
	}
	return readings, nil
}

// Measure performs one single-shot measurement and parses the XML reply.
func (s *Spectrometer) Measure() (*Measurement, error) {
	if s.conn == nil {
		return nil, instrument.ErrNotConnected
	}

	frame := writePrefix + measRequest + writeTerm
	if err := s.conn.Write([]byte(frame)); err != nil {
		return nil, err
	}

	doc, err := s.conn.ReadChunk(readBuffer)
	if err != nil {
		return nil, fmt.Errorf("could not obtain measurement data from the spectrometer "+
			"(check the USB connection between PC and spectrometer): %w", err)
	}

	if s.dumpSet {
		if err := s.dumpDocument(doc); err != nil {
			s.logger.Warnf("measurement dump failed: %v", err)
		}
	}

	return parseMeasurement(doc)
}

func (s *Spectrometer) SetOutput(channel int, p instrument.OutputParams) error {
	return fmt.Errorf("%w: the measurement request is fixed per model, not a runtime output", instrument.ErrNotSupported)
}

func (s *Spectrometer) Finalize() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.logger.Infof("released resource: %s", s.id)
	return err
}

func (s *Spectrometer) dumpDocument(doc []byte) error {
	stamp := time.Now().Format("2006_01_02_150405")
	name := s.dumpPrefix + stamp + ".xml"
	if err := os.WriteFile(name, doc, 0o644); err != nil {
		return err
	}
	s.logger.Infof("dumped measurement to %s", name)
	return nil
}
