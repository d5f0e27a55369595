// Package fluke drives the Fluke 28x handheld DMMs.
package fluke

import (
	"fmt"
	"strings"
	"time"

	"benchlab/pkg/instrument"
	"benchlab/pkg/transport"
)

const (
	deviceName   = "Fluke 28x DMM"
	channelCount = 1
)

var framing = instrument.Framing{
	WriteTerm:    "\r",
	ReadTerm:     "\r",
	BaudRate:     115200,
	ReadTimeout:  time.Second,
	WriteTimeout: time.Second,
}

// DMM is an input-only instrument; SetOutput reports ErrNotSupported.
type DMM struct {
	*instrument.Core
}

func NewDMM(device string, opts ...instrument.Option) *DMM {
	opts = append([]instrument.Option{
		instrument.WithDialer(transport.NewSerialDialer(device)),
	}, opts...)
	return &DMM{Core: instrument.NewCore(deviceName, channelCount, framing, opts...)}
}

func (d *DMM) Initialize() error {
	return d.Startup(d.IDN, d.Beep)
}

// IDN overrides the default identity exchange. The 28x acknowledges the
// ID request with a status frame (0 or 1) and pushes the actual
// identity as a second, unsolicited frame.
func (d *DMM) IDN() (string, error) {
	if _, err := d.Query("ID"); err != nil {
		return "", err
	}
	return d.ReadReply()
}

// GetInput reads the primary display. The QM reply follows the same
// ack-then-payload pattern as ID; the payload is "reading,unit".
func (d *DMM) GetInput(channel int) ([]instrument.Reading, error) {
	if err := d.ValidateChannels(channel); err != nil {
		return nil, err
	}

	if _, err := d.Query("QM"); err != nil {
		return nil, err
	}
	ans, err := d.ReadReply()
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(ans, ",", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("unexpected QM reply %q", ans)
	}
	return []instrument.Reading{{
		Value: strings.TrimSpace(parts[0]),
		Unit:  strings.TrimSpace(parts[1]),
	}}, nil
}

func (d *DMM) SetOutput(channel int, p instrument.OutputParams) error {
	return fmt.Errorf("%w: %s has no controllable output", instrument.ErrNotSupported, deviceName)
}
