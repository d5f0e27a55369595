// Package agilent drives the Agilent U12xxx dual-display handheld DMMs.
package agilent

import (
	"fmt"
	"time"

	"benchlab/pkg/instrument"
	"benchlab/pkg/transport"
)

const (
	deviceName   = "Agilent U12xxx DMM"
	channelCount = 2 // channel 1 is the primary display, channel 2 the secondary
)

var framing = instrument.Framing{
	WriteTerm:    "\r\n",
	ReadTerm:     "\r\n",
	BaudRate:     9600,
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

// GetInput reads the primary (channel 1) or secondary (channel 2)
// display. The reading and its unit come from two separate queries.
func (d *DMM) GetInput(channel int) ([]instrument.Reading, error) {
	if err := d.ValidateChannels(channel); err != nil {
		return nil, err
	}

	readingCmd, unitCmd := "FETC?", "CONF?"
	if channel == 2 {
		// With some models the secondary display is addressed with
		// " @2" instead, you may have to experiment.
		readingCmd += " @3"
		unitCmd += " @3"
	}

	reading, err := d.Query(readingCmd)
	if err != nil {
		return nil, err
	}
	unit, err := d.Query(unitCmd)
	if err != nil {
		return nil, err
	}

	// Output format strongly depends on the exact hardware model, see
	// https://sigrok.org/wiki/Agilent_U12xxx_series
	return []instrument.Reading{{Value: reading, Unit: unit}}, nil
}

func (d *DMM) SetOutput(channel int, p instrument.OutputParams) error {
	return fmt.Errorf("%w: %s has no controllable output", instrument.ErrNotSupported, deviceName)
}
