// Package tti drives the TTI PL and QL series bench power supplies.
package tti

import (
	"fmt"
	"strings"
	"time"

	"benchlab/pkg/instrument"
	"benchlab/pkg/transport"
)

var framing = instrument.Framing{
	WriteTerm:    "\n",
	ReadTerm:     "\r\n",
	BaudRate:     9600,
	ReadTimeout:  time.Second,
	WriteTimeout: time.Second,
}

// qlFraming differs only in bit rate: the QL series is fixed at a
// higher baud rate by default.
var qlFraming = instrument.Framing{
	WriteTerm:    "\n",
	ReadTerm:     "\r\n",
	BaudRate:     19200,
	ReadTimeout:  time.Second,
	WriteTimeout: time.Second,
}

// PSU is a programmable power supply speaking the TTI dialect: outputs
// are engaged and disengaged by addressing channels directly in one
// batched semicolon-separated message, with no separate arm step.
type PSU struct {
	*instrument.Core
	engine *instrument.Engine
}

// New3Ch builds a driver for the 3-channel PL series supplies.
func New3Ch(device string, opts ...instrument.Option) *PSU {
	return newPSU("TTI 3ch PSU", 3, framing, device, opts)
}

// New2Ch builds a driver for the 2-channel PL series supplies.
func New2Ch(device string, opts ...instrument.Option) *PSU {
	return newPSU("TTI 2ch PSU", 2, framing, device, opts)
}

// New1Ch builds a driver for the single-channel PL series supplies.
func New1Ch(device string, opts ...instrument.Option) *PSU {
	return newPSU("TTI 1ch PSU", 1, framing, device, opts)
}

// NewQL2Ch builds a driver for the QL564TP / QL355TP.
func NewQL2Ch(device string, opts ...instrument.Option) *PSU {
	return newPSU("TTI QL 2ch PSU", 2, qlFraming, device, opts)
}

// NewQL1Ch builds a driver for the QL564P / QL355P.
func NewQL1Ch(device string, opts ...instrument.Option) *PSU {
	return newPSU("TTI QL 1ch PSU", 1, qlFraming, device, opts)
}

func newPSU(name string, channels int, f instrument.Framing, device string, opts []instrument.Option) *PSU {
	opts = append([]instrument.Option{
		instrument.WithDialer(transport.NewSerialDialer(device)),
	}, opts...)
	core := instrument.NewCore(name, channels, f, opts...)
	return &PSU{
		Core:   core,
		engine: instrument.NewEngine(core, dialect{}),
	}
}

// Initialize opens the port, performs the identity handshake and brings
// every output to the disengaged state before handing the device over.
func (p *PSU) Initialize() error {
	if err := p.Startup(p.IDN, p.Beep); err != nil {
		return err
	}
	return p.engine.Disengage()
}

// GetInput returns the measured voltage and current on a channel. The
// replies carry a trailing unit letter which is stripped.
func (p *PSU) GetInput(channel int) ([]instrument.Reading, error) {
	if err := p.ValidateChannels(channel); err != nil {
		return nil, err
	}

	voltage, err := p.Query(fmt.Sprintf("V%dO?", channel))
	if err != nil {
		return nil, err
	}
	current, err := p.Query(fmt.Sprintf("I%dO?", channel))
	if err != nil {
		return nil, err
	}

	return []instrument.Reading{
		{Value: trimUnitSuffix(voltage), Unit: "Volt"},
		{Value: trimUnitSuffix(current), Unit: "Amp"},
	}, nil
}

// SetOutput applies voltage and current limits on a channel in one
// semicolon-separated message to minimize the delay between them.
func (p *PSU) SetOutput(channel int, params instrument.OutputParams) error {
	if err := p.ValidateChannels(channel); err != nil {
		return err
	}

	p.Trace(fmt.Sprintf("setting ch:%d to %g Volt / %g Amp", channel, params.Voltage, params.Current))
	return p.Write(fmt.Sprintf("V%d %g;I%d %g", channel, params.Voltage, channel, params.Current))
}

func (p *PSU) EngageOutput(channels []int, seekPermission bool) (int, error) {
	return p.engine.Engage(channels, seekPermission)
}

func (p *PSU) DisengageOutput(channels ...int) error {
	return p.engine.Disengage(channels...)
}

func trimUnitSuffix(s string) string {
	if s == "" {
		return s
	}
	return s[:len(s)-1]
}

// dialect is the TTI command grammar. There is no separate arm step:
// the engage message addresses each requested channel with its own OPn
// token, bunched into one transmission so the supply's microcontroller
// applies them back to back instead of at serial-line pace.
type dialect struct{}

func (dialect) ArmCommands(channel int) []string {
	return nil
}

func (dialect) DisarmMessage(channels []int, term string) string {
	var b strings.Builder
	for _, ch := range channels {
		fmt.Fprintf(&b, "OP%d 0;", ch)
	}
	return b.String()
}

func (dialect) EngageMessage(channels []int, term string) string {
	var b strings.Builder
	for _, ch := range channels {
		fmt.Fprintf(&b, "OP%d 1;", ch)
	}
	return b.String()
}

func (dialect) DisengageAllCommand() string {
	return "OPALL 0"
}

func (dialect) DisarmAfterShutdown() bool {
	return false
}

// Setpoint reads the limits back. The reply format is "V <n> <nr2>", so
// the leading "V<n> " is stripped for display.
func (dialect) Setpoint(q instrument.Querier, channel int) (string, string, error) {
	voltage, err := q.Query(fmt.Sprintf("V%d?", channel))
	if err != nil {
		return "", "", err
	}
	current, err := q.Query(fmt.Sprintf("I%d?", channel))
	if err != nil {
		return "", "", err
	}
	return strings.TrimPrefix(voltage, fmt.Sprintf("V%d ", channel)),
		strings.TrimPrefix(current, fmt.Sprintf("I%d ", channel)), nil
}
