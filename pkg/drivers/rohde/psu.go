// Package rohde drives the Rohde & Schwarz HMP series bench power
// supplies (HMP2020, HMP2030, HMP4040).
package rohde

import (
	"fmt"
	"strings"
	"time"

	"benchlab/pkg/instrument"
	"benchlab/pkg/transport"
)

var framing = instrument.Framing{
	WriteTerm:    "\n",
	ReadTerm:     "\n",
	BaudRate:     9600,
	ReadTimeout:  time.Second,
	WriteTimeout: time.Second,
}

// PSU is a programmable multi-channel power supply. The engage and
// disengage sequencing is done by the shared output engine; this
// package supplies only the HMP command grammar.
type PSU struct {
	*instrument.Core
	engine *instrument.Engine
}

// NewHMP4040 builds a driver for the 4-channel HMP4040.
func NewHMP4040(device string, opts ...instrument.Option) *PSU {
	return newPSU("R&S HMP4040", 4, device, opts)
}

// NewHMP2030 builds a driver for the 3-channel HMP2030.
func NewHMP2030(device string, opts ...instrument.Option) *PSU {
	return newPSU("R&S HMP2030", 3, device, opts)
}

// NewHMP2020 builds a driver for the 2-channel HMP2020.
func NewHMP2020(device string, opts ...instrument.Option) *PSU {
	return newPSU("R&S HMP2020", 2, device, opts)
}

func newPSU(name string, channels int, device string, opts []instrument.Option) *PSU {
	opts = append([]instrument.Option{
		instrument.WithDialer(transport.NewSerialDialer(device)),
	}, opts...)
	core := instrument.NewCore(name, channels, framing, opts...)
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

// GetInput returns the measured voltage and current on a channel.
func (p *PSU) GetInput(channel int) ([]instrument.Reading, error) {
	if err := p.ValidateChannels(channel); err != nil {
		return nil, err
	}

	if err := p.Write(fmt.Sprintf("INST:NSEL %d", channel)); err != nil {
		return nil, err
	}
	voltage, err := p.Query("MEAS:VOLT?")
	if err != nil {
		return nil, err
	}
	current, err := p.Query("MEAS:CURR?")
	if err != nil {
		return nil, err
	}

	return []instrument.Reading{
		{Value: voltage, Unit: "Volt"},
		{Value: current, Unit: "Amp"},
	}, nil
}

// SetOutput applies voltage and current limits on a channel. Both
// set-points go out in a single message to minimize the delay between
// them; the device documentation warns that their execution order is
// then not guaranteed.
func (p *PSU) SetOutput(channel int, params instrument.OutputParams) error {
	if err := p.ValidateChannels(channel); err != nil {
		return err
	}

	p.Trace(fmt.Sprintf("setting ch:%d to %g Volt / %g Amp", channel, params.Voltage, params.Current))
	if err := p.Write(fmt.Sprintf("INST:NSEL %d", channel)); err != nil {
		return err
	}
	return p.Write(fmt.Sprintf("VOLT %g%sCURR %g", params.Voltage, framing.WriteTerm, params.Current))
}

func (p *PSU) EngageOutput(channels []int, seekPermission bool) (int, error) {
	return p.engine.Engage(channels, seekPermission)
}

func (p *PSU) DisengageOutput(channels ...int) error {
	return p.engine.Disengage(channels...)
}

// dialect is the HMP command grammar. Channels are armed through a
// select-then-activate pair and power is applied with the single
// general output command. The HMP does not support semicolon command
// separation, so batched messages chain commands with the write
// terminator instead.
type dialect struct{}

func (dialect) ArmCommands(channel int) []string {
	return []string{
		fmt.Sprintf("INST:NSEL %d", channel),
		"OUTP:SEL 1",
	}
}

func (dialect) DisarmMessage(channels []int, term string) string {
	var b strings.Builder
	for _, ch := range channels {
		fmt.Fprintf(&b, "INST:NSEL %d%sOUTP:SEL 0%s", ch, term, term)
	}
	// The session appends the final terminator.
	return strings.TrimSuffix(b.String(), term)
}

func (dialect) EngageMessage(channels []int, term string) string {
	if len(channels) == 0 {
		return ""
	}
	return "OUTP:GEN 1"
}

func (dialect) DisengageAllCommand() string {
	return "OUTP:GEN 0"
}

// DisarmAfterShutdown is true for the HMP: channel activation is hidden
// from the caller entirely, so the global shutdown is followed by
// deactivating every channel's output stage.
func (dialect) DisarmAfterShutdown() bool {
	return true
}

func (dialect) Setpoint(q instrument.Querier, channel int) (string, string, error) {
	if err := q.Write(fmt.Sprintf("INST:NSEL %d", channel)); err != nil {
		return "", "", err
	}
	voltage, err := q.Query("VOLT?")
	if err != nil {
		return "", "", err
	}
	current, err := q.Query("CURR?")
	if err != nil {
		return "", "", err
	}
	return voltage, current, nil
}
