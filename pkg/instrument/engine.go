package instrument

import (
	"fmt"
)

// Querier is the slice of the session an OutputDialect needs to read a
// channel's set-points.
type Querier interface {
	Write(cmd string) error
	Query(cmd string) (string, error)
}

// OutputDialect supplies the per-model command grammar consumed by the
// output engine. Adding a PSU family means implementing this interface;
// the transition sequencing itself never changes.
type OutputDialect interface {
	// ArmCommands returns the writes that select and activate one
	// channel's output stage without applying power. Dialects whose
	// engage message addresses channels directly return nil.
	ArmCommands(channel int) []string

	// DisarmMessage returns one batched message deactivating the given
	// channels. Batching reduces the real-time skew between channels
	// caused by per-call transport latency. term is the model's write
	// terminator for use as an in-message command separator.
	DisarmMessage(channels []int, term string) string

	// EngageMessage returns the single message that applies power to
	// the armed (or directly addressed) channels. An empty string means
	// there is nothing to send.
	EngageMessage(channels []int, term string) string

	// DisengageAllCommand is the model's immediate all-outputs shutdown.
	DisengageAllCommand() string

	// DisarmAfterShutdown reports whether the model requires every
	// channel's output stage to be deactivated after the global
	// shutdown command.
	DisarmAfterShutdown() bool

	// Setpoint reads back the voltage and current limits currently set
	// on a channel, for display at the authorization gate.
	Setpoint(q Querier, channel int) (voltage, current string, err error)
}

// Engine implements the engage/disengage transition protocol shared by
// all programmable-output models. It is stateless from the caller's
// perspective: electrical truth lives in the instrument, never in a
// local cache.
type Engine struct {
	core    *Core
	dialect OutputDialect
}

func NewEngine(core *Core, dialect OutputDialect) *Engine {
	return &Engine{core: core, dialect: dialect}
}

// Engage brings exactly the requested channels to the engaged state.
//
// The transition always starts from a full disengage of every output,
// so engaging a new set can never leave previously engaged, now
// unwanted channels live. Individual channel transitions cannot be made
// simultaneous over a slow link; resetting first and bunching the final
// engage into one message keeps the window of mixed channel states as
// short as the instrument allows.
//
// With seekPermission set, the current set-points of every requested
// channel are traced and the authorization gate is consulted once. A
// declined gate disengages everything again and returns 0.
func (e *Engine) Engage(channels []int, seekPermission bool) (int, error) {
	if err := e.core.ValidateChannels(channels...); err != nil {
		return 0, err
	}
	set := sortedChannelSet(channels)

	if err := e.disengageAll(); err != nil {
		return 0, err
	}

	for _, ch := range set {
		for _, cmd := range e.dialect.ArmCommands(ch) {
			if err := e.core.Write(cmd); err != nil {
				return 0, err
			}
		}
	}

	if seekPermission {
		granted, err := e.askPermission(set)
		if err != nil {
			return 0, err
		}
		if !granted {
			e.core.Trace("skipping outputs engage")
			if err := e.disengageAll(); err != nil {
				return 0, err
			}
			return 0, nil
		}
	}

	if msg := e.dialect.EngageMessage(set, e.core.framing.WriteTerm); msg != "" {
		e.core.Trace(fmt.Sprintf("engaging outputs on channels %v", set))
		if err := e.core.Write(msg); err != nil {
			return 0, err
		}
	}
	return 1, nil
}

// Disengage removes power from the named channels. With no arguments,
// or with the full channel range, every output is shut down with the
// single all-outputs command, which is the fastest and best
// synchronized path. A proper subset is deactivated with one batched
// message, leaving the other channels untouched.
func (e *Engine) Disengage(channels ...int) error {
	if len(channels) == 0 || sameChannelSet(channels, e.core.AllChannels()) {
		return e.disengageAll()
	}

	if err := e.core.ValidateChannels(channels...); err != nil {
		return err
	}
	set := sortedChannelSet(channels)

	e.core.Trace(fmt.Sprintf("disengaging outputs on channels %v", set))
	return e.core.Write(e.dialect.DisarmMessage(set, e.core.framing.WriteTerm))
}

// disengageAll shuts down every output at once and, where the model
// requires it, deactivates the channel output stages afterwards. The
// order matters: global shutdown first, so that per-channel
// deactivation latency on the link cannot leave power briefly live on a
// deselected channel.
func (e *Engine) disengageAll() error {
	e.core.Trace("disengaging all outputs")
	if err := e.core.Write(e.dialect.DisengageAllCommand()); err != nil {
		return err
	}
	if !e.dialect.DisarmAfterShutdown() {
		return nil
	}
	msg := e.dialect.DisarmMessage(e.core.AllChannels(), e.core.framing.WriteTerm)
	if msg == "" {
		return nil
	}
	return e.core.Write(msg)
}

// askPermission traces the set-points about to be applied and consults
// the authorization gate. Declining is an expected outcome, not an
// error. Without an installed gate the engage is refused outright.
func (e *Engine) askPermission(channels []int) (bool, error) {
	e.core.Trace(fmt.Sprintf("device %s: requesting permission to engage outputs ->", e.core.Identity()))
	for _, ch := range channels {
		voltage, current, err := e.dialect.Setpoint(e.core, ch)
		if err != nil {
			return false, err
		}
		e.core.Trace(fmt.Sprintf("  ch:%d @: %s Volt / %s Amp", ch, voltage, current))
	}

	if e.core.confirm == nil {
		e.core.logger.Warn("no authorization gate installed, refusing to engage outputs")
		return false, nil
	}
	return e.core.confirm(" Are you sure you want to proceed?[y/n] > "), nil
}

func sameChannelSet(a, b []int) bool {
	as, bs := sortedChannelSet(a), sortedChannelSet(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
